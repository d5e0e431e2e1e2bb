package util

import (
	"go.uber.org/zap"

	"hearthd/internal/config"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Enable:            true,
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "hearthd",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		Platform: config.PlatformDefaults{
			SlowSetupWarningSeconds: 10,
			SlowSetupMaxWaitSeconds: 60,
			NotReadyBackoffSeconds:  30,
			NotReadyBackoffCap:      6,
			ScanIntervalMillis:      15000,
		},
		Platforms: []config.PlatformConfig{
			{
				Integration: "demo",
				Domain:      "sensor",
				Config: map[string]any{
					"sensors": 2,
				},
			},
		},
		Port: 8080,
	}
}
