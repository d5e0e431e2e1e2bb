package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level

	MQTT      MQTTConfig       `mapstructure:"mqtt"`
	Platform  PlatformDefaults `mapstructure:"platform"`
	Platforms []PlatformConfig `mapstructure:"platforms"`

	DataDir string `mapstructure:"data_dir"`
	Port    uint   `mapstructure:"port"`
	HttpLog bool   `mapstructure:"http_log"`
}

// PlatformDefaults are the hub-wide timing defaults applied to every
// platform that does not override them.
type PlatformDefaults struct {
	SlowSetupWarningSeconds uint32 `mapstructure:"slow_setup_warning_seconds"`
	SlowSetupMaxWaitSeconds uint32 `mapstructure:"slow_setup_max_wait_seconds"`
	NotReadyBackoffSeconds  uint32 `mapstructure:"not_ready_backoff_seconds"`
	NotReadyBackoffCap      uint32 `mapstructure:"not_ready_backoff_cap"`
	ScanIntervalMillis      uint32 `mapstructure:"scan_interval_millis"`
}

// PlatformConfig declares one platform to set up: which integration provides
// it, the entity domain its entities belong to and the payloads handed to the
// integration's setup function.
type PlatformConfig struct {
	Integration        string         `mapstructure:"integration"`
	Domain             string         `mapstructure:"domain"`
	Name               string         `mapstructure:"name"`
	Namespace          string         `mapstructure:"namespace"`
	ScanIntervalMillis uint32         `mapstructure:"scan_interval_millis"`
	Config             map[string]any `mapstructure:"config"`
	Discovery          map[string]any `mapstructure:"discovery"`
}

type MQTTConfig struct {
	Enable            bool `mapstructure:"enable"`
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

// PlatformName is the platform name within its domain: the explicit name when
// set, the integration name otherwise.
func (p PlatformConfig) PlatformName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Integration
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
