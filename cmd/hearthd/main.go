package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/reugn/go-quartz/quartz"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	adactor "hearthd/internal/adapter/actor"
	"hearthd/internal/config"
	"hearthd/internal/core/actor"
	"hearthd/internal/core/hub"
	"hearthd/internal/registry"
	"hearthd/internal/server"
	"hearthd/internal/util/actorutil"

	_ "hearthd/internal/integration/demo"
	_ "hearthd/internal/integration/modbus"
	_ "hearthd/internal/integration/sysmon"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// entity registry and hub
	reg, err := registry.Load(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("could not load entity registry", zap.Error(err))
	}
	h := hub.New(reg)

	// polling scheduler
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	sched := quartz.NewStdScheduler()
	sched.Start(schedCtx)

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, h, sched, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, h, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.StopFuture(pid).Wait()
	sched.Stop()
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => HEARTHD_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("HEARTHD_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("hearthd")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if cfg.MQTT.Enable {
		// check and fix base topic
		baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic

		// check and fix homeassistant discovery topic
		hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
		if err != nil {
			return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.HADiscoveryTopic = hadBaseTopic
	}

	// check bounds
	if cfg.Platform.SlowSetupWarningSeconds < 1 {
		return nil, errors.New("config param platform.slow_setup_warning_seconds should be >= 1")
	}
	if cfg.Platform.SlowSetupMaxWaitSeconds <= cfg.Platform.SlowSetupWarningSeconds {
		return nil, errors.New("config param platform.slow_setup_max_wait_seconds should be > platform.slow_setup_warning_seconds")
	}
	if cfg.Platform.NotReadyBackoffSeconds < 1 {
		return nil, errors.New("config param platform.not_ready_backoff_seconds should be >= 1")
	}
	if cfg.Platform.ScanIntervalMillis < 1000 {
		return nil, errors.New("config param platform.scan_interval_millis should be >= 1000")
	}
	for _, pc := range cfg.Platforms {
		if pc.Integration == "" || pc.Domain == "" {
			return nil, errors.New("config param platforms[] entries need integration and domain")
		}
		if pc.ScanIntervalMillis != 0 && pc.ScanIntervalMillis < 1000 {
			return nil, errors.New("config param platforms[].scan_interval_millis should be >= 1000")
		}
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(events *eventstream.EventStream) *adactor.MQTTActor {
		if !cfg.MQTT.Enable {
			return adactor.NewTestMQTTActor(cfg, events, logger)
		}
		return adactor.NewMQTTActor(cfg, events, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("data_dir", ".")
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "hearthd")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("platform.slow_setup_warning_seconds", 10)
	viper.SetDefault("platform.slow_setup_max_wait_seconds", 60)
	viper.SetDefault("platform.not_ready_backoff_seconds", 30)
	viper.SetDefault("platform.not_ready_backoff_cap", 6)
	viper.SetDefault("platform.scan_interval_millis", 15000)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
