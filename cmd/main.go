package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/DGTLMagician/hass-alarmclock/internal/alarm"
	"github.com/DGTLMagician/hass-alarmclock/internal/api"
	"github.com/DGTLMagician/hass-alarmclock/internal/clock"
	"github.com/DGTLMagician/hass-alarmclock/internal/config"
	"github.com/DGTLMagician/hass-alarmclock/internal/ha"
	"github.com/DGTLMagician/hass-alarmclock/internal/solar"
	"github.com/DGTLMagician/hass-alarmclock/internal/store"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")
	readOnly := os.Getenv("READ_ONLY") == "true"

	cfg := loadConfig(logger)
	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.APIAddr = addr
	}

	logger.Info("Starting Alarm Clock Daemon",
		zap.Bool("read_only", readOnly),
		zap.Int("alarms", len(cfg.Alarms)))

	clk := clock.NewRealClock()

	var schedule alarm.SolarSchedule
	if cfg.HasLocation() {
		schedule = solar.NewCalculator(cfg.Latitude, cfg.Longitude, logger)
	}

	registry := alarm.NewRegistry(clk, schedule, logger)
	seedAlarms(registry, cfg, logger)

	// Saved state wins over configured defaults: whatever was armed
	// before the restart is armed again afterwards.
	recorder := store.NewRecorder(store.NewFileStore(cfg.StateFile), registry, logger)
	if err := recorder.Restore(); err != nil {
		logger.Warn("Could not restore saved alarm state", zap.Error(err))
	}
	recorder.Start()

	var client *ha.Client
	var bridge *ha.Bridge
	if haURL == "" || haToken == "" {
		logger.Warn("HA_URL and HA_TOKEN are not set, running without Home Assistant")
	} else {
		client = ha.NewClient(haURL, haToken, logger)
		if err := client.Connect(); err != nil {
			logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
		}

		bridge = ha.NewBridge(client, registry, logger, readOnly)
		if err := bridge.Start(); err != nil {
			logger.Fatal("Failed to start Home Assistant bridge", zap.Error(err))
		}

		if readOnly {
			logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant")
		}
	}

	server := api.NewServer(registry, logger, cfg.APIAddr)
	server.Start()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Alarm clock daemon running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")

	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}
	if bridge != nil {
		bridge.Stop()
	}
	recorder.Stop()
	registry.Close()
	if client != nil {
		client.Disconnect()
	}
}

// loadConfig reads the configured file, falling back to defaults when the
// default file simply does not exist.
func loadConfig(logger *zap.Logger) config.Config {
	path := os.Getenv("ALARM_CONFIG")
	explicit := path != ""
	if path == "" {
		path = config.DefaultConfigFile
	}

	cfg, err := config.Load(path, logger)
	if err == nil {
		return cfg
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		logger.Info("No configuration file found, using defaults", zap.String("path", path))
		return config.Default()
	}

	logger.Fatal("Failed to load configuration", zap.String("path", path), zap.Error(err))
	return config.Config{}
}

// seedAlarms registers every configured alarm and applies its configured
// time and enablement. A bad entry is skipped, not fatal.
func seedAlarms(registry *alarm.Registry, cfg config.Config, logger *zap.Logger) {
	for _, entry := range cfg.Alarms {
		offset, err := entry.Offset()
		if err != nil {
			logger.Error("Skipping alarm with bad solar offset",
				zap.String("alarm_id", entry.ID),
				zap.Error(err))
			continue
		}

		a, err := registry.Register(alarm.Config{
			ID:            entry.ID,
			Name:          entry.Name,
			SnoozeMinutes: entry.SnoozeMinutes,
			SolarEvent:    alarm.SolarEvent(entry.SolarEvent),
			SolarOffset:   offset,
		})
		if err != nil {
			logger.Error("Failed to register alarm",
				zap.String("alarm_id", entry.ID),
				zap.Error(err))
			continue
		}

		if entry.Time == "" && !entry.Enabled {
			continue
		}
		st := alarm.StoredState{
			AlarmTime:     entry.Time,
			Enabled:       entry.Enabled,
			SnoozeMinutes: entry.SnoozeMinutes,
		}
		if err := a.Restore(st); err != nil {
			logger.Warn("Could not apply configured alarm state",
				zap.String("alarm_id", entry.ID),
				zap.Error(err))
		}
	}
}
