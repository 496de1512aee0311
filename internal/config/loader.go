// Package config loads the daemon's YAML configuration: location
// coordinates, file paths, the API listen address, and the alarms to
// create at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/DGTLMagician/hass-alarmclock/internal/alarm"
)

const (
	// DefaultConfigFile is consulted when ALARM_CONFIG is unset.
	DefaultConfigFile = "alarmclock.yaml"

	// DefaultStateFile receives persisted alarm state.
	DefaultStateFile = "alarmclock-state.json"

	// DefaultAPIAddr is the HTTP API listen address.
	DefaultAPIAddr = ":8082"
)

// AlarmEntry declares one alarm in the configuration file. Time and
// SolarEvent are mutually exclusive: a fixed-time alarm carries a time
// string, a sun-tracking alarm carries "sunrise" or "sunset" plus an
// optional signed offset such as "-30m".
type AlarmEntry struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Time          string `yaml:"time"`
	SnoozeMinutes int    `yaml:"snooze_minutes"`
	Enabled       bool   `yaml:"enabled"`
	SolarEvent    string `yaml:"solar_event"`
	SolarOffset   string `yaml:"solar_offset"`
}

// Offset parses the entry's solar offset, zero when unset.
func (e AlarmEntry) Offset() (time.Duration, error) {
	if e.SolarOffset == "" {
		return 0, nil
	}
	return time.ParseDuration(e.SolarOffset)
}

// Config is the alarmclock.yaml structure.
type Config struct {
	Latitude  float64      `yaml:"latitude"`
	Longitude float64      `yaml:"longitude"`
	StateFile string       `yaml:"state_file"`
	APIAddr   string       `yaml:"api_addr"`
	Alarms    []AlarmEntry `yaml:"alarms"`
}

// Default returns a configuration with every optional field at its
// default, declaring no alarms.
func Default() Config {
	return Config{
		StateFile: DefaultStateFile,
		APIAddr:   DefaultAPIAddr,
	}
}

// HasLocation reports whether coordinates were configured. (0, 0) is open
// ocean, treated as unset.
func (c *Config) HasLocation() bool {
	return c.Latitude != 0 || c.Longitude != 0
}

// Load reads and validates the configuration file at path.
func Load(path string, logger *zap.Logger) (Config, error) {
	logger.Info("Loading configuration", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFile
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = DefaultAPIAddr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logger.Info("Configuration loaded",
		zap.Int("alarms", len(cfg.Alarms)),
		zap.Bool("location", cfg.HasLocation()))
	return cfg, nil
}

// Validate checks the declared alarms for problems that would otherwise
// only surface at registration or first use.
func (c *Config) Validate() error {
	now := time.Now()
	seen := make(map[string]bool, len(c.Alarms))

	for i, e := range c.Alarms {
		if e.ID == "" {
			return fmt.Errorf("alarm #%d: id is required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("alarm %q: duplicate id", e.ID)
		}
		seen[e.ID] = true

		if e.SnoozeMinutes < 0 {
			return fmt.Errorf("alarm %q: snooze_minutes must not be negative", e.ID)
		}

		ev := alarm.SolarEvent(e.SolarEvent)
		if !ev.Valid() {
			return fmt.Errorf("alarm %q: unknown solar_event %q", e.ID, e.SolarEvent)
		}

		if ev != alarm.SolarNone {
			if e.Time != "" {
				return fmt.Errorf("alarm %q: time and solar_event are mutually exclusive", e.ID)
			}
			if !c.HasLocation() {
				return fmt.Errorf("alarm %q: solar_event needs latitude and longitude", e.ID)
			}
			if _, err := e.Offset(); err != nil {
				return fmt.Errorf("alarm %q: bad solar_offset: %w", e.ID, err)
			}
			continue
		}

		if e.SolarOffset != "" {
			return fmt.Errorf("alarm %q: solar_offset without solar_event", e.ID)
		}
		if e.Time != "" {
			if _, err := alarm.ParseTimeOfDay(e.Time, now); err != nil {
				return fmt.Errorf("alarm %q: %w", e.ID, err)
			}
		} else if e.Enabled {
			return fmt.Errorf("alarm %q: enabled but no time given", e.ID)
		}
	}
	return nil
}
