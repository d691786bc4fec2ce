// Package config loads the watcher configuration from YAML and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tickwatch/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tickwatch process.
type Config struct {
	Storage Storage `yaml:"storage"`
	Feed    Feed    `yaml:"feed"`
	Watcher Watcher `yaml:"watcher"`
	HTTP    HTTP    `yaml:"http"`
	Logging Logging `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Feed selects and configures the market-data feed collaborator.
type Feed struct {
	Provider   string `yaml:"provider"` // "alpaca" or "replay"
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	BaseURL    string `yaml:"base_url"`
	StreamURL  string `yaml:"stream_url"`
	FeedType   string `yaml:"feed_type"`   // alpaca data feed, e.g. "iex" or "sip"
	ReplayPath string `yaml:"replay_path"` // flush file replayed by the replay provider
	ReplayDay  string `yaml:"replay_day"`  // trading day (YYYYMMDD) the replay reports
}

// Watcher configures the validation and flush engine.
type Watcher struct {
	Timezone       string              `yaml:"timezone"`
	SaveTicks      bool                `yaml:"save_ticks"`
	GraceSeconds   int                 `yaml:"grace_seconds"`
	CalendarPath   string              `yaml:"calendar_path"`
	Subscribe      []string            `yaml:"subscribe"`
	Sessions       map[string][]string `yaml:"sessions"` // product or instrument -> "HH:MM-HH:MM" windows
	SaturdayCutoff string              `yaml:"saturday_cutoff"`
}

// HTTP configures the control API server. An empty Addr disables it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// defaults and environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Watcher.Timezone == "" {
		cfg.Watcher.Timezone = "Asia/Shanghai"
	}
	if cfg.Watcher.GraceSeconds == 0 {
		cfg.Watcher.GraceSeconds = 60
	}
	if cfg.Watcher.SaturdayCutoff == "" {
		cfg.Watcher.SaturdayCutoff = "05:00"
	}
	if cfg.Feed.FeedType == "" {
		cfg.Feed.FeedType = "iex"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Feed.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Feed.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

// Schedule parses the configured session windows into a domain.Schedule.
func (w Watcher) Schedule() (domain.Schedule, error) {
	sched := make(domain.Schedule, len(w.Sessions))
	for key, specs := range w.Sessions {
		wins := make([]domain.SessionWindow, 0, len(specs))
		for _, spec := range specs {
			win, err := domain.ParseSessionWindow(spec)
			if err != nil {
				return nil, fmt.Errorf("sessions[%s]: %w", key, err)
			}
			wins = append(wins, win)
		}
		sched[key] = wins
	}
	return sched, nil
}

// Cutoff parses the Saturday flush-suppression cutoff time of day.
func (w Watcher) Cutoff() (domain.TimeOfDay, error) {
	return domain.ParseTimeOfDay(w.SaturdayCutoff)
}
