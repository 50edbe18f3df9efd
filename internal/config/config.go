// Package config holds the two configuration layers of the backup agent:
// daemon settings read once from the environment, and the persisted
// application config shared with the desktop UI (config.json).
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds daemon-level configuration loaded from environment variables.
type Settings struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Local API
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8099"`
	APIKey     string `envconfig:"API_KEY"` // local API auth; empty disables auth (loopback use)

	// Paths
	ConfigPath string `envconfig:"CONFIG_PATH" default:"config.json"`
	DBPath     string `envconfig:"DB_PATH" default:"backupd.db"`

	// Scheduler timezone (weekly triggers fire in this zone)
	Timezone string `envconfig:"TIMEZONE" default:"America/Sao_Paulo"`

	// Per-request timeout for remote API calls
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// LoadSettings reads daemon settings from environment variables.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("BACKUPD", &s); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return &s, nil
}

// Location resolves the configured timezone.
func (s *Settings) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// DaySchedule is one weekday entry of the weekly backup schedule.
type DaySchedule struct {
	Enabled bool   `json:"enabled"`
	Time    string `json:"time"` // "HH:MM", 24h
}

// AppConfig is the persisted application configuration. It is the single
// source of truth for credentials, the download directory and the weekly
// schedule, and is re-read from disk on every operation that needs it.
type AppConfig struct {
	APIKey       string              `json:"apiKey,omitempty"`
	InstanceURL  string              `json:"instanceUrl,omitempty"`
	DownloadPath string              `json:"downloadPath,omitempty"`
	WeekSchedule map[int]DaySchedule `json:"weekSchedule,omitempty"` // 0=Sunday .. 6=Saturday
}

// RemoteConfigured reports whether both remote credentials are present.
// Absence makes every remote operation a no-op, not an error.
func (c AppConfig) RemoteConfigured() bool {
	return c.APIKey != "" && c.InstanceURL != ""
}

// BackupConfigured reports whether the agent can run a backup cycle.
func (c AppConfig) BackupConfigured() bool {
	return c.RemoteConfigured() && c.DownloadPath != ""
}
