// Package config handles application configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Defaults and hard floors for the poller tunables. The floors apply
// regardless of what the environment says.
const (
	DefaultMaxUsersPerRun    = 25
	DefaultMaxEntriesPerFeed = 200
)

// Config holds the application configuration.
type Config struct {
	DatabasePath      string `env:"DATABASE_PATH" envDefault:"./data/watcher.db"`
	ListenAddr        string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	CronSecret        string `env:"CRON_SECRET"`
	PollCron          string `env:"POLL_CRON"`
	MaxUsersPerRun    int    `env:"POLL_MAX_USERS_PER_RUN" envDefault:"25"`
	MaxEntriesPerFeed int    `env:"POLL_MAX_ENTRIES_PER_FEED" envDefault:"200"`
}

// Load reads configuration from environment variables and applies the
// minimum bounds on the per-run caps.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxUsersPerRun < 1 {
		cfg.MaxUsersPerRun = 1
	}
	if cfg.MaxEntriesPerFeed < 1 {
		cfg.MaxEntriesPerFeed = 1
	}
	return &cfg, nil
}
