// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8090"`

	// Timezone is the organization-local calendar used by the weekend rule
	// and fixed send times.
	Timezone string `env:"SCHEDULER_TIMEZONE" envDefault:"Asia/Jerusalem"`

	// RunSchedule is a cron expression for the periodic scheduler pass.
	RunSchedule string `env:"RUN_SCHEDULE" envDefault:"*/5 * * * *"`

	WorkerCount int64         `env:"WORKER_COUNT" envDefault:"5"`
	BatchSize   int           `env:"BATCH_SIZE" envDefault:"100"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryDelay  time.Duration `env:"RETRY_DELAY" envDefault:"10m"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"15s"`
	ClaimTTL    time.Duration `env:"CLAIM_TTL" envDefault:"5m"`

	// RunToken authorizes the internal trigger endpoint. Empty disables it.
	RunToken string `env:"SCHEDULER_RUN_TOKEN"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}

// Location resolves the configured timezone name.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
