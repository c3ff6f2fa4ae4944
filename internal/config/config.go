// Package config loads the server's environment-driven tunables. The
// positional CLI arguments mandated by spec §6.1/§6.2 (jobs_dir,
// max_backups, max_threads, server_fifo_name / client_id) are parsed
// separately in each cmd's main and layered over these defaults.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds operational tunables that spec.md leaves to the
// implementation: worker pool sizing, queue depths, rate ceilings,
// logging verbosity. None of it changes wire-protocol or invariant
// behavior — it only shapes throughput and observability.
type Config struct {
	// Dispatcher / session worker pool.
	SessionWorkers  int `env:"KVSD_SESSION_WORKERS" envDefault:"8"`
	SessionQueueCap int `env:"KVSD_SESSION_QUEUE_CAP" envDefault:"8"`

	// Job runner pool (overridden by the CLI's max_threads when set).
	DefaultJobWorkers int `env:"KVSD_JOB_WORKERS" envDefault:"4"`

	// Admission control.
	ConnectRatePerSec  float64 `env:"KVSD_CONNECT_RATE" envDefault:"50"`
	ConnectBurst       int     `env:"KVSD_CONNECT_BURST" envDefault:"8"`
	BackupRatePerSec   float64 `env:"KVSD_BACKUP_RATE" envDefault:"5"`
	LowMemoryWarnRatio float64 `env:"KVSD_LOW_MEM_WARN_RATIO" envDefault:"0.90"`

	// Metrics.
	MetricsEnabled bool   `env:"KVSD_METRICS_ENABLED" envDefault:"true"`
	MetricsAddr    string `env:"KVSD_METRICS_ADDR" envDefault:"127.0.0.1:9400"`

	// Logging.
	LogLevel  string `env:"KVSD_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"KVSD_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file and the process
// environment. Absence of .env is not an error — production deploys
// set real environment variables directly.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("kvsd: no .env file found, using environment variables only")
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SessionWorkers < 1 {
		return fmt.Errorf("KVSD_SESSION_WORKERS must be > 0, got %d", c.SessionWorkers)
	}
	if c.SessionQueueCap < 1 {
		return fmt.Errorf("KVSD_SESSION_QUEUE_CAP must be > 0, got %d", c.SessionQueueCap)
	}
	if c.DefaultJobWorkers < 1 {
		return fmt.Errorf("KVSD_JOB_WORKERS must be > 0, got %d", c.DefaultJobWorkers)
	}
	if c.ConnectRatePerSec <= 0 {
		return fmt.Errorf("KVSD_CONNECT_RATE must be > 0, got %f", c.ConnectRatePerSec)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("KVSD_LOG_LEVEL must be one of debug,info,warn,error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("KVSD_LOG_FORMAT must be one of json,pretty (got %q)", c.LogFormat)
	}
	return nil
}

// LogFields logs the resolved configuration at startup for operators.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Int("session_workers", c.SessionWorkers).
		Int("session_queue_cap", c.SessionQueueCap).
		Int("default_job_workers", c.DefaultJobWorkers).
		Float64("connect_rate", c.ConnectRatePerSec).
		Int("connect_burst", c.ConnectBurst).
		Float64("backup_rate", c.BackupRatePerSec).
		Bool("metrics_enabled", c.MetricsEnabled).
		Str("metrics_addr", c.MetricsAddr).
		Msg("configuration loaded")
}
