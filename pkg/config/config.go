// Package config loads gateway configuration from an optional YAML file
// overlaid by environment variables. Environment always wins.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the gateway process.
type Config struct {
	Host      string `env:"OMNIRELAY_HOST" yaml:"host"`
	Port      int    `env:"OMNIRELAY_PORT" yaml:"port"`
	PublicURL string `env:"OMNIRELAY_PUBLIC_URL" yaml:"public_url"`

	DBPath    string `env:"OMNIRELAY_DB" yaml:"db_path"`
	RedisAddr string `env:"OMNIRELAY_REDIS_ADDR" yaml:"redis_addr"`

	LogLevel string `env:"OMNIRELAY_LOG_LEVEL" yaml:"log_level"`
	LogJSON  bool   `env:"OMNIRELAY_LOG_JSON" yaml:"log_json"`

	Queue QueueConfig `yaml:"queue"`

	BusBuffer int `env:"OMNIRELAY_BUS_BUFFER" yaml:"bus_buffer"`

	// ProviderTimeoutSec bounds every outbound call to a remote platform API.
	ProviderTimeoutSec int `env:"OMNIRELAY_PROVIDER_TIMEOUT" yaml:"provider_timeout_sec"`

	// DedupSweepCron schedules eviction of the in-memory dedup filter.
	DedupSweepCron string `env:"OMNIRELAY_DEDUP_SWEEP_CRON" yaml:"dedup_sweep_cron"`
}

// QueueConfig tunes the outbound dispatch queue.
type QueueConfig struct {
	Workers       int `env:"OMNIRELAY_QUEUE_WORKERS" yaml:"workers"`
	MaxAttempts   int `env:"OMNIRELAY_QUEUE_MAX_ATTEMPTS" yaml:"max_attempts"`
	BaseBackoffMS int `env:"OMNIRELAY_QUEUE_BASE_BACKOFF_MS" yaml:"base_backoff_ms"`
}

// Default returns the configuration baseline before file and env overlays.
func Default() *Config {
	return &Config{
		Host:     "0.0.0.0",
		Port:     8080,
		DBPath:   "omnirelay.db",
		LogLevel: "info",
		Queue: QueueConfig{
			Workers:       4,
			MaxAttempts:   5,
			BaseBackoffMS: 500,
		},
		BusBuffer:          256,
		ProviderTimeoutSec: 30,
		DedupSweepCron:     "*/10 * * * *",
	}
}

// ProviderTimeout returns the remote-call timeout as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSec) * time.Second
}

// BaseBackoff returns the queue's base backoff as a duration.
func (q QueueConfig) BaseBackoff() time.Duration {
	return time.Duration(q.BaseBackoffMS) * time.Millisecond
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Load builds the configuration: code defaults, then the YAML file named by
// OMNIRELAY_CONFIG (if any), then environment variables on top.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("OMNIRELAY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
