// Package config loads the example server's configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/manenim/quota-limiter/internal/logging"
)

// QuotaConfig mirrors limiter.Quota in a YAML-friendly shape. A zero value
// for Rate or Concurrency means "unset" here; there is no way to express
// the distributed "set to zero" share through config, since that value is
// only ever computed at runtime.
type QuotaConfig struct {
	Rate        int           `yaml:"rate"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	FastStart   bool          `yaml:"fast_start"`
}

// Config is the example server's top-level configuration.
type Config struct {
	ListenAddr    string        `yaml:"listen_addr"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	RedisAddr     string        `yaml:"redis_addr"`
	Channel       string        `yaml:"channel"`
	Distributed   bool          `yaml:"distributed"`
	Quota         QuotaConfig   `yaml:"quota"`
	Logging       logging.Config `yaml:"logging"`
}

// Default returns the server's baseline configuration, used as the
// starting point before a config file and environment overrides are
// applied.
func Default() *Config {
	return &Config{
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		RedisAddr:   "localhost:6379",
		Channel:     "quota-limiter:demo",
		Distributed: false,
		Quota: QuotaConfig{
			Rate:        5,
			Interval:    time.Second,
			Concurrency: 10,
			MaxDelay:    2 * time.Second,
		},
		Logging: logging.Config{Level: "info", Format: "json"},
	}
}

// Load builds a Config starting from Default, overlaying configPath (if
// non-empty and present) and then environment variables, validating the
// result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadFromEnvironment(cfg *Config) {
	if v := os.Getenv("QUOTA_LIMITER_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("QUOTA_LIMITER_CHANNEL"); v != "" {
		cfg.Channel = v
	}
	if v := os.Getenv("QUOTA_LIMITER_DISTRIBUTED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Distributed = b
		}
	}
	if v := os.Getenv("QUOTA_LIMITER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks invariants Load cannot express through defaults alone.
func (c *Config) Validate() error {
	if c.Quota.Rate > 0 && c.Quota.Interval <= 0 {
		return fmt.Errorf("quota.interval must be set when quota.rate is set")
	}
	if c.Distributed && c.Channel == "" {
		return fmt.Errorf("channel must be set when distributed is true")
	}
	return nil
}
