package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tradeflow TradeflowConfig `yaml:"tradeflow"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Storage   StorageConfig   `yaml:"storage"`
	Bus       BusConfig       `yaml:"bus"`
	Health    HealthConfig    `yaml:"health"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Keepalive time.Duration   `yaml:"keepalive"`
	Venues    []VenueConfig   `yaml:"venues"`
}

type TradeflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Listen     string           `yaml:"listen"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

type BusConfig struct {
	Redis       RedisConfig `yaml:"redis"`
	SubjectRoot string      `yaml:"subject_root"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type HealthConfig struct {
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	ReconnectWindow    time.Duration `yaml:"reconnect_window"`
	Breaker            BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold       int `yaml:"failure_threshold"`
	RecoveryTimeoutSeconds int `yaml:"recovery_timeout_seconds"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type VenueConfig struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Enabled  bool   `yaml:"enabled"`

	// WhaleThreshold is the minimum notional for a trade to be announced
	// as a whale message. Must be positive.
	WhaleThreshold float64 `yaml:"whale_threshold"`

	// Symbols is a JSON array string ("[\"BTCUSDT\"]"). A value that does
	// not parse falls back to the adapter's default list at pipeline start.
	Symbols string `yaml:"symbols"`

	CandleIntervalSeconds int      `yaml:"candle_interval_seconds"`
	URLs                  []string `yaml:"urls"`
}

var validCategories = map[string]bool{
	"cex":        true,
	"dex":        true,
	"prediction": true,
}

// LoadConfig reads and validates the YAML configuration at path. Venue feed
// misconfiguration is an operator mistake, so it fails here before any
// connection is attempted.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bus.SubjectRoot == "" {
		c.Bus.SubjectRoot = "tradeflow"
	}
	if c.Health.StalenessThreshold <= 0 {
		c.Health.StalenessThreshold = 60 * time.Second
	}
	if c.Health.ReconnectWindow <= 0 {
		c.Health.ReconnectWindow = time.Hour
	}
	if c.Health.Breaker.FailureThreshold <= 0 {
		c.Health.Breaker.FailureThreshold = 5
	}
	if c.Health.Breaker.RecoveryTimeoutSeconds <= 0 {
		c.Health.Breaker.RecoveryTimeoutSeconds = 30
	}
	if c.Reconnect.BaseDelay <= 0 {
		c.Reconnect.BaseDelay = time.Second
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = 30 * time.Second
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = 10
	}
	if c.Keepalive <= 0 {
		c.Keepalive = 20 * time.Second
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "0.0.0.0:2112"
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Venues))
	for i := range c.Venues {
		v := &c.Venues[i]
		if v.Name == "" {
			return fmt.Errorf("venue %d: name is required", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("venue %q: duplicate name", v.Name)
		}
		seen[v.Name] = true
		if !validCategories[v.Category] {
			return fmt.Errorf("venue %q: unknown category %q", v.Name, v.Category)
		}
		if v.WhaleThreshold <= 0 {
			return fmt.Errorf("venue %q: whale_threshold must be positive, got %v", v.Name, v.WhaleThreshold)
		}
		if v.CandleIntervalSeconds <= 0 {
			return fmt.Errorf("venue %q: candle_interval_seconds must be positive, got %d", v.Name, v.CandleIntervalSeconds)
		}
		if len(v.URLs) == 0 {
			return fmt.Errorf("venue %q: at least one feed url is required", v.Name)
		}
	}
	return nil
}
