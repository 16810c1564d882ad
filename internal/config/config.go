package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// MaxCooldown is the longest accepted rebalance cooldown.
	MaxCooldown = 365 * 24 * time.Hour
	// MaxMinImprovementBps is the largest accepted improvement threshold (100x).
	MaxMinImprovementBps = 1_000_000
)

// Config holds all configuration for the application.
type Config struct {
	Agent      Agent      `mapstructure:"agent"`
	Metrics    Endpoint   `mapstructure:"metrics"`
	Vault      Endpoint   `mapstructure:"vault"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Simulation Simulation `mapstructure:"simulation"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
}

// Agent holds the configuration for the rebalance decision engine.
type Agent struct {
	Owner              string        `mapstructure:"owner"`
	Agents             []string      `mapstructure:"agents"`
	Strategies         []string      `mapstructure:"strategies"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	MinImprovementBps  int64         `mapstructure:"min_improvement_bps"`
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	MoveTimeout        time.Duration `mapstructure:"move_timeout"`
	MetricsTimeout     time.Duration `mapstructure:"metrics_timeout"`
	RefreshConcurrency int           `mapstructure:"refresh_concurrency"`
	DryRun             bool          `mapstructure:"dry_run"`
}

// Endpoint holds the configuration for an HTTP collaborator (metrics provider or vault).
type Endpoint struct {
	BaseURL        string  `mapstructure:"base_url"`
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	MaxRetries     int     `mapstructure:"max_retries"`
}

// Kafka holds the configuration for the decision event publisher.
type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Simulation describes the static strategies used when the agent runs in dry-run mode.
type Simulation struct {
	Strategies []SimulatedStrategy `mapstructure:"strategies"`
	Current    string              `mapstructure:"current"`
}

// SimulatedStrategy is one static metrics source. TVL is a decimal string in native units.
type SimulatedStrategy struct {
	ID        string `mapstructure:"id"`
	APY       uint64 `mapstructure:"apy"`
	TVL       string `mapstructure:"tvl"`
	RiskLevel uint64 `mapstructure:"risk_level"`
	Healthy   bool   `mapstructure:"healthy"`
}

// Server holds the configuration for the web servers.
type Server struct {
	Port   int `mapstructure:"port"`
	UIPort int `mapstructure:"ui_port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default value of every tunable on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("agent.cooldown", "6h")
	v.SetDefault("agent.min_improvement_bps", 2000)
	v.SetDefault("agent.tick_interval", "5m")
	v.SetDefault("agent.move_timeout", "2m")
	v.SetDefault("agent.metrics_timeout", "10s")
	v.SetDefault("agent.refresh_concurrency", 4)

	v.SetDefault("metrics.rate_limit", 20) // requests per second
	v.SetDefault("metrics.rate_limit_burst", 5)
	v.SetDefault("metrics.max_retries", 3)
	v.SetDefault("vault.rate_limit", 5)
	v.SetDefault("vault.rate_limit_burst", 1)
	// Move commands are not idempotent on every vault; retry once at most.
	v.SetDefault("vault.max_retries", 1)

	v.SetDefault("kafka.topic", "vault.decisions")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ui_port", 8081)
	v.SetDefault("database.dsn", "agent.db")
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		return
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}

	err = config.Validate()
	return
}

// Validate reports the first configuration value the engine cannot run with.
func (c *Config) Validate() error {
	a := c.Agent
	switch {
	case strings.TrimSpace(a.Owner) == "":
		return errors.New("agent.owner is required")
	case a.Cooldown < 0 || a.Cooldown > MaxCooldown:
		return fmt.Errorf("agent.cooldown must be within [0, %s], got %s", MaxCooldown, a.Cooldown)
	case a.MinImprovementBps < 0 || a.MinImprovementBps > MaxMinImprovementBps:
		return fmt.Errorf("agent.min_improvement_bps must be within [0, %d], got %d", MaxMinImprovementBps, a.MinImprovementBps)
	case a.TickInterval <= 0:
		return fmt.Errorf("agent.tick_interval must be positive, got %s", a.TickInterval)
	case a.MoveTimeout <= 0:
		return fmt.Errorf("agent.move_timeout must be positive, got %s", a.MoveTimeout)
	case a.MetricsTimeout <= 0:
		return fmt.Errorf("agent.metrics_timeout must be positive, got %s", a.MetricsTimeout)
	case a.RefreshConcurrency <= 0:
		return fmt.Errorf("agent.refresh_concurrency must be positive, got %d", a.RefreshConcurrency)
	}

	if !a.DryRun {
		if c.Metrics.BaseURL == "" {
			return errors.New("metrics.base_url is required unless agent.dry_run is set")
		}
		if c.Vault.BaseURL == "" {
			return errors.New("vault.base_url is required unless agent.dry_run is set")
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka.enabled is set")
	}
	return nil
}
