// Package config loads and validates the audit trail service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AUDIT_ prefix (e.g., AUDIT_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
//
// The JWT_SECRET variable has no AUDIT_ prefix because it may be injected by
// infrastructure tooling (e.g., Kubernetes secrets, Vault agent) that does not
// know the application-specific prefix and treats it as a generic secret name.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Dedup       DedupConfig       `mapstructure:"dedup"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the listen address in host:port form.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Name               string        `mapstructure:"name"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxConnections     int           `mapstructure:"max_connections"`
	MinIdleConnections int           `mapstructure:"min_idle_connections"`
	QueryTimeout       time.Duration `mapstructure:"query_timeout"`
}

// GetDSN builds a lib/pq connection string from the individual fields.
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds the optional Redis connection used for the dedup fast path
// and distributed rate limiting. An empty Addr disables Redis; the service
// falls back to the database (dedup) and an in-memory limiter (rate limiting).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis backend is configured.
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AuthConfig holds authentication configuration. The JWT secret itself is read
// from the JWT_SECRET environment variable, not from this struct (see package doc).
type AuthConfig struct {
	// TokenIssuer is the expected "iss" claim of accepted JWTs. Empty disables
	// issuer checking.
	TokenIssuer string `mapstructure:"token_issuer"`
}

// LoggingConfig holds structured logging configuration
type LoggingConfig struct {
	Format string `mapstructure:"format"` // "json" or "text"
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
}

// TelemetryConfig holds metrics and profiling configuration
type TelemetryConfig struct {
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig configures the Prometheus side-channel endpoint
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig configures the pprof side-channel endpoint
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AggregationConfig configures the background summary aggregator job
type AggregationConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// IntervalMinutes controls how often the aggregator re-runs for the
	// current and previous day. Records that arrive after a run are picked
	// up on the next one; this staleness window is accepted.
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// DedupConfig configures duplicate-event suppression on the write path
type DedupConfig struct {
	// RetentionDays is how long processed event IDs are remembered.
	RetentionDays int `mapstructure:"retention_days"`
}

// RateLimitConfig configures per-client request rate limiting
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	BurstSize         int  `mapstructure:"burst_size"`
}

// Load reads configuration from file and environment variables.
// If configPath is empty, it looks for config.yaml in the working directory
// and /etc/audit-trail. A missing config file is not an error; defaults plus
// environment variables are a complete configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/audit-trail")
	}

	v.SetEnvPrefix("AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; an unreadable explicit one is not.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1, got %d", c.Database.MaxConnections)
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("database.query_timeout must be positive, got %v", c.Database.QueryTimeout)
	}
	if c.Aggregation.IntervalMinutes < 1 {
		return fmt.Errorf("aggregation.interval_minutes must be at least 1, got %d", c.Aggregation.IntervalMinutes)
	}
	if c.Dedup.RetentionDays < 1 {
		return fmt.Errorf("dedup.retention_days must be at least 1, got %d", c.Dedup.RetentionDays)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "audit_trail")
	v.SetDefault("database.user", "audit")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.query_timeout", "10s")

	// Redis (disabled unless addr set)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.token_issuer", "")

	// Logging
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.level", "info")

	// Telemetry
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Aggregation
	v.SetDefault("aggregation.enabled", true)
	v.SetDefault("aggregation.interval_minutes", 60)

	// Dedup
	v.SetDefault("dedup.retention_days", 7)

	// Rate limiting
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 200)
	v.SetDefault("rate_limit.burst_size", 50)
}
