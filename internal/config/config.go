// ABOUTME: Configuration loading and parsing for the chat platform services
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat platform configuration. Both the chat
// server and the auth server load the same file and read their own sections.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scylla   ScyllaConfig   `yaml:"scylla"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Auth     AuthConfig     `yaml:"auth"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds listen address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"` // chat server: REST + WebSocket
	AuthAddr string `yaml:"auth_addr"` // auth server: accounts + tokens
}

// ScyllaConfig holds message store configuration
type ScyllaConfig struct {
	Hosts             []string `yaml:"hosts"`
	Keyspace          string   `yaml:"keyspace"`
	ReplicationFactor int      `yaml:"replication_factor"`
}

// KafkaConfig holds event bus configuration
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	AccessTokenTTL  time.Duration `yaml:"-"`
	RefreshTokenTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AccessTokenTTLRaw  string `yaml:"access_token_ttl"`
	RefreshTokenTTLRaw string `yaml:"refresh_token_ttl"`
}

// PostgresConfig holds the account database configuration
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the refresh session cache configuration
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values that are safe to assume for local development.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8081"
	}
	if c.Server.AuthAddr == "" {
		c.Server.AuthAddr = ":8080"
	}
	if c.Scylla.Keyspace == "" {
		c.Scylla.Keyspace = "chat"
	}
	if c.Scylla.ReplicationFactor == 0 {
		c.Scylla.ReplicationFactor = 1
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "chat_messages"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "chat-service-group-v1"
	}
	if c.Auth.AccessTokenTTLRaw == "" {
		c.Auth.AccessTokenTTLRaw = "15m"
	}
	if c.Auth.RefreshTokenTTLRaw == "" {
		c.Auth.RefreshTokenTTLRaw = "720h"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if len(c.Scylla.Hosts) == 0 {
		return fmt.Errorf("scylla.hosts is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.AccessTokenTTLRaw != "" {
		cfg.Auth.AccessTokenTTL, err = time.ParseDuration(cfg.Auth.AccessTokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing access_token_ttl %q: %w", cfg.Auth.AccessTokenTTLRaw, err)
		}
	}

	if cfg.Auth.RefreshTokenTTLRaw != "" {
		cfg.Auth.RefreshTokenTTL, err = time.ParseDuration(cfg.Auth.RefreshTokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing refresh_token_ttl %q: %w", cfg.Auth.RefreshTokenTTLRaw, err)
		}
	}

	return nil
}
