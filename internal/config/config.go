// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.agrovoice/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Storage: PostgreSQL connection for the document store (see storage.go)
//   - History: chunk capacity and session-write retry budget for the
//     conversation store
//   - Logging: level and output format
//
// Security: the PostgreSQL password is never logged; Config masks it in
// MarshalJSON and String. Validation lives in validation.go and uses
// sentinel errors checkable with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidChunkCapacity indicates max_messages_per_chunk is out of range.
	ErrInvalidChunkCapacity = errors.New("invalid chunk capacity")

	// ErrInvalidWriteAttempts indicates write_attempts is out of range.
	ErrInvalidWriteAttempts = errors.New("invalid write attempts")

	// ErrInvalidLogLevel indicates the log level name is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

const (
	// DefaultMaxMessagesPerChunk is the default chunk capacity. The deployed
	// system ran with 10; large deployments raise this to 100.
	DefaultMaxMessagesPerChunk = 10

	// MaxAllowedMessagesPerChunk bounds chunk capacity so a single chunk
	// document stays well under document-store item size limits.
	MaxAllowedMessagesPerChunk = 1000

	// DefaultWriteAttempts is the default session-metadata write budget:
	// one optimistic write plus one retry after re-reading.
	DefaultWriteAttempts = 2

	// MaxAllowedWriteAttempts bounds the retry budget.
	MaxAllowedWriteAttempts = 10
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Conversation history configuration
	MaxMessagesPerChunk int `mapstructure:"max_messages_per_chunk" json:"max_messages_per_chunk"`
	WriteAttempts       int `mapstructure:"write_attempts" json:"write_attempts"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"` // "debug", "info", "warn", "error"
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".agrovoice")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "agrovoice")
	viper.SetDefault("postgres_password", "agrovoice_dev_password")
	viper.SetDefault("postgres_db_name", "agrovoice")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// History defaults
	viper.SetDefault("max_messages_per_chunk", DefaultMaxMessagesPerChunk)
	viper.SetDefault("write_attempts", DefaultWriteAttempts)

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("postgres_password", "AGROVOICE_POSTGRES_PASSWORD")
	mustBind("max_messages_per_chunk", "AGROVOICE_MAX_MESSAGES_PER_CHUNK")
	mustBind("write_attempts", "AGROVOICE_WRITE_ATTEMPTS")
	mustBind("log_level", "AGROVOICE_LOG_LEVEL")
	mustBind("log_json", "AGROVOICE_LOG_JSON")

	// NOTE: DATABASE_URL is handled separately in parseDatabaseURL because it
	// fans out into multiple postgres_* fields.
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// SlogLevel maps the configured log level name to a slog.Level.
// Call Validate first; unknown names fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
