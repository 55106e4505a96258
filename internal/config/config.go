// Package config loads the service configuration: defaults, then a YAML
// file, then a .env file, then CREDITFENCE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/KanavDutta/creditfence/pkg/creditfence"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CREDITFENCE_"

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig       `yaml:"server"`
	Limiter creditfence.Config `yaml:"limiter"`
	Redis   RedisConfig        `yaml:"redis"`
	Logging LoggingConfig      `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig configures the audit event stream. An empty Addr disables it.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Stream     string `yaml:"stream"`
	MaxLen     int64  `yaml:"max_len"`
	DeniedOnly bool   `yaml:"denied_only"`
}

// Enabled reports whether events should be published.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// NewDefaultConfig returns the configuration used when nothing overrides it.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Limiter: *creditfence.NewConfig(),
		Redis: RedisConfig{
			Stream: "creditfence:events",
			MaxLen: 100000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration. configPath and envFile are optional; a
// missing envFile is not an error, a missing configPath is.
func Load(configPath, envFile string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment applies CREDITFENCE_* overrides.
func loadFromEnvironment(config *Config) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = n
	}

	str("ADDR", &config.Server.Addr)

	num("MAX_REQUESTS", &config.Limiter.Defaults.MaxRequests)
	num("WINDOW_SECONDS", &config.Limiter.Defaults.WindowSeconds)
	num("MAX_CREDITS", &config.Limiter.Defaults.MaxCredits)
	str("KEY_EXTRACTOR", &config.Limiter.KeyExtractor)

	str("REDIS_ADDR", &config.Redis.Addr)
	str("REDIS_PASSWORD", &config.Redis.Password)
	num("REDIS_DB", &config.Redis.DB)
	str("REDIS_STREAM", &config.Redis.Stream)

	str("LOG_LEVEL", &config.Logging.Level)
	str("LOG_FORMAT", &config.Logging.Format)

	return errors.Join(errs...)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}

	if err := c.Limiter.Validate(); err != nil {
		return fmt.Errorf("limiter: %w", err)
	}

	if c.Redis.DB < 0 {
		return errors.New("redis.db cannot be negative")
	}
	if c.Redis.MaxLen < 0 {
		return errors.New("redis.max_len cannot be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be json or text", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			return errors.New("logging.file_path is required when output is file")
		}
	default:
		return fmt.Errorf("logging.output %q must be stdout, stderr or file", c.Logging.Output)
	}

	return nil
}
