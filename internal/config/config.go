// Package config loads chatline settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL      = "http://localhost:8080"
	DefaultTimeout        = 10 * time.Second
	DefaultMaxAttempts    = 5
	DefaultReconnectDelay = 3 * time.Second
	DefaultLogLevel       = "warn"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CHATLINE"
)

// Config is the complete chatline configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig locates the chat server.
type ServerConfig struct {
	// URL is the HTTP base URL; the channel address is derived from it.
	URL string `yaml:"url" validate:"required,url"`
	// Room is the room to join; 0 lets the server choose.
	Room int `yaml:"room" validate:"min=0"`
	// Timeout bounds each HTTP API request.
	Timeout time.Duration `yaml:"timeout"`
}

// ReconnectConfig tunes automatic reconnection.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1"`
	Delay       time.Duration `yaml:"delay"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// File, when set, receives logs in addition to stderr.
	File  string `yaml:"file"`
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// envOverrides is filled from CHATLINE_* variables. Nil or empty means unset.
type envOverrides struct {
	ServerURL string `envconfig:"SERVER_URL"`
	Room      *int   `envconfig:"ROOM"`
	LogLevel  string `envconfig:"LOG_LEVEL"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     DefaultServerURL,
			Timeout: DefaultTimeout,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: DefaultMaxAttempts,
			Delay:       DefaultReconnectDelay,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads the file at path over the defaults, then applies environment
// overrides and validates the result. When optional is true a missing file
// is not an error.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && optional:
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses YAML data over the defaults without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CHATLINE_SERVER_URL, CHATLINE_ROOM and
// CHATLINE_LOG_LEVEL.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	if env.ServerURL != "" {
		c.Server.URL = env.ServerURL
	}
	if env.Room != nil {
		c.Server.Room = *env.Room
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	return nil
}

// Validate checks field constraints and normalizes the server URL.
func (c *Config) Validate() error {
	c.Server.URL = strings.TrimRight(strings.TrimSpace(c.Server.URL), "/")
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q check (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return err
	}

	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url: scheme must be http or https, got %q", u.Scheme)
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout: must not be negative")
	}
	if c.Reconnect.Delay <= 0 {
		return fmt.Errorf("reconnect.delay: must be positive")
	}
	return nil
}
