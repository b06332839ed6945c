// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Events   EventsConfig   `yaml:"events"`
	Autoplay AutoplayConfig `yaml:"autoplay"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	Driver   string         `yaml:"driver" default:"memory" validate:"oneof=memory postgres"`
	Settings map[string]any `yaml:"settings"`
}

// PostgresSettings holds the postgres driver settings.
type PostgresSettings struct {
	DSN             string `yaml:"dsn" mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int    `yaml:"max_open_conns" mapstructure:"max_open_conns" default:"8" validate:"gte=1"`
	MaxIdleConns    int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns" default:"4" validate:"gte=0"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins" mapstructure:"conn_max_life_mins" default:"30" validate:"gte=1"`
}

// EventsConfig configures event publication.
type EventsConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis pub/sub publisher.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel" default:"utabox.queue"`
}

// AutoplayConfig configures the auto-advance sweep.
type AutoplayConfig struct {
	IntervalMs int `yaml:"interval_ms" default:"500" validate:"gte=100,lte=60000"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
	File   string `yaml:"file"`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for connection secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if c.Store.Settings == nil {
			c.Store.Settings = make(map[string]any)
		}
		c.Store.Settings["dsn"] = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Events.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Events.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Events.Redis.DB = db
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	// Driver settings are validated lazily when decoded, but a postgres
	// driver without any settings can be rejected up front.
	if c.Store.Driver == "postgres" {
		if _, err := c.Store.PostgresSettings(); err != nil {
			return err
		}
	}
	return nil
}

// PostgresSettings decodes the driver settings map into postgres settings.
func (s *StoreConfig) PostgresSettings() (*PostgresSettings, error) {
	var ps PostgresSettings
	if err := mapstructure.Decode(s.Settings, &ps); err != nil {
		return nil, errors.Wrap(err, "failed to decode postgres settings")
	}
	if err := defaults.Set(&ps); err != nil {
		return nil, errors.Wrap(err, "failed to set postgres defaults")
	}
	if err := validator.New().Struct(&ps); err != nil {
		return nil, errors.Wrap(err, "postgres settings validation failed")
	}
	return &ps, nil
}
