// Package config loads the Quarry configuration from quarry.yml and the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the Quarry configuration
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Address returns the listen address
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig selects and configures the backing document store
type StoreConfig struct {
	// Driver is one of: memory, sqlite, postgres
	Driver string `mapstructure:"driver"`
	// DSN is the database path (sqlite) or connection string (postgres)
	DSN string `mapstructure:"dsn"`
}

// AuthConfig configures token signing
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// RedisConfig enables the Redis-backed rate limiter when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load loads the configuration from quarry.yml or quarry.yaml, with
// environment variables taking precedence.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8090)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "quarry.db")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetConfigName("quarry")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("quarry")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper already knows about, so keys without a
	// default need an explicit binding for the env override to take effect.
	for _, key := range []string{"auth.secret", "redis.addr", "redis.password", "redis.db"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	switch config.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver: %s", config.Store.Driver)
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	return nil
}
