// Package config loads cocomask settings from an optional YAML file.
// Command-line flags take precedence over anything read here.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Policy    string      `mapstructure:"policy"`
	Workers   int         `mapstructure:"workers"`
	MaxImages int         `mapstructure:"max_images"`
	Depth     int         `mapstructure:"depth"`
	DB        string      `mapstructure:"db"`
	LogMode   string      `mapstructure:"log_mode"`
	Cache     CacheConfig `mapstructure:"cache"`
}

// CacheConfig points at the Redis instance used for incremental builds.
// An empty Addr disables the cache.
type CacheConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Load reads the YAML file at path. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults are static; this only fails if the struct tags are broken
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("policy", "last")
	v.SetDefault("workers", 1)
	v.SetDefault("max_images", 0)
	v.SetDefault("depth", 8)
	v.SetDefault("db", "")
	v.SetDefault("log_mode", "debug")

	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 7*24*time.Hour)
}
