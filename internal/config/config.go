// Package config loads server configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Library  LibraryConfig  `mapstructure:"library"`
	Battle   BattleConfig   `mapstructure:"battle"`
}

// ServerConfig covers the HTTP/WebSocket listener and session handling.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	LeasePeriod  time.Duration `mapstructure:"lease_period"`
	MaxSessions  int           `mapstructure:"max_sessions"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig selects the zap preset.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DatabaseConfig is the postgres connection pool configuration. An empty URL
// runs the server without persistence.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LibraryConfig points at the datasheet directory.
type LibraryConfig struct {
	Dir string `mapstructure:"dir"`
}

// BattleConfig carries table-wide rule knobs.
type BattleConfig struct {
	EngagementRange float64 `mapstructure:"engagement_range"`
	DebugMode       bool    `mapstructure:"debug_mode"`
}

// Load reads the configuration file at path. Environment variables prefixed
// with WARGAME_ override file values (WARGAME_SERVER_ADDRESS, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("WARGAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.lease_period", time.Minute)
	v.SetDefault("server.max_sessions", 1024)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("library.dir", "data/library")
	v.SetDefault("battle.engagement_range", 1.0)
	v.SetDefault("battle.debug_mode", false)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.LeasePeriod <= 0 {
		return fmt.Errorf("server.lease_period must be positive")
	}
	if c.Battle.EngagementRange <= 0 {
		return fmt.Errorf("battle.engagement_range must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
