// Package config loads engine configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level engine configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	DataDir  string         `mapstructure:"data_dir"`
	LogLevel string         `mapstructure:"log_level"`
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	EnableMetrics  bool          `mapstructure:"enable_metrics"`
}

// BacktestConfig holds defaults applied when a request omits them
type BacktestConfig struct {
	DefaultCapital       float64 `mapstructure:"default_capital"`
	Workers              int     `mapstructure:"workers"`
	MonteCarloIterations int     `mapstructure:"monte_carlo_iterations"`
}

// Load reads configuration from the optional file at path, then the
// environment (BACKTEST_ prefix, dots as underscores), on top of defaults.
// A missing file is fine; a malformed one is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("backtest.default_capital", 10000.0)
	v.SetDefault("backtest.workers", 0)
	v.SetDefault("backtest.monte_carlo_iterations", 1000)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}

	return &cfg, nil
}
