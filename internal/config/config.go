// Package config loads runtime configuration from environment variables
// (prefixed PROXYPOOL_) and an optional YAML file, with documented defaults
// for every field.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the supervisor needs to boot the pool.
type Config struct {
	ListenHost    string `mapstructure:"listen_host"`
	APIPort       int    `mapstructure:"api_port"`
	SOCKS5Port    int    `mapstructure:"socks5_port"`
	HTTPProxyPort int    `mapstructure:"http_proxy_port"`

	DBHost     string `mapstructure:"db_host"`
	DBPort     int    `mapstructure:"db_port"`
	DBName     string `mapstructure:"db_name"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`

	// RedisAddr is optional; empty disables the fast-counter cache and
	// nodes fall back to direct durable-store increments.
	RedisAddr string `mapstructure:"redis_addr"`

	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	HealthCheckURL      string        `mapstructure:"health_check_url"`
	HealthCheckTimeout  time.Duration `mapstructure:"health_check_timeout"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// AdminRateLimitRPS and AdminRateLimitBurst size the token bucket
	// guarding mutating admin API routes.
	AdminRateLimitRPS   float64 `mapstructure:"admin_rate_limit_rps"`
	AdminRateLimitBurst int     `mapstructure:"admin_rate_limit_burst"`
}

// Load reads configuration from configPath (if non-empty) and the
// environment, applying defaults for anything left unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("proxypool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/proxypool")
	}

	v.SetEnvPrefix("PROXYPOOL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_host", "0.0.0.0")
	v.SetDefault("api_port", 8080)
	v.SetDefault("socks5_port", 1080)
	v.SetDefault("http_proxy_port", 8888)

	v.SetDefault("db_host", "127.0.0.1")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "proxypool")
	v.SetDefault("db_user", "proxypool")
	v.SetDefault("db_password", "")

	v.SetDefault("redis_addr", "")

	v.SetDefault("health_check_interval", "300s")
	v.SetDefault("health_check_url", "https://www.google.com")
	v.SetDefault("health_check_timeout", "10s")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetDefault("admin_rate_limit_rps", 10.0)
	v.SetDefault("admin_rate_limit_burst", 20)
}

// Validate rejects configurations that would leave the pool unreachable or
// misconfigured in an obviously broken way.
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("api_port out of range")
	}
	if c.SOCKS5Port <= 0 || c.SOCKS5Port > 65535 {
		return fmt.Errorf("socks5_port out of range")
	}
	if c.HTTPProxyPort <= 0 || c.HTTPProxyPort > 65535 {
		return fmt.Errorf("http_proxy_port out of range")
	}
	if c.DBName == "" {
		return fmt.Errorf("db_name is required")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive")
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("health_check_timeout must be positive")
	}
	return nil
}

// PostgresDSN builds a libpq-style connection string from the discrete DB
// fields.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword)
}
