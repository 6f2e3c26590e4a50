// Package config loads pipeline settings from a config file and
// GUARDPOST-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	APIKeys            []string `mapstructure:"api_keys"`             // valid API keys; empty disables the check
	APIKeyHeader       string   `mapstructure:"api_key_header"`       // header the API key is read from
	AllowedOrigins     []string `mapstructure:"allowed_origins"`      // CORS origins; empty disables CORS handling
	DevMode            bool     `mapstructure:"dev_mode"`             // include diagnostic detail in error responses
	MaxRequestBytes    int64    `mapstructure:"max_request_bytes"`    // body size cap; 0 disables the check
	RateLimitPerWindow int      `mapstructure:"rate_limit_per_window"` // requests per window; 0 disables throttling
	RateLimitWindowSec int      `mapstructure:"rate_limit_window_sec"`
	CacheTTLSec        int      `mapstructure:"cache_ttl_sec"`         // verified-token cache TTL
	SweepIntervalSec   int      `mapstructure:"sweep_interval_sec"`    // cache and CSRF sweep cadence
	CSRFTTLSec         int      `mapstructure:"csrf_ttl_sec"`          // CSRF token lifetime
	AdminRoles         []string `mapstructure:"admin_roles"`           // roles granting admin-level access
	LogLevel           string   `mapstructure:"log_level"`
}

func (c *Config) RateLimitWindow() time.Duration { return secs(c.RateLimitWindowSec) }
func (c *Config) CacheTTL() time.Duration        { return secs(c.CacheTTLSec) }
func (c *Config) SweepInterval() time.Duration   { return secs(c.SweepIntervalSec) }
func (c *Config) CSRFTTL() time.Duration         { return secs(c.CSRFTTLSec) }

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// Load reads guardpost.yaml from /etc/guardpost, $HOME/.guardpost or the
// working directory, then overlays GUARDPOST_* environment variables. A
// missing config file is not an error; defaults and env vars apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("guardpost")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/guardpost/")
	v.AddConfigPath("$HOME/.guardpost")
	v.AddConfigPath(".")

	v.SetDefault("api_keys", []string{})
	v.SetDefault("api_key_header", "X-API-Key")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("dev_mode", false)
	v.SetDefault("max_request_bytes", 1<<20)
	v.SetDefault("rate_limit_per_window", 0)
	v.SetDefault("rate_limit_window_sec", 60)
	v.SetDefault("cache_ttl_sec", 55*60)
	v.SetDefault("sweep_interval_sec", 5*60)
	v.SetDefault("csrf_ttl_sec", 4*60*60)
	v.SetDefault("admin_roles", []string{"admin"})
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("GUARDPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.MaxRequestBytes < 0 {
		return nil, fmt.Errorf("max_request_bytes must not be negative")
	}
	if cfg.RateLimitPerWindow < 0 {
		return nil, fmt.Errorf("rate_limit_per_window must not be negative")
	}

	return &cfg, nil
}
