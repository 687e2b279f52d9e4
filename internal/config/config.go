// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/voyager/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// CacheConfig tunes the two-tier fetch cache.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Dir is the disk tier directory. A leading "~" is expanded.
	Dir        string        `mapstructure:"dir" yaml:"dir"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries"`
}

// BrowserConfig holds settings for the headless browser backends.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// Preferred selects the backend tried first; empty means priority order.
	Preferred       schemas.BackendKind `mapstructure:"preferred" yaml:"preferred"`
	IgnoreTLSErrors bool                `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string              `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string            `mapstructure:"args" yaml:"args"`
}

// NetworkConfig tunes the network behavior of the application.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration     `mapstructure:"action_timeout" yaml:"action_timeout"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
	// HostRateLimit is the per-host request rate for batched fetches,
	// in requests per second. Zero disables the limiter.
	HostRateLimit float64 `mapstructure:"host_rate_limit" yaml:"host_rate_limit"`
}

// EngineConfig configures the fetch coordinator and extraction bounds.
type EngineConfig struct {
	WorkerBound int `mapstructure:"worker_bound" yaml:"worker_bound"`
	MaxTextLen  int `mapstructure:"max_text_len" yaml:"max_text_len"`
	MaxLinks    int `mapstructure:"max_links" yaml:"max_links"`
	MaxImages   int `mapstructure:"max_images" yaml:"max_images"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "voyager")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Cache --
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "~/.voyager/cache")
	v.SetDefault("cache.ttl", "15m")
	v.SetDefault("cache.max_entries", 128)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.preferred", "")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "45s")
	v.SetDefault("network.action_timeout", "20s")
	v.SetDefault("network.host_rate_limit", 2.0)

	// -- Engine --
	v.SetDefault("engine.worker_bound", 4)
	v.SetDefault("engine.max_text_len", 20000)
	v.SetDefault("engine.max_links", 50)
	v.SetDefault("engine.max_images", 20)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.WorkerBound <= 0 {
		return fmt.Errorf("engine.worker_bound must be a positive integer")
	}
	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be a positive integer when the cache is enabled")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be a positive duration when the cache is enabled")
	}
	switch c.Browser.Preferred {
	case "", schemas.BackendCDP, schemas.BackendPlaywright, schemas.BackendPlainHTTP:
	default:
		return fmt.Errorf("browser.preferred must be one of cdp, playwright, plainhttp")
	}
	return nil
}

// expandPaths resolves "~" in filesystem paths.
func (c *Config) expandPaths() error {
	if c.Cache.Dir == "" {
		return nil
	}
	expanded, err := homedir.Expand(c.Cache.Dir)
	if err != nil {
		return fmt.Errorf("failed to expand cache dir %q: %w", c.Cache.Dir, err)
	}
	c.Cache.Dir = expanded
	return nil
}
