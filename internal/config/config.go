package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Orders    OrdersConfig    `mapstructure:"orders"`
	Market    MarketConfig    `mapstructure:"market"`
	Venues    []VenueConfig   `mapstructure:"venues"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	// ReadOnly halts every mutating route.
	ReadOnly    bool     `mapstructure:"read_only"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type AuthConfig struct {
	ReplayWindowMs       int64  `mapstructure:"replay_window_ms"`
	IdentityCacheSeconds int    `mapstructure:"identity_cache_seconds"`
	MasterKey            string `mapstructure:"master_key"`
	AdminKey             string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	// Driver is postgres, sqlite or memory.
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_minutes"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	KeyPrefix             string `mapstructure:"key_prefix"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
}

type RateRule struct {
	WindowMs    int64 `mapstructure:"window_ms"`
	MaxRequests int   `mapstructure:"max_requests"`
}

func (r RateRule) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

type EndpointRule struct {
	// Path is an endpoint class such as /v1/orders/:id.
	Path   string `mapstructure:"path"`
	Method string `mapstructure:"method"`
	RateRule `mapstructure:",squash"`
}

type RateLimitConfig struct {
	Default         RateRule       `mapstructure:"default"`
	GlobalPerSource RateRule       `mapstructure:"global_per_source"`
	Endpoints       []EndpointRule `mapstructure:"endpoints"`
}

type RetryConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	BaseDelayMs   int `mapstructure:"base_delay_ms"`
	CallTimeoutMs int `mapstructure:"call_timeout_ms"`
}

type ReconcileConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	BatchSize       int  `mapstructure:"batch_size"`
	Concurrency     int  `mapstructure:"concurrency"`
	MinAgeSeconds   int  `mapstructure:"min_age_seconds"`
}

type OrdersConfig struct {
	Retry     RetryConfig     `mapstructure:"retry"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type MarketConfig struct {
	TickerCacheMs int `mapstructure:"ticker_cache_ms"`
}

type VenueConfig struct {
	Name string `mapstructure:"name"`
	// Kind is paper or rest.
	Kind              string  `mapstructure:"kind"`
	BaseURL           string  `mapstructure:"base_url"`
	StreamURL         string  `mapstructure:"stream_url"`
	APIKey            string  `mapstructure:"api_key"`
	APISecret         string  `mapstructure:"api_secret"`
	Passphrase        string  `mapstructure:"passphrase"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// Paper venues only.
	Balances map[string]string `mapstructure:"balances"`
	Prices   map[string]string `mapstructure:"prices"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.read_only", false)

	v.SetDefault("auth.replay_window_ms", 300000)
	v.SetDefault("auth.identity_cache_seconds", 300)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime_minutes", 60)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.key_prefix", "vg:")
	v.SetDefault("redis.idempotency_ttl_seconds", 86400)

	v.SetDefault("ratelimit.default.window_ms", 60000)
	v.SetDefault("ratelimit.default.max_requests", 100)
	v.SetDefault("ratelimit.global_per_source.window_ms", 60000)
	v.SetDefault("ratelimit.global_per_source.max_requests", 300)

	v.SetDefault("orders.retry.max_attempts", 3)
	v.SetDefault("orders.retry.base_delay_ms", 1000)
	v.SetDefault("orders.retry.call_timeout_ms", 10000)
	v.SetDefault("orders.reconcile.enabled", true)
	v.SetDefault("orders.reconcile.interval_seconds", 30)
	v.SetDefault("orders.reconcile.batch_size", 100)
	v.SetDefault("orders.reconcile.concurrency", 4)
	v.SetDefault("orders.reconcile.min_age_seconds", 5)

	v.SetDefault("market.ticker_cache_ms", 2000)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config.yaml from . or ./configs, overlaid with VENUEGATE_* env vars.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	return load(v)
}

// LoadFile reads an explicit config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// e.g. VENUEGATE_AUTH_MASTER_KEY
	v.SetEnvPrefix("venuegate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.MasterKey == "" {
		return errors.New("auth.master_key is required")
	}
	if c.Auth.ReplayWindowMs <= 0 {
		return errors.New("auth.replay_window_ms must be positive")
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.RateLimit.Default.MaxRequests <= 0 || c.RateLimit.Default.WindowMs <= 0 {
		return errors.New("ratelimit.default needs a positive window_ms and max_requests")
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, vc := range c.Venues {
		if vc.Name == "" {
			return errors.New("venue name is required")
		}
		if seen[vc.Name] {
			return fmt.Errorf("duplicate venue %q", vc.Name)
		}
		seen[vc.Name] = true
		switch vc.Kind {
		case "paper":
		case "rest":
			if vc.BaseURL == "" {
				return fmt.Errorf("venue %q: base_url is required", vc.Name)
			}
		default:
			return fmt.Errorf("venue %q: unknown kind %q", vc.Name, vc.Kind)
		}
	}
	return nil
}

func (c *Config) ReplayWindow() time.Duration {
	return time.Duration(c.Auth.ReplayWindowMs) * time.Millisecond
}

func (c *Config) IdentityCacheTTL() time.Duration {
	return time.Duration(c.Auth.IdentityCacheSeconds) * time.Second
}
