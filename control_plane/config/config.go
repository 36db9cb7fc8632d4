package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the control plane configuration. Values come from defaults, an
// optional YAML file and FLEETOPS_* environment variables, in increasing
// precedence; bound command-line flags win over all of them.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`

	Store       string `mapstructure:"store"`
	PostgresDSN string `mapstructure:"postgres_dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	TrustRegistry string `mapstructure:"trust_registry"`
	TrustFile     string `mapstructure:"trust_file"`

	JWTSecret string `mapstructure:"jwt_secret"`

	SystemID        string        `mapstructure:"system_id"`
	SyncConcurrency int           `mapstructure:"sync_concurrency"`
	SyncInterval    time.Duration `mapstructure:"sync_interval"`

	DispatchRate    float64       `mapstructure:"dispatch_rate"`
	DispatchBurst   int           `mapstructure:"dispatch_burst"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
}

// SetDefaults registers every key on v so that environment variables are
// picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("store", BackendMemory)
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("trust_registry", BackendMemory)
	v.SetDefault("trust_file", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("system_id", "joint-tasking")
	v.SetDefault("sync_concurrency", 0)
	v.SetDefault("sync_interval", time.Duration(0))
	v.SetDefault("dispatch_rate", 5.0)
	v.SetDefault("dispatch_burst", 5)
	v.SetDefault("dispatch_timeout", 10*time.Second)
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("FLEETOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
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
	switch c.Store {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("store=postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	switch c.TrustRegistry {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown trust_registry backend %q", c.TrustRegistry)
	}
	if c.SyncConcurrency < 0 {
		return fmt.Errorf("sync_concurrency must not be negative")
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("sync_interval must not be negative")
	}
	if c.DispatchRate <= 0 || c.DispatchBurst <= 0 {
		return fmt.Errorf("dispatch_rate and dispatch_burst must be positive")
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch_timeout must be positive")
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Store == BackendRedis || c.TrustRegistry == BackendRedis
}
