// Package config loads runtime settings from defaults, an optional YAML
// file, a .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"

	defaultSQLitePath = "polls.db"
)

// Config is the full application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	CORS        CORSConfig
	RateLimit   RateLimitConfig
	Sweeper     SweeperConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectRetries  uint
}

// RedisConfig is optional. An empty Addr disables every Redis-backed component.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type SweeperConfig struct {
	Interval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// IsDevelopment reports whether the app runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Option configures the loader
type Option func(*loaderConfig) error

type loaderConfig struct {
	file     string
	envFiles []string
	flags    map[string]*pflag.Flag
}

// WithConfigFile reads a YAML file with the same flat keys as the
// environment variables (server_port, db_driver, ...).
func WithConfigFile(path string) Option {
	return func(lc *loaderConfig) error {
		lc.file = path
		return nil
	}
}

// WithEnvFiles loads dotenv files before reading the environment. Missing
// files are ignored.
func WithEnvFiles(paths ...string) Option {
	return func(lc *loaderConfig) error {
		lc.envFiles = append(lc.envFiles, paths...)
		return nil
	}
}

// WithFlag binds a command-line flag to a config key. The flag wins over
// every other source when it was set explicitly.
func WithFlag(key string, flag *pflag.Flag) Option {
	return func(lc *loaderConfig) error {
		if flag == nil {
			return fmt.Errorf("flag for key %q is not defined", key)
		}
		if lc.flags == nil {
			lc.flags = make(map[string]*pflag.Flag)
		}
		lc.flags[key] = flag
		return nil
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server_port", 8090)
	v.SetDefault("server_read_timeout", 10*time.Second)
	v.SetDefault("server_write_timeout", 15*time.Second)
	v.SetDefault("server_shutdown_timeout", 5*time.Second)

	v.SetDefault("db_driver", DriverSQLite)
	v.SetDefault("database_url", "")
	v.SetDefault("db_max_open_conns", 25)
	v.SetDefault("db_max_idle_conns", 5)
	v.SetDefault("db_conn_max_lifetime", 5*time.Minute)
	v.SetDefault("db_connect_retries", 5)

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_ttl", time.Minute)

	v.SetDefault("cors_allowed_origins", "http://localhost:4200,http://127.0.0.1:4200")

	v.SetDefault("rate_limit_enabled", false)
	v.SetDefault("rate_limit_rps", 10.0)
	v.SetDefault("rate_limit_burst", 20)

	v.SetDefault("sweep_interval", time.Minute)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load builds a Config from all sources and validates it.
func Load(opts ...Option) (*Config, error) {
	lc := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(lc); err != nil {
			return nil, err
		}
	}

	for _, path := range lc.envFiles {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if lc.file != "" {
		v.SetConfigFile(lc.file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", lc.file, err)
		}
	}

	for key, flag := range lc.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	cfg := &Config{
		Environment: v.GetString("environment"),
		Server: ServerConfig{
			Port:            v.GetInt("server_port"),
			ReadTimeout:     v.GetDuration("server_read_timeout"),
			WriteTimeout:    v.GetDuration("server_write_timeout"),
			ShutdownTimeout: v.GetDuration("server_shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(strings.TrimSpace(v.GetString("db_driver"))),
			URL:             strings.TrimSpace(v.GetString("database_url")),
			MaxOpenConns:    v.GetInt("db_max_open_conns"),
			MaxIdleConns:    v.GetInt("db_max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("db_conn_max_lifetime"),
			ConnectRetries:  v.GetUint("db_connect_retries"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("redis_addr")),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
			CacheTTL: v.GetDuration("cache_ttl"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("cors_allowed_origins")),
		},
		RateLimit: RateLimitConfig{
			Enabled: v.GetBool("rate_limit_enabled"),
			RPS:     v.GetFloat64("rate_limit_rps"),
			Burst:   v.GetInt("rate_limit_burst"),
		},
		Sweeper: SweeperConfig{
			Interval: v.GetDuration("sweep_interval"),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}

	if cfg.Database.URL == "" && cfg.Database.Driver == DriverSQLite {
		cfg.Database.URL = defaultSQLitePath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the app cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("unsupported db driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database_url is required for driver %s", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Sweeper.Interval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate_limit_rps and rate_limit_burst must be positive when rate limiting is enabled")
	}
	if c.Redis.Enabled() && c.Redis.CacheTTL <= 0 {
		return errors.New("cache_ttl must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
