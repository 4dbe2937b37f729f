// Package config provides configuration management for the placement service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sliceorch/placement/internal/scheduler"
)

// Metrics sources.
const (
	MetricsSourceMemory   = "memory"
	MetricsSourcePostgres = "postgres"
	MetricsSourceCSV      = "csv"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Placement PlacementConfig `mapstructure:"placement"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// URL returns the PostgreSQL connection URL.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	// LockPrefix is the key prefix of placement locks.
	LockPrefix string `mapstructure:"lock_prefix"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// EventsChannel receives every placement decision. Empty disables events.
	EventsChannel string `mapstructure:"events_channel"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig selects where worker metrics are read from.
type MetricsConfig struct {
	Source    string        `mapstructure:"source"`
	CSVPath   string        `mapstructure:"csv_path"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Retention time.Duration `mapstructure:"retention"`
	SeedDemo  bool          `mapstructure:"seed_demo"`
}

// PlacementConfig holds placement engine configuration.
type PlacementConfig struct {
	OverloadWindow  time.Duration `mapstructure:"overload_window"`
	RegimeThreshold float64       `mapstructure:"regime_threshold"`
	DefaultZone     string        `mapstructure:"default_zone"`
	// Serialize runs one placement at a time across replicas using an etcd lock.
	Serialize   bool          `mapstructure:"serialize"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// SchedulerConfig converts the section into the engine configuration.
func (c PlacementConfig) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		OverloadWindow:  c.OverloadWindow,
		RegimeThreshold: c.RegimeThreshold,
		DefaultZone:     c.DefaultZone,
	}
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("PLACEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field rules that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Metrics.Source {
	case MetricsSourceMemory, MetricsSourcePostgres:
	case MetricsSourceCSV:
		if c.Metrics.CSVPath == "" {
			return fmt.Errorf("metrics.csv_path is required for the csv source")
		}
	default:
		return fmt.Errorf("unknown metrics.source %q", c.Metrics.Source)
	}
	if c.Placement.OverloadWindow <= 0 {
		return fmt.Errorf("placement.overload_window must be positive")
	}
	if c.Placement.RegimeThreshold <= 0 || c.Placement.RegimeThreshold > 1 {
		return fmt.Errorf("placement.regime_threshold must be in (0,1], got %v", c.Placement.RegimeThreshold)
	}
	if zone := c.Placement.DefaultZone; zone != "" {
		if _, ok := scheduler.DefaultZones().Get(zone); !ok {
			return fmt.Errorf("unknown placement.default_zone %q", zone)
		}
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "placement")
	v.SetDefault("database.user", "placement")
	v.SetDefault("database.password", "placement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.lock_prefix", "/placement/locks")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.events_channel", "events:placement")

	// Metrics
	v.SetDefault("metrics.source", MetricsSourceMemory)
	v.SetDefault("metrics.cache_ttl", "15s")
	v.SetDefault("metrics.retention", "1h")
	v.SetDefault("metrics.seed_demo", true)

	// Placement
	v.SetDefault("placement.overload_window", scheduler.DefaultOverloadWindow.String())
	v.SetDefault("placement.regime_threshold", scheduler.DefaultRegimeThreshold)
	v.SetDefault("placement.default_zone", scheduler.DefaultZone)
	v.SetDefault("placement.serialize", false)
	v.SetDefault("placement.lock_timeout", "30s")

	// Auth
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.issuer", "")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", true)
}
