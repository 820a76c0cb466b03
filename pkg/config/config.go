package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds permission cache backend configuration
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CacheConfig holds permission cache tuning
type CacheConfig struct {
	// TTL bounds cached permission sets; invalidation is explicit and
	// synchronous, the TTL is only a backstop.
	TTL time.Duration `yaml:"ttl"`
	// FieldGrantLRUSize bounds the in-process field-grant map cache.
	FieldGrantLRUSize int `yaml:"field_grant_lru_size"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the built-in configuration defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:      "redis://localhost:6379",
			PoolSize: 10,
		},
		Cache: CacheConfig{
			TTL:               5 * time.Minute,
			FieldGrantLRUSize: 4096,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds configuration from defaults, an optional YAML file named by
// MERIDIAN_CONFIG_FILE, and MERIDIAN_* environment variable overrides, in
// that order of precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("MERIDIAN_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.NewConfiguration("reading config file "+path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.NewConfiguration("parsing config file "+path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("MERIDIAN_HOST", c.Server.Host)
	c.Server.Port = getEnv("MERIDIAN_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("MERIDIAN_HEALTH_PORT", c.Server.HealthPort)
	c.Server.ReadTimeout = getEnvDuration("MERIDIAN_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("MERIDIAN_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("MERIDIAN_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("MERIDIAN_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.URL = getEnv("MERIDIAN_POSTGRES_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("MERIDIAN_POSTGRES_MAX_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("MERIDIAN_POSTGRES_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Redis.URL = getEnv("MERIDIAN_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("MERIDIAN_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("MERIDIAN_REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("MERIDIAN_REDIS_POOL_SIZE", c.Redis.PoolSize)

	c.Cache.TTL = getEnvDuration("MERIDIAN_CACHE_TTL", c.Cache.TTL)
	c.Cache.FieldGrantLRUSize = getEnvInt("MERIDIAN_FIELD_GRANT_LRU_SIZE", c.Cache.FieldGrantLRUSize)

	c.Log.Level = getEnv("MERIDIAN_LOG_LEVEL", c.Log.Level)
}

// Validate checks if the configuration is valid. Violations are fatal
// configuration errors, never silently defaulted.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return apperrors.NewConfiguration("server port is required", nil)
	}
	if c.Server.HealthPort == "" {
		return apperrors.NewConfiguration("health port is required", nil)
	}
	if c.Server.Port == c.Server.HealthPort {
		return apperrors.NewConfiguration("server port and health port must be different", nil)
	}
	if c.Database.URL == "" {
		return apperrors.NewConfiguration("postgres URL is required (MERIDIAN_POSTGRES_URL)", nil)
	}
	if c.Redis.URL == "" {
		return apperrors.NewConfiguration("redis URL is required (MERIDIAN_REDIS_URL)", nil)
	}
	if c.Cache.TTL <= 0 {
		return apperrors.NewConfiguration("cache TTL must be positive", nil)
	}
	if c.Cache.FieldGrantLRUSize <= 0 {
		return apperrors.NewConfiguration("field grant LRU size must be positive", nil)
	}
	return nil
}

// LogLevel returns the parsed log level
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(strings.ToLower(c.Log.Level))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
