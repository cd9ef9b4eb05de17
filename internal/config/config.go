package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	Database  DatabaseConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Brokers   BrokersConfig
	API       APIConfig
	Retention RetentionConfig
}

// DatabaseConfig holds the rule/trigger store configuration
type DatabaseConfig struct {
	Driver          string // "sqlite" or "postgres"
	Path            string // sqlite file path
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration for the optional trigger stream
type RedisConfig struct {
	Enabled       bool
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	TriggerStream string
}

// EngineConfig holds the quote engine loop configuration shared by every engine
type EngineConfig struct {
	PollInterval           time.Duration
	CooldownCycles         int
	ReconcileInterval      time.Duration // wall-clock reconciliation when > 0, replaces CooldownCycles
	IdleBackoff            time.Duration
	ErrorBackoff           time.Duration
	MaxConsecutiveFailures int // 0 means unlimited
	WebhookTimeout         time.Duration
}

// BrokersConfig describes which engines to run
type BrokersConfig struct {
	EnginesFile string
	// Fallback single engine when no engines file is configured
	Name    string
	Adapter string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// APIConfig holds REST API configuration
type APIConfig struct {
	Port         int
	JWTSecret    string
	RateLimitRPS int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RetentionConfig controls purging of old trigger records
type RetentionConfig struct {
	TriggerRetentionDays int // 0 disables purging
	PurgeSchedule        string
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Path:            getEnv("DB_PATH", "diting.db"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "diting"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:       getEnvAsBool("REDIS_ENABLED", false),
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvAsInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			PoolSize:      getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
			TriggerStream: getEnv("REDIS_TRIGGER_STREAM", "diting.triggers"),
		},
		Engine: EngineConfig{
			PollInterval:           getEnvAsDuration("ENGINE_POLL_INTERVAL", 1*time.Second),
			CooldownCycles:         getEnvAsInt("ENGINE_COOLDOWN_CYCLES", 60),
			ReconcileInterval:      getEnvAsDuration("ENGINE_RECONCILE_INTERVAL", 0),
			IdleBackoff:            getEnvAsDuration("ENGINE_IDLE_BACKOFF", 10*time.Second),
			ErrorBackoff:           getEnvAsDuration("ENGINE_ERROR_BACKOFF", 5*time.Second),
			MaxConsecutiveFailures: getEnvAsInt("ENGINE_MAX_CONSECUTIVE_FAILURES", 0),
			WebhookTimeout:         getEnvAsDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		},
		Brokers: BrokersConfig{
			EnginesFile: getEnv("ENGINES_FILE", ""),
			Name:        getEnv("BROKER_NAME", "mock"),
			Adapter:     getEnv("BROKER_ADAPTER", "mock"),
			BaseURL:     getEnv("BROKER_BASE_URL", ""),
			APIKey:      getEnv("BROKER_API_KEY", ""),
			Timeout:     getEnvAsDuration("BROKER_TIMEOUT", 5*time.Second),
		},
		API: APIConfig{
			Port:         getEnvAsInt("API_PORT", 8090),
			JWTSecret:    getEnv("API_JWT_SECRET", ""),
			RateLimitRPS: getEnvAsInt("API_RATE_LIMIT_RPS", 100),
			ReadTimeout:  getEnvAsDuration("API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("API_WRITE_TIMEOUT", 15*time.Second),
		},
		Retention: RetentionConfig{
			TriggerRetentionDays: getEnvAsInt("TRIGGER_RETENTION_DAYS", 0),
			PurgeSchedule:        getEnv("TRIGGER_PURGE_SCHEDULE", "0 3 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED is set")
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("ENGINE_POLL_INTERVAL must be positive")
	}
	if c.Engine.CooldownCycles <= 0 {
		return fmt.Errorf("ENGINE_COOLDOWN_CYCLES must be positive")
	}
	if c.Engine.ReconcileInterval < 0 {
		return fmt.Errorf("ENGINE_RECONCILE_INTERVAL must not be negative")
	}
	if c.Engine.WebhookTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be positive")
	}
	if c.Engine.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("ENGINE_MAX_CONSECUTIVE_FAILURES must not be negative")
	}
	if c.Retention.TriggerRetentionDays < 0 {
		return fmt.Errorf("TRIGGER_RETENTION_DAYS must not be negative")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
