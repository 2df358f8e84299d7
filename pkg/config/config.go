// Package config loads application configuration from EWERS_* environment
// variables and validates it before the server starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ewers-io/ewers/pkg/observability"
	"github.com/ewers-io/ewers/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Webhook dispatch configuration
	Webhooks WebhookConfig

	// Broadcast channel configuration
	Broadcast BroadcastConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CORS allowed origins, comma separated. Empty allows none.
	CORSOrigins []string
}

// WebhookConfig holds webhook dispatch settings
type WebhookConfig struct {
	// Concurrency bounds parallel deliveries within one fan-out
	Concurrency int
	// DeliveryTimeout bounds a single delivery attempt
	DeliveryTimeout time.Duration
	// LogsPerHook caps how many delivery log entries are kept per webhook
	LogsPerHook int
	// MaxTrackedHooks caps how many webhooks have delivery logs in memory
	MaxTrackedHooks int
	// ArchiveSchedule is the cron schedule for flushing delivery logs to
	// the archive backend
	ArchiveSchedule string
}

// BroadcastConfig holds alert broadcast settings
type BroadcastConfig struct {
	// ChannelsFile points at the YAML channel/recipient configuration.
	// Empty disables channel broadcast.
	ChannelsFile string
}

// RateLimitConfig holds request rate limit settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	// Distributed switches from in-process token buckets to Redis counters
	Distributed bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// Expiry sweeper cron schedule
	SweepSchedule string

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Webhooks:      loadWebhookConfig(),
		Broadcast:     loadBroadcastConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	cfg := ServerConfig{
		Host:            getEnv("EWERS_HOST", "0.0.0.0"),
		Port:            getEnv("EWERS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("EWERS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("EWERS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("EWERS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("EWERS_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("EWERS_HEALTH_PORT", "9090"),
	}
	if origins := getEnv("EWERS_CORS_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	return cfg
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// Storage type
	if storageType := getEnv("EWERS_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}

	// PostgreSQL config
	if pgURL := getEnv("EWERS_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("EWERS_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("EWERS_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("EWERS_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("EWERS_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("EWERS_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("EWERS_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("EWERS_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("EWERS_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// API key cache config
	if cacheEnabled := getEnv("EWERS_CACHE_ENABLED", ""); cacheEnabled != "" {
		cfg.CacheEnabled = strings.ToLower(cacheEnabled) == "true"
	}
	if cacheTTL := getEnvDuration("EWERS_CACHE_TTL", 0); cacheTTL > 0 {
		cfg.CacheTTL = cacheTTL
	}

	// S3 delivery log archive config
	if s3Endpoint := getEnv("EWERS_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("EWERS_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("EWERS_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("EWERS_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("EWERS_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("EWERS_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}
	if archiveEnabled := getEnv("EWERS_ARCHIVE_ENABLED", ""); archiveEnabled != "" {
		cfg.ArchiveEnabled = strings.ToLower(archiveEnabled) == "true"
	}

	return cfg
}

// loadWebhookConfig loads webhook dispatch configuration from environment
func loadWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Concurrency:     getEnvInt("EWERS_WEBHOOK_CONCURRENCY", 10),
		DeliveryTimeout: getEnvDuration("EWERS_WEBHOOK_DELIVERY_TIMEOUT", 10*time.Second),
		LogsPerHook:     getEnvInt("EWERS_WEBHOOK_LOGS_PER_HOOK", 100),
		MaxTrackedHooks: getEnvInt("EWERS_WEBHOOK_MAX_TRACKED_HOOKS", 1024),
		ArchiveSchedule: getEnv("EWERS_WEBHOOK_ARCHIVE_SCHEDULE", "@every 15m"),
	}
}

// loadBroadcastConfig loads broadcast configuration from environment
func loadBroadcastConfig() BroadcastConfig {
	return BroadcastConfig{
		ChannelsFile: getEnv("EWERS_BROADCAST_CHANNELS_FILE", ""),
	}
}

// loadRateLimitConfig loads rate limit configuration from environment
func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("EWERS_RATE_LIMIT_ENABLED", true),
		RequestsPerMinute: getEnvInt("EWERS_RATE_LIMIT_PER_MINUTE", 100),
		Burst:             getEnvInt("EWERS_RATE_LIMIT_BURST", 10),
		Distributed:       getEnvBool("EWERS_RATE_LIMIT_DISTRIBUTED", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("EWERS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("EWERS_METRICS_ENABLED", true),
		SweepSchedule:      getEnv("EWERS_KEY_SWEEP_SCHEDULE", "@every 1h"),
		OTelEnabled:        getEnvBool("EWERS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("EWERS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("EWERS_OTEL_SERVICE_NAME", "ewers"),
		OTelServiceVersion: getEnv("EWERS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("EWERS_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case "memory":
		// No backing services required
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
		if c.Storage.ArchiveEnabled && c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required when delivery log archiving is enabled")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	if c.Storage.CacheEnabled && c.Storage.Type == "postgres" && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required when the API key cache is enabled")
	}
	if c.RateLimit.Distributed && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required for distributed rate limiting")
	}

	if c.Webhooks.Concurrency <= 0 {
		return fmt.Errorf("webhook concurrency must be positive")
	}
	if c.Webhooks.DeliveryTimeout <= 0 {
		return fmt.Errorf("webhook delivery timeout must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
