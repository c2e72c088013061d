package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stayops/porter/pkg/observability"
	"github.com/stayops/porter/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage connection configuration
	Storage storage.Config

	// Permission engine configuration
	Authz AuthzConfig

	// Audit trail configuration
	Audit AuditConfig

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
}

// AuthzConfig holds the permission engine settings
type AuthzConfig struct {
	// CacheBackend selects the decision cache: memory, redis, or none
	CacheBackend string

	// CacheTTL bounds how long a computed effective set may be served
	CacheTTL time.Duration

	// CacheSize is the entry limit for the in-memory backend
	CacheSize int

	// StoreTimeout bounds each aggregation's database access
	StoreTimeout time.Duration

	// LegacyPolicyPath optionally replaces the built-in legacy role
	// table with a YAML policy file
	LegacyPolicyPath string

	// WatchLegacyPolicy hot-reloads the policy file on change
	WatchLegacyPolicy bool

	// SweepInterval is how often the sweeper deactivates expired
	// assignments
	SweepInterval time.Duration

	// SweepGrace keeps expired assignments active for this long past
	// their expiry before the sweeper deactivates them
	SweepGrace time.Duration
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled       bool
	RetentionDays int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Authz:         loadAuthzConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PORTER_HOST", "0.0.0.0"),
		Port:            getEnv("PORTER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PORTER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PORTER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PORTER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PORTER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PORTER_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads connection configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("PORTER_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("PORTER_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("PORTER_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("PORTER_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("PORTER_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	if lifetime := getEnvDuration("PORTER_POSTGRES_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.PostgresMaxLifetime = lifetime
	}
	if idleTime := getEnvDuration("PORTER_POSTGRES_MAX_IDLE_TIME", 0); idleTime > 0 {
		cfg.PostgresMaxIdleTime = idleTime
	}

	// Redis config
	if redisURL := getEnv("PORTER_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("PORTER_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("PORTER_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("PORTER_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("PORTER_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadAuthzConfig loads permission engine configuration from environment
func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		CacheBackend:      strings.ToLower(getEnv("PORTER_CACHE_BACKEND", "memory")),
		CacheTTL:          getEnvDuration("PORTER_CACHE_TTL", 5*time.Minute),
		CacheSize:         getEnvInt("PORTER_CACHE_SIZE", 10000),
		StoreTimeout:      getEnvDuration("PORTER_STORE_TIMEOUT", 2*time.Second),
		LegacyPolicyPath:  getEnv("PORTER_LEGACY_POLICY_PATH", ""),
		WatchLegacyPolicy: getEnvBool("PORTER_LEGACY_POLICY_WATCH", false),
		SweepInterval:     getEnvDuration("PORTER_SWEEP_INTERVAL", 1*time.Hour),
		SweepGrace:        getEnvDuration("PORTER_SWEEP_GRACE", 24*time.Hour),
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       getEnvBool("PORTER_AUDIT_ENABLED", true),
		RetentionDays: getEnvInt("PORTER_AUDIT_RETENTION_DAYS", 90),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("PORTER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PORTER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PORTER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PORTER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PORTER_OTEL_SERVICE_NAME", "porter"),
		OTelServiceVersion: getEnv("PORTER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PORTER_OTEL_INSECURE", true),
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

	// The engine cannot run without its database
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate decision cache config
	switch c.Authz.CacheBackend {
	case "memory":
		if c.Authz.CacheSize <= 0 {
			return fmt.Errorf("cache size must be positive for the memory cache backend")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	case "none":
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.Authz.CacheBackend)
	}
	if c.Authz.CacheBackend != "none" && c.Authz.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Authz.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	if c.Authz.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.Authz.SweepGrace < 0 {
		return fmt.Errorf("sweep grace must not be negative")
	}

	// Validate audit config
	if c.Audit.Enabled && c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit retention must be at least 1 day")
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

// parseLogLevel parses a log level string, falling back to info
func parseLogLevel(level string) observability.LogLevel {
	parsed, err := observability.ParseLevel(level)
	if err != nil {
		return observability.InfoLevel
	}
	return parsed
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
