// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. Binaries layer flags on top of it for
// operator overrides.
//
// # Configuration Structure
//
// Server settings:
//
//	PORTER_HOST="0.0.0.0"
//	PORTER_PORT="8080"
//	PORTER_HEALTH_PORT="9090"
//	PORTER_READ_TIMEOUT="15s"
//	PORTER_WRITE_TIMEOUT="15s"
//	PORTER_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	PORTER_POSTGRES_URL="postgres://localhost/porter"
//	PORTER_POSTGRES_REPLICA_URLS="postgres://replica1/porter,postgres://replica2/porter"
//	PORTER_POSTGRES_MAX_CONNS="20"
//	PORTER_REDIS_URL="redis://localhost:6379"
//	PORTER_REDIS_POOL_SIZE="10"
//
// Permission engine settings:
//
//	PORTER_CACHE_BACKEND="memory"  # memory, redis, none
//	PORTER_CACHE_TTL="5m"
//	PORTER_CACHE_SIZE="10000"
//	PORTER_STORE_TIMEOUT="2s"
//	PORTER_LEGACY_POLICY_PATH="/etc/porter/legacy.yaml"
//	PORTER_LEGACY_POLICY_WATCH="false"
//	PORTER_SWEEP_INTERVAL="1h"
//	PORTER_SWEEP_GRACE="24h"
//
// Audit settings:
//
//	PORTER_AUDIT_ENABLED="true"
//	PORTER_AUDIT_RETENTION_DAYS="90"
//
// Observability settings:
//
//	PORTER_LOG_LEVEL="info"  # debug, info, warn, error
//	PORTER_METRICS_ENABLED="true"
//	PORTER_OTEL_ENABLED="false"
//	PORTER_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Cache backend: %s\n", cfg.Authz.CacheBackend)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: connection settings loaded into storage.Config
//   - pkg/authz: the engine wired from AuthzConfig
//   - pkg/observability: logging, metrics, and tracing configuration
package config
