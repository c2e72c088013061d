// Package storage provides connection management for the permission
// engine's backing stores.
//
// # Overview
//
// The engine persists its catalog, roles, assignments, and overrides in
// PostgreSQL and optionally shares its decision cache through Redis.
// This package holds the connection configuration for both, plus the
// managers that open, pool, and health-check those connections. It does
// not run queries itself; the authorization store and decision cache
// own their own SQL and Redis commands.
//
// # Configuration
//
// Config carries the connection settings loaded by pkg/config:
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://localhost/porter"
//	cfg.PostgresReplicaURLs = "postgres://replica1/porter,postgres://replica2/porter"
//	cfg.RedisURL = "redis://localhost:6379"
//
// # PostgreSQL Connections
//
// The postgres subpackage provides a ConnectionManager that maintains a
// primary pool for writes and optional read-replica pools with
// round-robin routing:
//
//	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
//		PrimaryURL:  cfg.PostgresURL,
//		ReplicaURLs: postgres.ParseReplicaURLs(cfg.PostgresReplicaURLs),
//		MaxConns:    cfg.PostgresMaxConns,
//	}, logger)
//
//	writes := cm.Primary()
//	reads := cm.Replica()
//
// Replicas are optional. With none configured, Replica() returns the
// primary and the engine runs single-node.
//
// # Redis Connections
//
// The postgres subpackage also builds the Redis client consumed by the
// redis decision-cache backend and the readiness probe:
//
//	rc, err := postgres.NewRedisClient(cfg)
//	defer rc.Close()
//
// # Related Packages
//
//   - pkg/config: loads Config from PORTER_* environment variables
//   - pkg/authz: the store and decision cache built on these connections
//   - pkg/observability: health checks ping these pools
package storage
