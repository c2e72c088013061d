package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stayops/porter/pkg/audit"
	"github.com/stayops/porter/pkg/authz"
	"github.com/stayops/porter/pkg/config"
	"github.com/stayops/porter/pkg/httputil"
	"github.com/stayops/porter/pkg/observability"
	"github.com/stayops/porter/pkg/storage/postgres"
)

// Flags override the PORTER_* environment configuration.
var (
	port             = flag.String("port", "", "HTTP listen port (overrides PORTER_PORT)")
	healthPort       = flag.String("health-port", "", "health/metrics listen port (overrides PORTER_HEALTH_PORT)")
	postgresURL      = flag.String("postgres-url", "", "PostgreSQL connection URL (overrides PORTER_POSTGRES_URL)")
	redisURL         = flag.String("redis-url", "", "Redis connection URL (overrides PORTER_REDIS_URL)")
	cacheBackend     = flag.String("cache-backend", "", "decision cache backend: memory, redis, or none (overrides PORTER_CACHE_BACKEND)")
	legacyPolicyPath = flag.String("legacy-policy", "", "legacy role policy YAML file (overrides PORTER_LEGACY_POLICY_PATH)")
	logLevel         = flag.String("log-level", "", "log level: debug, info, warn, error (overrides PORTER_LOG_LEVEL)")
)

func main() {
	flag.Parse()

	overrideEnv("PORTER_PORT", *port)
	overrideEnv("PORTER_HEALTH_PORT", *healthPort)
	overrideEnv("PORTER_POSTGRES_URL", *postgresURL)
	overrideEnv("PORTER_REDIS_URL", *redisURL)
	overrideEnv("PORTER_CACHE_BACKEND", *cacheBackend)
	overrideEnv("PORTER_LEGACY_POLICY_PATH", *legacyPolicyPath)
	overrideEnv("PORTER_LOG_LEVEL", *logLevel)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "porter: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).Named("porter")
	logger.WithFields(map[string]interface{}{
		"version":       observability.Version,
		"cache_backend": cfg.Authz.CacheBackend,
	}).Info("Starting porter")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("porter exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	// Database pools: primary for writes and migrations, replicas for
	// aggregation reads.
	connMgr, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Storage.PostgresReplicaURLs),
		MaxConns:    cfg.Storage.PostgresMaxConns,
		MinConns:    cfg.Storage.PostgresMinConns,
		Timeout:     cfg.Storage.PostgresTimeout,
		MaxLifetime: cfg.Storage.PostgresMaxLifetime,
		MaxIdleTime: cfg.Storage.PostgresMaxIdleTime,
	}, logger)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	connMgr.StartHealthCheckRoutine(watchCtx, 30*time.Second)

	// Redis backs the decision cache when configured; otherwise it only
	// participates in the readiness probe.
	var redisClient *postgres.RedisClient
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			if cfg.Authz.CacheBackend == authz.CacheBackendRedis {
				return fmt.Errorf("redis connection failed: %w", err)
			}
			logger.WithError(err).Warn("Redis unavailable, readiness will report degraded")
		}
	}

	// Audit trail: file/DB sinks behind one logger, HTTP middleware, and
	// the query API.
	var (
		auditLogger   audit.Logger = audit.NewNoopLogger()
		auditMW       *audit.Middleware
		auditHandlers *audit.Handlers
	)
	if cfg.Audit.Enabled {
		integration := audit.DefaultIntegrationConfig(connMgr.Primary())
		integration.RetentionPolicy.RetentionDays = cfg.Audit.RetentionDays
		auditLogger, auditMW, auditHandlers, err = audit.SetupAuditLogging(integration)
		if err != nil {
			return fmt.Errorf("audit setup failed: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("opentelemetry init failed: %w", err)
	}
	var otelMetrics *observability.OTelMetrics
	if providers != nil {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return fmt.Errorf("opentelemetry metrics init failed: %w", err)
		}
	}

	// Permission engine.
	authzCfg := authz.Config{
		CacheBackend:      cfg.Authz.CacheBackend,
		CacheTTL:          cfg.Authz.CacheTTL,
		CacheSize:         cfg.Authz.CacheSize,
		StoreTimeout:      cfg.Authz.StoreTimeout,
		LegacyPolicyPath:  cfg.Authz.LegacyPolicyPath,
		WatchLegacyPolicy: cfg.Authz.WatchLegacyPolicy,
	}
	if redisClient != nil {
		authzCfg.Redis = redisClient.GetClient()
	}

	manager, err := authz.NewManager(connMgr.Primary(), connMgr.Replica(), auditLogger, logger, metrics, authzCfg)
	if err != nil {
		return fmt.Errorf("engine construction failed: %w", err)
	}

	// Migrations, catalog seeding, system roles, registry validation.
	// Re-runnable, so every instance does it on startup.
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("engine initialization failed: %w", err)
	}
	logger.Info("Engine initialized")

	go func() {
		defer observability.RecoverPanic(logger, "legacy policy watch")
		if err := manager.StartPolicyWatch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Legacy policy watch stopped")
		}
	}()

	// Keep the engine state and pool gauges current; GetStats refreshes
	// the engine gauges as a side effect.
	if metrics != nil || otelMetrics != nil {
		go func() {
			defer observability.RecoverPanic(logger, "stats refresh")
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-watchCtx.Done():
					return
				case <-ticker.C:
					pool := connMgr.Stats().Primary
					if metrics != nil {
						if _, err := manager.GetStats(watchCtx); err != nil {
							logger.WithError(err).Debug("Stats refresh failed")
						}
						metrics.DBConnectionsActive.Set(float64(pool.InUse))
						metrics.DBConnectionsIdle.Set(float64(pool.Idle))
						metrics.DBConnectionsWaitCount.Set(float64(pool.WaitCount))
						metrics.DBConnectionsWaitDuration.Set(pool.WaitDuration.Seconds())
					}
					if otelMetrics != nil {
						otelMetrics.UpdateDBConnectionStats(watchCtx, pool.InUse, pool.Idle)
					}
				}
			}
		}()
	}

	// Admin API surface under /api/v1.
	router := mux.NewRouter()
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	manager.RegisterRoutes(apiRouter)
	if auditHandlers != nil {
		audit.AddAuditRoutes(apiRouter.PathPrefix("/authz").Subrouter(), auditHandlers)
	}

	handler := httputil.Chain(
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.TimeoutMiddleware(cfg.Server.WriteTimeout),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(1<<20),
	)(router)
	if metrics != nil {
		handler = observability.HTTPMetricsMiddleware(metrics)(handler)
	}
	if auditMW != nil {
		handler = auditMW.Handler(handler)
	}
	handler = httputil.RequestIDMiddleware(handler)
	if providers != nil {
		handler = otelhttp.NewHandler(handler, "porter")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics live on their own port so the probes stay
	// reachable when the admin API saturates.
	healthChecker := observability.NewHealthChecker(connMgr.Primary(), authzCfg.Redis)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, healthChecker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 2)
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Health endpoints listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("health server failed: %w", err)
		}
	}()
	go func() {
		logger.WithField("addr", server.Addr).Info("Admin API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server failed: %w", err)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health server", func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc("legacy policy watch", func(ctx context.Context) error {
		cancelWatch()
		return nil
	})
	shutdown.RegisterShutdownFunc("audit logger", func(ctx context.Context) error {
		return auditLogger.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("database", func(ctx context.Context) error {
		return connMgr.Close()
	})
	if providers != nil {
		shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- shutdown.WaitForShutdown() }()

	select {
	case err := <-serveErr:
		return err
	case err := <-waitErr:
		return err
	}
}

// overrideEnv pushes a non-empty flag value into the environment so
// config.Load sees one consistent source.
func overrideEnv(key, value string) {
	if value != "" {
		os.Setenv(key, value)
	}
}
