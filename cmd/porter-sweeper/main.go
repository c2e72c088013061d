package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/stayops/porter/pkg/audit"
	"github.com/stayops/porter/pkg/authz"
	"github.com/stayops/porter/pkg/observability"
)

var (
	dbURL         = flag.String("db-url", getEnv("PORTER_POSTGRES_URL", "postgres://localhost/porter?sslmode=disable"), "PostgreSQL connection URL")
	sweepSchedule = flag.String("sweep-schedule", "0 * * * *", "Cron schedule for expired-assignment sweeps (default: hourly)")
	pruneSchedule = flag.String("prune-schedule", "30 2 * * *", "Cron schedule for audit retention pruning (default: 02:30 UTC)")
	statsSchedule = flag.String("stats-schedule", "*/15 * * * *", "Cron schedule for engine stats logging (default: every 15 minutes)")
	sweepGrace    = flag.Duration("sweep-grace", getEnvDuration("PORTER_SWEEP_GRACE", 24*time.Hour), "Keep expired assignments active this long past expiry")
	retentionDays = flag.Int("retention-days", getEnvInt("PORTER_AUDIT_RETENTION_DAYS", 90), "Audit log retention in days")
	archivePath   = flag.String("archive-path", getEnv("PORTER_AUDIT_ARCHIVE_PATH", ""), "Archive pruned audit logs to this directory (empty disables archiving)")
	runOnce       = flag.Bool("run-once", false, "Run one sweep/prune/stats cycle and exit")
	logLevel      = flag.String("log-level", getEnv("PORTER_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("Failed to ping database")
	}

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		log.WithError(err).Fatal("Failed to create audit logger")
	}
	auditStore := audit.NewDBStore(auditLogger)

	// The sweeper shares the engine's store through a cache-less manager;
	// expired assignments are already invisible to evaluation, so sweeping
	// needs no cache invalidation.
	engineCfg := authz.DefaultConfig()
	engineCfg.CacheBackend = authz.CacheBackendNone
	manager, err := authz.NewManager(db, nil, auditLogger, nil, nil, engineCfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to build permission engine")
	}

	retention := audit.RetentionPolicy{
		RetentionDays:   *retentionDays,
		ArchiveEnabled:  *archivePath != "",
		ArchivePath:     *archivePath,
		CompressArchive: true,
	}

	sweep := func(ctx context.Context) error {
		removed, err := manager.SweepExpiredAssignments(ctx, *sweepGrace)
		if err != nil {
			return err
		}
		log.WithField("deactivated", removed).Info("Assignment sweep completed")
		return auditLogger.LogMaintenance(ctx, audit.EventTypeMaintenanceSweep,
			"deactivated "+strconv.FormatInt(removed, 10)+" expired assignments",
			map[string]interface{}{
				"deactivated": removed,
				"grace":       sweepGrace.String(),
			})
	}

	prune := func(ctx context.Context) error {
		removed, err := auditStore.Cleanup(ctx, retention)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"pruned":         removed,
			"retention_days": retention.RetentionDays,
			"archived":       retention.ArchiveEnabled,
		}).Info("Audit prune completed")
		return auditLogger.LogMaintenance(ctx, audit.EventTypeMaintenancePrune,
			"pruned "+strconv.FormatInt(removed, 10)+" audit events",
			map[string]interface{}{
				"pruned":         removed,
				"retention_days": retention.RetentionDays,
			})
	}

	stats := func(ctx context.Context) error {
		s, err := manager.GetStats(ctx)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"roles":              s.Roles,
			"active_assignments": s.ActiveAssignments,
			"overrides":          s.Overrides,
			"catalog_size":       s.CatalogSize,
			"cache_hit_rate":     s.Cache.HitRate,
			"cache_items":        s.Cache.ItemCount,
		}).Info("Engine stats")
		return nil
	}

	// Run once mode (for testing or manual maintenance)
	if *runOnce {
		runJob(log, "assignment sweep", sweep)
		runJob(log, "audit prune", prune)
		runJob(log, "engine stats", stats)
		log.Info("Run-once cycle completed")
		return
	}

	// Scheduled mode
	c := cron.New()

	if _, err := c.AddFunc(*sweepSchedule, func() { runJob(log, "assignment sweep", sweep) }); err != nil {
		log.WithError(err).Fatal("Failed to schedule assignment sweep")
	}
	if _, err := c.AddFunc(*pruneSchedule, func() { runJob(log, "audit prune", prune) }); err != nil {
		log.WithError(err).Fatal("Failed to schedule audit prune")
	}
	if _, err := c.AddFunc(*statsSchedule, func() { runJob(log, "engine stats", stats) }); err != nil {
		log.WithError(err).Fatal("Failed to schedule engine stats")
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"sweep_schedule": *sweepSchedule,
		"prune_schedule": *pruneSchedule,
		"stats_schedule": *statsSchedule,
		"sweep_grace":    sweepGrace.String(),
	}).Info("Porter sweeper started")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutting down, waiting for running jobs")

	ctx := c.Stop()
	<-ctx.Done()

	log.Info("Sweeper stopped")
}

// runJob runs a maintenance job with a bounded context, converting
// panics to logged errors so one bad job cannot take the daemon down.
func runJob(log *logrus.Logger, name string, fn func(context.Context) error) {
	defer func() {
		if err := observability.MustRecover(recover()); err != nil {
			log.WithError(err).WithField("job", name).Error("Job panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := fn(ctx); err != nil {
		log.WithError(err).WithField("job", name).Error("Job failed")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
