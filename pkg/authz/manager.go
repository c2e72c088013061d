package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/stayops/porter/pkg/audit"
	"github.com/stayops/porter/pkg/observability"
)

// Cache backend names accepted by Config.CacheBackend
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Config holds the wiring configuration for the permission engine
type Config struct {
	// CacheBackend selects the decision cache: memory, redis, or none
	CacheBackend string

	// CacheTTL bounds how long a computed effective set may be served
	CacheTTL time.Duration

	// CacheSize is the entry limit for the in-memory backend
	CacheSize int

	// StoreTimeout bounds each aggregation's store access
	StoreTimeout time.Duration

	// LegacyPolicyPath optionally replaces the built-in legacy role
	// table with a YAML file
	LegacyPolicyPath string

	// WatchLegacyPolicy hot-reloads the policy file on change
	WatchLegacyPolicy bool

	// Redis is required when CacheBackend is redis
	Redis *redis.Client
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		CacheBackend: CacheBackendMemory,
		CacheTTL:     DefaultCacheTTL,
		CacheSize:    DefaultCacheSize,
		StoreTimeout: DefaultStoreTimeout,
	}
}

// Manager wires the permission engine together: store, catalog, legacy
// policy, decision cache, evaluator, operation registry, and the admin
// HTTP surface
type Manager struct {
	store      *PostgresStore
	catalog    *Catalog
	legacy     *LegacyPolicySource
	cache      DecisionCache
	evaluator  *Evaluator
	registry   *OperationRegistry
	handlers   *Handlers
	middleware *PermissionMiddleware
	logger     *observability.Logger
	metrics    *observability.Metrics
	config     Config
}

// NewManager builds the engine on the given database handles. replica
// may be nil; reads then use the primary.
func NewManager(primary, replica *sql.DB, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics, config Config) (*Manager, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	store := NewPostgresStoreWithReplica(primary, replica)
	catalog := DefaultCatalog()

	policy := DefaultLegacyPolicy()
	if config.LegacyPolicyPath != "" {
		loaded, err := LoadLegacyPolicy(config.LegacyPolicyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load legacy policy: %w", err)
		}
		policy = loaded
	}
	legacy := NewLegacyPolicySource(policy)

	var cache DecisionCache
	switch config.CacheBackend {
	case CacheBackendMemory, "":
		cache = NewMemoryDecisionCache(config.CacheSize, config.CacheTTL)
	case CacheBackendRedis:
		if config.Redis == nil {
			return nil, fmt.Errorf("cache backend %q requires a redis client", config.CacheBackend)
		}
		cache = NewRedisDecisionCache(config.Redis, config.CacheTTL)
	case CacheBackendNone:
		cache = NewNoopDecisionCache()
	default:
		return nil, fmt.Errorf("unknown cache backend %q", config.CacheBackend)
	}

	aggregator := NewAggregator(store, legacy, logger, metrics)
	evaluator := NewEvaluator(aggregator, cache, logger, metrics)
	if config.StoreTimeout > 0 {
		evaluator.SetStoreTimeout(config.StoreTimeout)
	}

	registry := NewOperationRegistry(catalog)
	if err := registry.RegisterOperations(DefaultOperations()); err != nil {
		return nil, fmt.Errorf("failed to register operations: %w", err)
	}

	return &Manager{
		store:      store,
		catalog:    catalog,
		legacy:     legacy,
		cache:      cache,
		evaluator:  evaluator,
		registry:   registry,
		handlers:   NewHandlers(store, evaluator, catalog, auditLogger),
		middleware: NewPermissionMiddleware(evaluator, registry),
		logger:     logger,
		metrics:    metrics,
		config:     config,
	}, nil
}

// Initialize runs migrations, seeds the permission catalog and the
// built-in system roles, and validates the operation registry. Safe to
// run on every startup.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.store.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	inserted, err := m.store.UpsertPermissions(ctx, m.catalog.List())
	if err != nil {
		return fmt.Errorf("failed to seed permission catalog: %w", err)
	}
	if inserted > 0 {
		m.logger.WithField("inserted", inserted).Info("seeded permission catalog")
	}

	if err := InitializeSystemRoles(ctx, m.store.db); err != nil {
		return fmt.Errorf("failed to initialize system roles: %w", err)
	}

	if err := m.registry.Validate(); err != nil {
		return fmt.Errorf("operation registry validation failed: %w", err)
	}

	return nil
}

// StartPolicyWatch blocks watching the configured legacy policy file,
// invalidating the whole decision cache after each successful reload.
// Returns immediately when no file is configured.
func (m *Manager) StartPolicyWatch(ctx context.Context) error {
	if !m.config.WatchLegacyPolicy || m.config.LegacyPolicyPath == "" {
		return nil
	}
	return m.legacy.WatchFile(ctx, m.config.LegacyPolicyPath, m.logger, func() {
		m.evaluator.InvalidateAll(ctx)
	})
}

// RegisterRoutes registers the admin HTTP surface with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// GetStore returns the assignment store
func (m *Manager) GetStore() *PostgresStore {
	return m.store
}

// GetEvaluator returns the evaluator
func (m *Manager) GetEvaluator() *Evaluator {
	return m.evaluator
}

// GetCatalog returns the permission catalog
func (m *Manager) GetCatalog() *Catalog {
	return m.catalog
}

// GetRegistry returns the operation registry
func (m *Manager) GetRegistry() *OperationRegistry {
	return m.registry
}

// GetMiddleware returns the permission middleware
func (m *Manager) GetMiddleware() *PermissionMiddleware {
	return m.middleware
}

// Check is a convenience wrapper that builds the requirement and
// evaluates it
func (m *Manager) Check(ctx context.Context, resource Resource, action Action, scope ScopeLevel, ec EvaluationContext) Decision {
	required, err := NewRequirement(resource, action, scope)
	if err != nil {
		return Deny(ReasonInvalidRequirement)
	}
	return m.evaluator.Evaluate(ctx, required, ec)
}

// AssignRole assigns a role and invalidates the user's cached set
func (m *Manager) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64, expiresAt *time.Time) (*RoleAssignment, error) {
	assignment := &RoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
	}
	if err := m.store.AssignRole(ctx, assignment); err != nil {
		return nil, err
	}
	if err := m.evaluator.InvalidateUser(ctx, userID); err != nil {
		return assignment, err
	}
	return assignment, nil
}

// RevokeAssignment revokes an assignment and invalidates the affected
// user's cached set
func (m *Manager) RevokeAssignment(ctx context.Context, assignmentID int64) error {
	userID, err := m.store.RevokeAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	return m.evaluator.InvalidateUser(ctx, userID)
}

// SetOverride upserts a user override and invalidates the user's
// cached set
func (m *Manager) SetOverride(ctx context.Context, override *PermissionOverride) error {
	if err := m.store.SetOverride(ctx, override); err != nil {
		return err
	}
	return m.evaluator.InvalidateUser(ctx, override.UserID)
}

// SweepExpiredAssignments deactivates assignments whose expiry passed
// more than grace ago. Evaluation already ignores expired assignments;
// the sweep keeps the table tidy, so no cache invalidation is needed.
func (m *Manager) SweepExpiredAssignments(ctx context.Context, grace time.Duration) (int64, error) {
	return m.store.DeactivateExpiredAssignments(ctx, time.Now().Add(-grace))
}

// Stats summarizes engine state
type Stats struct {
	Roles             int64      `json:"roles"`
	ActiveAssignments int64      `json:"active_assignments"`
	Overrides         int64      `json:"overrides"`
	CatalogSize       int64      `json:"catalog_size"`
	Cache             CacheStats `json:"cache"`
}

// GetStats returns engine statistics and refreshes the state gauges
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Cache: m.evaluator.CacheStats()}

	if err := m.store.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM custom_roles WHERE is_active = TRUE").Scan(&stats.Roles); err != nil {
		return nil, fmt.Errorf("failed to count roles: %w", err)
	}
	if err := m.store.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_role_assignments WHERE is_active = TRUE").Scan(&stats.ActiveAssignments); err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	if err := m.store.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_permission_overrides").Scan(&stats.Overrides); err != nil {
		return nil, fmt.Errorf("failed to count overrides: %w", err)
	}
	if err := m.store.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM permissions").Scan(&stats.CatalogSize); err != nil {
		return nil, fmt.Errorf("failed to count permissions: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RolesTotal.Set(float64(stats.Roles))
		m.metrics.ActiveAssignments.Set(float64(stats.ActiveAssignments))
		m.metrics.CatalogSize.Set(float64(stats.CatalogSize))
	}

	return stats, nil
}
