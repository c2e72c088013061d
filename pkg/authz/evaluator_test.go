package authz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestEvaluator(store *PostgresStore, cache DecisionCache) *Evaluator {
	return NewEvaluator(newTestAggregator(store), cache, nil, nil)
}

func TestEvaluateGranted(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewPostgresStore(db)
	seedDefaultCatalog(t, store)
	eval := newTestEvaluator(store, nil)

	userID := insertTestUser(t, db, "", int64Ptr(1), int64Ptr(10), nil)
	role := &CustomRole{Name: "Front Desk", OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10), Priority: 20}
	createRoleWithGrants(t, store, role, []RolePermission{
		{Permission: mustPermission(t, ResourceReservation, ActionCheckIn, ScopeProperty), Granted: true},
	})
	assignTestRole(t, store, userID, role.ID, nil)

	required := mustPermission(t, ResourceReservation, ActionCheckIn, ScopeProperty)
	ec := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}

	decision := eval.Evaluate(ctx, required, ec)
	if !decision.Granted {
		t.Fatalf("Expected a grant, got denial: %s", decision.Reason)
	}
	if decision.Reason != ReasonGranted {
		t.Errorf("Expected reason %q, got %q", ReasonGranted, decision.Reason)
	}
	if decision.Source != SourceCustomRole {
		t.Errorf("Expected source %q, got %q", SourceCustomRole, decision.Source)
	}
	if decision.ScopeFilters[FilterPropertyID] != 10 {
		t.Errorf("Expected property filter 10, got %v", decision.ScopeFilters)
	}
	if decision.EvaluatedAt.IsZero() {
		t.Error("Expected EvaluatedAt stamped")
	}
}

func TestEvaluateExplicitDeny(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewPostgresStore(db)
	seedDefaultCatalog(t, store)
	eval := newTestEvaluator(store, nil)

	userID := insertTestUser(t, db, "", int64Ptr(1), int64Ptr(10), nil)
	role := &CustomRole{Name: "Restricted Manager", OrganizationID: int64Ptr(1), Priority: 20}
	createRoleWithGrants(t, store, role, []RolePermission{
		{Permission: mustPermission(t, ResourceAny, ActionAny, ScopeOrganization), Granted: true},
		{Permission: mustPermission(t, ResourceGuest, ActionExport, ScopeOrganization), Granted: false},
	})
	assignTestRole(t, store, userID, role.ID, nil)

	ec := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}

	// The wildcard grant covers everything else
	allowed := eval.Evaluate(ctx, mustPermission(t, ResourceGuest, ActionRead, ScopeProperty), ec)
	if !allowed.Granted {
		t.Errorf("Expected the wildcard grant to apply, got %s", allowed.Reason)
	}

	// The explicit deny must not be shadowed by the wildcard
	denied := eval.Evaluate(ctx, mustPermission(t, ResourceGuest, ActionExport, ScopeOrganization), ec)
	if denied.Granted {
		t.Fatal("Expected the explicit deny to win over the wildcard grant")
	}
	if denied.Reason != ReasonDenied {
		t.Errorf("Expected reason %q, got %q", ReasonDenied, denied.Reason)
	}
	if denied.Source != SourceCustomRole {
		t.Errorf("Expected the denying source reported, got %q", denied.Source)
	}
}

func TestEvaluateNoMatch(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewPostgresStore(db)
	eval := newTestEvaluator(store, nil)

	userID := insertTestUser(t, db, "", int64Ptr(1), int64Ptr(10), nil)
	ec := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}

	decision := eval.Evaluate(context.Background(), mustPermission(t, ResourceUnit, ActionDelete, ScopeProperty), ec)
	if decision.Granted {
		t.Fatal("Expected denial for a user with no grants")
	}
	if decision.Reason != ReasonNoMatch {
		t.Errorf("Expected reason %q, got %q", ReasonNoMatch, decision.Reason)
	}
}

func TestEvaluateCrossPropertyIsolation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewPostgresStore(db)
	seedDefaultCatalog(t, store)
	eval := newTestEvaluator(store, nil)

	userID := insertTestUser(t, db, "", int64Ptr(1), int64Ptr(10), nil)
	role := &CustomRole{Name: "Beach House Manager", OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10), Priority: 30}
	createRoleWithGrants(t, store, role, []RolePermission{
		{Permission: mustPermission(t, ResourceReservation, ActionUpdate, ScopeProperty), Granted: true},
	})
	assignTestRole(t, store, userID, role.ID, nil)

	required := mustPermission(t, ResourceReservation, ActionUpdate, ScopeProperty)

	home := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}
	if d := eval.Evaluate(ctx, required, home); !d.Granted {
		t.Errorf("Expected a grant in the pinned property, got %s", d.Reason)
	}

	sibling := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(20)}
	if d := eval.Evaluate(ctx, required, sibling); d.Granted {
		t.Error("A grant pinned to property 10 must not apply in property 20")
	}
}

func TestEvaluateWildcardRequirementRejected(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	eval := newTestEvaluator(NewPostgresStore(db), nil)
	ec := EvaluationContext{UserID: 1, OrganizationID: int64Ptr(1)}

	wildcard := Permission{Resource: ResourceAny, Action: ActionRead, Scope: ScopeOrganization}
	decision := eval.Evaluate(context.Background(), wildcard, ec)
	if decision.Granted {
		t.Fatal("A wildcard requirement must be denied")
	}
	if decision.Reason != ReasonInvalidRequirement {
		t.Errorf("Expected reason %q, got %q", ReasonInvalidRequirement, decision.Reason)
	}

	malformed := Permission{Resource: "", Action: ActionRead, Scope: ScopeOrganization}
	decision = eval.Evaluate(context.Background(), malformed, ec)
	if decision.Reason != ReasonInvalidRequirement {
		t.Errorf("Expected reason %q, got %q", ReasonInvalidRequirement, decision.Reason)
	}
}

func TestEvaluateInvalidContext(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	eval := newTestEvaluator(NewPostgresStore(db), nil)

	// Organization scope without an organization id is undecidable
	required := mustPermission(t, ResourceReport, ActionRead, ScopeOrganization)
	decision := eval.Evaluate(context.Background(), required, EvaluationContext{UserID: 1})
	if decision.Granted {
		t.Fatal("An unverifiable context must be denied")
	}
	if decision.Reason != ReasonInvalidContext {
		t.Errorf("Expected reason %q, got %q", ReasonInvalidContext, decision.Reason)
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	db := setupTestDB(t)
	store := NewPostgresStore(db)
	eval := newTestEvaluator(store, nil)

	// Simulate the store going away mid-flight
	db.Close()

	required := mustPermission(t, ResourceReservation, ActionRead, ScopeProperty)
	ec := EvaluationContext{UserID: 1, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}

	decision := eval.Evaluate(context.Background(), required, ec)
	if decision.Granted {
		t.Fatal("Evaluation must fail closed when the store is unreachable")
	}
	if decision.Reason != ReasonInternalError {
		t.Errorf("Expected reason %q, got %q", ReasonInternalError, decision.Reason)
	}
}

func TestEvaluateFailsClosedOnQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open sqlmock: %v", err)
	}
	defer db.Close()

	// A live connection whose queries error, as opposed to a closed handle
	mock.ExpectQuery("FROM user_role_assignments").
		WillReturnError(errors.New("connection refused"))

	eval := newTestEvaluator(NewPostgresStore(db), nil)

	required := mustPermission(t, ResourceReservation, ActionRead, ScopeProperty)
	ec := EvaluationContext{UserID: 1, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}

	decision := eval.Evaluate(context.Background(), required, ec)
	if decision.Granted {
		t.Fatal("A failing assignment query must deny, not grant")
	}
	if decision.Reason != ReasonInternalError {
		t.Errorf("Expected reason %q, got %q", ReasonInternalError, decision.Reason)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestEvaluateLegacyPath(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewPostgresStore(db)
	eval := newTestEvaluator(store, nil)

	userID := insertTestUser(t, db, string(LegacyRolePropertyManager), int64Ptr(1), int64Ptr(10), nil)
	ec := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}

	decision := eval.Evaluate(context.Background(), mustPermission(t, ResourceReservation, ActionUpdate, ScopeProperty), ec)
	if !decision.Granted {
		t.Fatalf("Expected the legacy property manager to update reservations, got %s", decision.Reason)
	}
	if decision.Source != SourceLegacy {
		t.Errorf("Expected source %q, got %q", SourceLegacy, decision.Source)
	}
	if decision.ScopeFilters[FilterPropertyID] != 10 {
		t.Errorf("Expected property filter 10 on the legacy grant, got %v", decision.ScopeFilters)
	}

	// Legacy grants respect tenant pins like any other grant
	foreign := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(2), PropertyID: int64Ptr(99)}
	if d := eval.Evaluate(context.Background(), mustPermission(t, ResourceReservation, ActionUpdate, ScopeProperty), foreign); d.Granted {
		t.Error("Legacy grants must not leak into other tenants")
	}
}

func TestEvaluateCacheAndInvalidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewPostgresStore(db)
	seedDefaultCatalog(t, store)
	cache := NewMemoryDecisionCache(10, time.Minute)
	defer cache.Close()
	eval := newTestEvaluator(store, cache)

	userID := insertTestUser(t, db, "", int64Ptr(1), int64Ptr(10), nil)
	role := &CustomRole{Name: "Auditor", OrganizationID: int64Ptr(1), Priority: 10}
	createRoleWithGrants(t, store, role, []RolePermission{
		{Permission: mustPermission(t, ResourceReport, ActionRead, ScopeOrganization), Granted: true},
	})
	assignTestRole(t, store, userID, role.ID, nil)

	required := mustPermission(t, ResourceReport, ActionRead, ScopeOrganization)
	ec := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1)}

	if d := eval.Evaluate(ctx, required, ec); !d.Granted {
		t.Fatalf("Expected initial grant, got %s", d.Reason)
	}

	// Pull the assignment out from under the cache
	if _, err := db.Exec("DELETE FROM user_role_assignments WHERE user_id = ?", userID); err != nil {
		t.Fatalf("Failed to delete assignment: %v", err)
	}

	// Until invalidated, the cached set still answers
	if d := eval.Evaluate(ctx, required, ec); !d.Granted {
		t.Fatalf("Expected the cached set to answer, got %s", d.Reason)
	}

	if err := eval.InvalidateUser(ctx, userID); err != nil {
		t.Fatalf("InvalidateUser failed: %v", err)
	}

	if d := eval.Evaluate(ctx, required, ec); d.Granted {
		t.Error("After invalidation the evaluator must see the revocation")
	}

	stats := eval.CacheStats()
	if stats.Hits == 0 {
		t.Error("Expected at least one cache hit")
	}
	if stats.Invalidations != 1 {
		t.Errorf("Expected 1 invalidation, got %d", stats.Invalidations)
	}
}

func TestEvaluateInvalidateAll(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewPostgresStore(db)
	cache := NewMemoryDecisionCache(10, time.Minute)
	defer cache.Close()
	eval := newTestEvaluator(store, cache)

	alice := insertTestUser(t, db, string(LegacyRoleStaff), int64Ptr(1), int64Ptr(10), nil)
	bob := insertTestUser(t, db, string(LegacyRoleStaff), int64Ptr(1), int64Ptr(10), nil)

	required := mustPermission(t, ResourceReservation, ActionRead, ScopeProperty)
	for _, uid := range []int64{alice, bob} {
		ec := EvaluationContext{UserID: uid, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}
		if d := eval.Evaluate(ctx, required, ec); !d.Granted {
			t.Fatalf("Expected staff grant for user %d, got %s", uid, d.Reason)
		}
	}
	if got := cache.Stats().ItemCount; got != 2 {
		t.Fatalf("Expected 2 cached sets, got %d", got)
	}

	if err := eval.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll failed: %v", err)
	}
	if got := cache.Stats().ItemCount; got != 0 {
		t.Errorf("Expected the cache flushed, got %d items", got)
	}
}

func TestEvaluateCacheTransparency(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewPostgresStore(db)
	seedDefaultCatalog(t, store)

	userID := insertTestUser(t, db, "", int64Ptr(1), int64Ptr(10), nil)
	role := &CustomRole{Name: "Concierge", OrganizationID: int64Ptr(1), Priority: 10}
	createRoleWithGrants(t, store, role, []RolePermission{
		{Permission: mustPermission(t, ResourceGuest, ActionRead, ScopeProperty), Granted: true},
		{Permission: mustPermission(t, ResourceGuest, ActionUpdate, ScopeProperty), Granted: false},
	})
	assignTestRole(t, store, userID, role.ID, nil)

	cache := NewMemoryDecisionCache(10, time.Minute)
	defer cache.Close()
	cached := newTestEvaluator(store, cache)
	uncached := newTestEvaluator(store, NewNoopDecisionCache())

	ec := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}
	for _, required := range []Permission{
		mustPermission(t, ResourceGuest, ActionRead, ScopeProperty),
		mustPermission(t, ResourceGuest, ActionUpdate, ScopeProperty),
	} {
		cold := cached.Evaluate(ctx, required, ec)
		warm := cached.Evaluate(ctx, required, ec)
		plain := uncached.Evaluate(ctx, required, ec)

		for _, d := range []Decision{warm, plain} {
			if d.Granted != cold.Granted || d.Reason != cold.Reason || d.Source != cold.Source {
				t.Errorf("Decision for %s diverged across cache states: cold=%+v other=%+v", required, cold, d)
			}
			if len(d.ScopeFilters) != len(cold.ScopeFilters) {
				t.Errorf("Scope filters for %s diverged: cold=%v other=%v", required, cold.ScopeFilters, d.ScopeFilters)
			}
			for k, v := range cold.ScopeFilters {
				if d.ScopeFilters[k] != v {
					t.Errorf("Scope filter %s for %s diverged: cold=%d other=%d", k, required, v, d.ScopeFilters[k])
				}
			}
		}
	}
}

func TestEffectivePermissionsReportBypassesCache(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewPostgresStore(db)
	seedDefaultCatalog(t, store)
	cache := NewMemoryDecisionCache(10, time.Minute)
	defer cache.Close()
	eval := newTestEvaluator(store, cache)

	userID := insertTestUser(t, db, "", int64Ptr(1), int64Ptr(10), nil)
	role := &CustomRole{Name: "Analyst", OrganizationID: int64Ptr(1), Priority: 10}
	createRoleWithGrants(t, store, role, []RolePermission{
		{Permission: mustPermission(t, ResourceReport, ActionRead, ScopeOrganization), Granted: true},
	})
	assignTestRole(t, store, userID, role.ID, nil)

	// Warm the cache
	ec := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1)}
	eval.Evaluate(ctx, mustPermission(t, ResourceReport, ActionRead, ScopeOrganization), ec)

	if _, err := db.Exec("DELETE FROM user_role_assignments WHERE user_id = ?", userID); err != nil {
		t.Fatalf("Failed to delete assignment: %v", err)
	}

	// The report reads the store directly, not the stale cache
	set, err := eval.EffectivePermissionsReport(ctx, userID)
	if err != nil {
		t.Fatalf("EffectivePermissionsReport failed: %v", err)
	}
	if len(set.Permissions) != 0 {
		t.Errorf("Expected a fresh read with no grants, got %d", len(set.Permissions))
	}
}

// countingStore wraps the fixture store to observe aggregation fan-in.
type countingStore struct {
	*PostgresStore
	aggregations atomic.Int32
	gate         chan struct{}
}

func (s *countingStore) ActiveRoleAssignments(ctx context.Context, userID int64, asOf time.Time) ([]CustomRole, error) {
	s.aggregations.Add(1)
	<-s.gate
	return s.PostgresStore.ActiveRoleAssignments(ctx, userID, asOf)
}

func TestEvaluateDeduplicatesConcurrentMisses(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := &countingStore{
		PostgresStore: NewPostgresStore(db),
		gate:          make(chan struct{}),
	}
	userID := insertTestUser(t, db, string(LegacyRoleStaff), int64Ptr(1), int64Ptr(10), nil)

	agg := NewAggregator(store, NewLegacyPolicySource(DefaultLegacyPolicy()), nil, nil)
	eval := NewEvaluator(agg, NewNoopDecisionCache(), nil, nil)

	required := mustPermission(t, ResourceReservation, ActionRead, ScopeProperty)
	ec := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}

	const callers = 4
	var wg sync.WaitGroup
	decisions := make([]Decision, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i] = eval.Evaluate(context.Background(), required, ec)
		}(i)
	}

	// Let every caller reach the in-flight fetch before releasing it
	time.Sleep(100 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	if got := store.aggregations.Load(); got != 1 {
		t.Errorf("Expected concurrent misses deduplicated into 1 aggregation, got %d", got)
	}
	for i, d := range decisions {
		if !d.Granted {
			t.Errorf("Caller %d expected a grant, got %s", i, d.Reason)
		}
	}
}

// parkingStore holds the first assignment fetch open after it has read
// the store, so a mutation and its invalidation can land while the
// aggregation is still in flight.
type parkingStore struct {
	*PostgresStore
	parked  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *parkingStore) ActiveRoleAssignments(ctx context.Context, userID int64, asOf time.Time) ([]CustomRole, error) {
	roles, err := s.PostgresStore.ActiveRoleAssignments(ctx, userID, asOf)
	s.once.Do(func() {
		close(s.parked)
		<-s.release
	})
	return roles, err
}

func TestEvaluateInvalidationFencesInFlightAggregation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	base := NewPostgresStore(db)
	seedDefaultCatalog(t, base)
	store := &parkingStore{
		PostgresStore: base,
		parked:        make(chan struct{}),
		release:       make(chan struct{}),
	}

	userID := insertTestUser(t, db, "", int64Ptr(1), int64Ptr(10), nil)
	role := &CustomRole{Name: "Night Auditor", OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10), Priority: 20}
	createRoleWithGrants(t, base, role, []RolePermission{
		{Permission: mustPermission(t, ResourceReservation, ActionUpdate, ScopeProperty), Granted: true},
	})
	assignTestRole(t, base, userID, role.ID, nil)

	cache := NewMemoryDecisionCache(10, time.Minute)
	defer cache.Close()
	agg := NewAggregator(store, NewLegacyPolicySource(DefaultLegacyPolicy()), nil, nil)
	eval := NewEvaluator(agg, cache, nil, nil)

	required := mustPermission(t, ResourceReservation, ActionUpdate, ScopeProperty)
	ec := EvaluationContext{UserID: userID, OrganizationID: int64Ptr(1), PropertyID: int64Ptr(10)}

	// First evaluation reads the assignment, then parks before caching
	done := make(chan Decision, 1)
	go func() { done <- eval.Evaluate(ctx, required, ec) }()
	<-store.parked

	// Revoke and invalidate while that aggregation is still in flight
	if _, err := db.Exec("DELETE FROM user_role_assignments WHERE user_id = ?", userID); err != nil {
		t.Fatalf("Failed to delete assignment: %v", err)
	}
	if err := eval.InvalidateUser(ctx, userID); err != nil {
		t.Fatalf("InvalidateUser failed: %v", err)
	}

	close(store.release)
	<-done

	// The parked aggregation read pre-revocation state; once the
	// invalidation has returned, its result must not reach the cache
	if d := eval.Evaluate(ctx, required, ec); d.Granted {
		t.Fatalf("Revoked grant served after invalidation: source=%s reason=%s", d.Source, d.Reason)
	}
}

func TestEvaluatorNilCacheDefaultsToNoop(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewPostgresStore(db)
	eval := newTestEvaluator(store, nil)

	// Works end to end and reports zero-valued stats
	if stats := eval.CacheStats(); stats.ItemCount != 0 {
		t.Errorf("Expected an empty noop cache, got %d items", stats.ItemCount)
	}
	if err := eval.InvalidateAll(context.Background()); err != nil {
		t.Errorf("InvalidateAll on noop cache failed: %v", err)
	}
}
