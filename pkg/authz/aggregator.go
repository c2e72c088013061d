package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/stayops/porter/pkg/observability"
)

// grantFetchLimit caps concurrent role-permission queries for a single
// aggregation. Users rarely hold more than a handful of roles.
const grantFetchLimit = 4

// Aggregator computes a user's effective permission set: the union of
// grants from all active role assignments with user overrides applied,
// or the legacy role mapping when the user has no assignments at all.
type Aggregator struct {
	store   Store
	legacy  *LegacyPolicySource
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAggregator creates an aggregator over the given store and legacy
// policy source. metrics may be nil.
func NewAggregator(store Store, legacy *LegacyPolicySource, logger *observability.Logger, metrics *observability.Metrics) *Aggregator {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Aggregator{
		store:   store,
		legacy:  legacy,
		logger:  logger,
		metrics: metrics,
	}
}

// recordStoreQuery counts one store access and its latency
func (a *Aggregator) recordStoreQuery(query string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.StoreQueriesTotal.WithLabelValues(query, status).Inc()
	a.metrics.StoreQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// effectiveKey identifies one entry in the merged set: the triple plus
// its tenant pins. Tenant ids are positive, so zero marks an unpinned
// dimension.
type effectiveKey struct {
	perm Permission
	org  int64
	prop int64
	dept int64
}

func keyFor(p Permission, org, prop, dept *int64) effectiveKey {
	k := effectiveKey{perm: p}
	if org != nil {
		k.org = *org
	}
	if prop != nil {
		k.prop = *prop
	}
	if dept != nil {
		k.dept = *dept
	}
	return k
}

// EffectivePermissions resolves the full permission set for a user as
// of now. The legacy mapping is consulted only when the user has zero
// active role assignments; a single assignment, even to a role that is
// itself deactivated, keeps the user on the custom-role path.
func (a *Aggregator) EffectivePermissions(ctx context.Context, userID int64) (*EffectiveSet, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", ErrInvalidContext)
	}

	ctx, span := tracer.Start(ctx, "authz.aggregate")
	defer span.End()
	span.SetAttributes(attribute.Int64("authz.user_id", userID))

	asOf := time.Now()

	roles, err := a.fetchAssignments(ctx, userID, asOf)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	overrides, err := a.fetchOverrides(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	set := &EffectiveSet{
		UserID:     userID,
		ComputedAt: asOf,
	}

	var merged map[effectiveKey]ResolvedPermission
	if len(roles) == 0 {
		legacy, legacyRole, err := a.legacyPermissions(ctx, userID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		set.LegacyDerived = true
		set.LegacyRole = legacyRole
		merged = legacy

		a.logger.WithFields(map[string]interface{}{
			"user_id":     userID,
			"legacy_role": string(legacyRole),
			"grants":      len(merged),
		}).Debug("Resolved permissions from legacy role mapping")
	} else {
		merged, err = a.rolePermissions(ctx, roles)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	applyOverrides(merged, overrides)

	set.Permissions = make([]ResolvedPermission, 0, len(merged))
	for _, rp := range merged {
		set.Permissions = append(set.Permissions, rp)
	}
	sortResolved(set.Permissions)

	span.SetAttributes(
		attribute.Bool("authz.legacy_derived", set.LegacyDerived),
		attribute.Int("authz.grants", len(set.Permissions)),
	)
	return set, nil
}

// fetchAssignments loads the active assignments under a store span
func (a *Aggregator) fetchAssignments(ctx context.Context, userID int64, asOf time.Time) ([]CustomRole, error) {
	ctx, span := tracer.Start(ctx, "authz.store.assignments")
	defer span.End()

	start := time.Now()
	roles, err := a.store.ActiveRoleAssignments(ctx, userID, asOf)
	a.recordStoreQuery("assignments", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching role assignments for user %d: %v", ErrStoreUnavailable, userID, err)
	}
	return roles, nil
}

// fetchOverrides loads the user's overrides under a store span
func (a *Aggregator) fetchOverrides(ctx context.Context, userID int64) ([]PermissionOverride, error) {
	ctx, span := tracer.Start(ctx, "authz.store.overrides")
	defer span.End()

	start := time.Now()
	overrides, err := a.store.Overrides(ctx, userID)
	a.recordStoreQuery("overrides", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching overrides for user %d: %v", ErrStoreUnavailable, userID, err)
	}
	return overrides, nil
}

// rolePermissions unions the grants of every active role. Assignments
// to deactivated roles contribute nothing. When two roles bind the
// same triple with the same tenant pins, an explicit deny beats a
// grant; otherwise the higher-priority role's entry stands.
func (a *Aggregator) rolePermissions(ctx context.Context, roles []CustomRole) (map[effectiveKey]ResolvedPermission, error) {
	ctx, span := tracer.Start(ctx, "authz.store.role_grants")
	defer span.End()
	span.SetAttributes(attribute.Int("authz.roles", len(roles)))

	grantsByRole := make([][]RolePermission, len(roles))

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(grantFetchLimit)
	for i, role := range roles {
		if !role.IsActive {
			continue
		}
		g.Go(func() error {
			grants, err := a.store.GrantedPermissions(gctx, role.ID)
			if err != nil {
				return fmt.Errorf("%w: fetching permissions for role %d: %v", ErrStoreUnavailable, role.ID, err)
			}
			grantsByRole[i] = grants
			return nil
		})
	}
	err := g.Wait()
	a.recordStoreQuery("role_grants", start, err)
	if err != nil {
		return nil, err
	}

	merged := make(map[effectiveKey]ResolvedPermission)
	for i, role := range roles {
		for _, rp := range grantsByRole[i] {
			roleID := role.ID
			entry := ResolvedPermission{
				Permission:     rp.Permission,
				Granted:        rp.Granted,
				Source:         SourceCustomRole,
				RoleID:         &roleID,
				RoleName:       role.Name,
				OrganizationID: role.OrganizationID,
				PropertyID:     role.PropertyID,
			}

			key := keyFor(rp.Permission, role.OrganizationID, role.PropertyID, nil)
			existing, ok := merged[key]
			if !ok {
				merged[key] = entry
				continue
			}
			// deny wins over grant for the same key; roles arrive in
			// priority order, so an equal entry keeps the first
			if existing.Granted && !entry.Granted {
				merged[key] = entry
			}
		}
	}
	return merged, nil
}

// legacyPermissions maps the user's legacy platform role to grants
// anchored to the user's own tenant. A user row that does not exist,
// or a legacy role the policy does not know, yields an empty set
// rather than an error.
func (a *Aggregator) legacyPermissions(ctx context.Context, userID int64) (map[effectiveKey]ResolvedPermission, LegacyRole, error) {
	start := time.Now()
	profile, err := a.store.UserProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		// a missing user row is an empty set, not a store failure
		a.recordStoreQuery("user_profile", start, nil)
		return map[effectiveKey]ResolvedPermission{}, "", nil
	}
	a.recordStoreQuery("user_profile", start, err)
	if err != nil {
		return nil, "", fmt.Errorf("%w: fetching profile for user %d: %v", ErrStoreUnavailable, userID, err)
	}

	policy := a.legacy.Current()
	perms := policy.PermissionsFor(profile.LegacyRole)
	if len(perms) == 0 && profile.LegacyRole != "" {
		a.logger.WithFields(map[string]interface{}{
			"user_id":     userID,
			"legacy_role": string(profile.LegacyRole),
		}).Warn("Legacy role has no mapping in current policy")
	}

	merged := make(map[effectiveKey]ResolvedPermission, len(perms))
	for _, p := range perms {
		entry := ResolvedPermission{
			Permission:     p,
			Granted:        true,
			Source:         SourceLegacy,
			OrganizationID: profile.OrganizationID,
			PropertyID:     profile.PropertyID,
			DepartmentID:   profile.DepartmentID,
		}
		merged[keyFor(p, profile.OrganizationID, profile.PropertyID, profile.DepartmentID)] = entry
	}
	return merged, profile.LegacyRole, nil
}

// applyOverrides folds user overrides into the merged set. A deny
// override replaces every role or legacy entry for the same triple,
// whatever their tenant pins. A grant override replaces only granted
// entries: a deny contributed by any role stays in the set and remains
// decisive at match time. Denies always win, whatever their source.
func applyOverrides(merged map[effectiveKey]ResolvedPermission, overrides []PermissionOverride) {
	for _, o := range overrides {
		for k, existing := range merged {
			if k.perm != o.Permission {
				continue
			}
			if o.Granted && !existing.Granted {
				continue
			}
			delete(merged, k)
		}
		key := keyFor(o.Permission, o.OrganizationID, o.PropertyID, o.DepartmentID)
		if existing, ok := merged[key]; ok && !existing.Granted && o.Granted {
			continue
		}
		merged[key] = ResolvedPermission{
			Permission:     o.Permission,
			Granted:        o.Granted,
			Source:         SourceOverride,
			OrganizationID: o.OrganizationID,
			PropertyID:     o.PropertyID,
			DepartmentID:   o.DepartmentID,
		}
	}
}

func sortResolved(perms []ResolvedPermission) {
	sort.Slice(perms, func(i, j int) bool {
		a, b := perms[i], perms[j]
		if a.Permission.Resource != b.Permission.Resource {
			return a.Permission.Resource < b.Permission.Resource
		}
		if a.Permission.Action != b.Permission.Action {
			return a.Permission.Action < b.Permission.Action
		}
		if a.Permission.Scope != b.Permission.Scope {
			return a.Permission.Scope < b.Permission.Scope
		}
		return a.RoleName < b.RoleName
	})
}
