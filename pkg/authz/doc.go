// Package authz implements scoped permission evaluation for the Porter
// hotel-operations platform.
//
// # Overview
//
// This package decides whether a user may perform an operation in the
// tenant context of one request. It replaces a fixed legacy role enum
// with administrator-defined custom roles whose grants carry an explicit
// scope, aggregates those grants into an effective permission set per
// user, and answers evaluation requests from a decision cache so the
// hot path rarely touches the database.
//
// # Architecture
//
// The engine consists of seven cooperating components:
//
//  1. Catalog: the closed set of known (resource, action, scope) triples
//  2. Store: persistence for roles, assignments, and overrides
//  3. Aggregator: computes a user's effective permission set
//  4. DecisionCache: memory, Redis, or noop cache of effective sets
//  5. Evaluator: the fail-closed decision entry point
//  6. OperationRegistry: static operation -> requirement mapping
//  7. LegacyPolicySource: the versioned pre-migration role table
//
// # Permissions and Scope
//
// A Permission is a typed triple:
//
//	perm, err := authz.NewPermission(authz.ResourceReservation, authz.ActionCreate, authz.ScopeProperty)
//	// "reservation:create:property"
//
// Scope levels are ordered own < department < property < organization <
// platform. A grant at a level covers any requirement at the same or a
// narrower level, provided its tenant pins match the request context:
// an organization-scoped grant pinned to organization 7 covers
// property-scoped work inside organization 7 and nothing outside it.
//
// Wildcards ("*") are legal for the resource and action of a grant,
// never of a requirement. A requirement must always name a concrete
// catalog triple.
//
// # Evaluation
//
// Evaluate answers one request:
//
//	decision := evaluator.Evaluate(ctx, required, authz.EvaluationContext{
//		UserID:         userID,
//		OrganizationID: &orgID,
//		PropertyID:     &propID,
//	})
//	if decision.Granted {
//		// decision.ScopeFilters carries the tenant constraints the
//		// caller must apply to any subsequent data query
//	}
//
// Evaluation is fail-closed and never returns an error: a store
// failure, a timeout, an invalid context, or a malformed requirement
// all produce a denial with a reason. Explicit denies always win over
// grants, regardless of scope breadth or provenance.
//
// # Effective Permission Sets
//
// The Aggregator unions the grants of every active, unexpired role
// assignment, applies per-user overrides on top, and resolves
// conflicts per (triple, tenant pins) with deny-wins. A user with zero
// active custom-role assignments falls back to the legacy role table;
// the moment one assignment exists the legacy mapping is ignored
// entirely.
//
// # Decision Cache
//
// Effective sets are cached per user with a bounded TTL. Admin
// mutations invalidate the affected users synchronously before the
// mutation call returns, so a revoked permission is unusable on the
// next request. Concurrent misses for the same user collapse into a
// single aggregation.
//
// # Operation Registry
//
// Route guards do not hardcode requirements; they name operations:
//
//	registry.RegisterOperation("reservations.create",
//		authz.Permission{Resource: authz.ResourceReservation, Action: authz.ActionCreate, Scope: authz.ScopeProperty})
//
//	router.Handle("/reservations",
//		middleware.RequireOperation("reservations.create")(createReservation),
//	).Methods("POST")
//
// Validate() runs at startup and rejects unknown triples, wildcard
// requirements, and duplicate operations before the server accepts
// traffic.
//
// # Wiring
//
// Manager assembles the engine:
//
//	manager, err := authz.NewManager(db, replica, auditLogger, logger, metrics, authz.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	if err := manager.Initialize(ctx); err != nil { // migrations, catalog seed, system roles
//		return err
//	}
//	manager.RegisterRoutes(apiRouter)
//
// # Database Schema
//
// Five tables, created by RunMigrations: permissions (the catalog),
// custom_roles, role_permissions, user_role_assignments, and
// user_permission_overrides. The users table is platform-owned; this
// package reads only its legacy_role and tenant columns.
//
// # Design Decisions
//
// Closed catalog: requirements and grants resolve against a seeded
// permission table, so a typo in an operation's requirement is a
// startup failure instead of a silent permanent denial.
//
// Deny-wins: an explicit deny beats any grant from any source. This
// makes "everything except X" roles expressible and keeps override
// semantics predictable.
//
// Single fallback trigger: legacy roles apply only at zero active
// assignments. Mixing legacy and custom grants would make effective
// access depend on migration order.
//
// Cache-level invalidation instead of write-through: mutations drop
// cached sets rather than recompute them, keeping writes cheap and
// letting the next evaluation pay for aggregation exactly once.
//
// # Testing
//
// Package tests run against in-memory sqlite and miniredis; the
// store's SQL is written to work on both database backends. The
// integration build tag adds tests that exercise the full stack
// against a containerized PostgreSQL.
//
// # Related Packages
//
//   - pkg/audit: audit trail of decisions and role mutations
//   - pkg/storage/postgres: connection manager and Redis client
//   - pkg/observability: structured logging, metrics, tracing
//   - pkg/config: PORTER_* environment configuration
package authz
