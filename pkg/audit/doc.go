// Package audit provides audit logging for the permission engine.
//
// # Overview
//
// This package records authorization denials, role and assignment mutations,
// override changes, cache invalidations and maintenance runs with before/after
// values and request context.
//
// # Event Types
//
// Decisions: authz.decision_denied, authz.evaluated
// Roles: authz.role_created, authz.role_updated, authz.role_deleted, authz.role_grants_replaced
// Assignments: authz.role_assigned, authz.role_revoked
// Overrides: authz.override_set, authz.override_cleared
// Engine: authz.catalog_seeded, authz.cache_invalidated, authz.legacy_policy_reloaded
// Maintenance: maintenance.assignment_sweep, maintenance.audit_prune
//
// # Usage Example
//
// Log a role mutation with before/after:
//
//	logger.LogMutation(ctx, audit.EventTypeAuthzRoleUpdated, &actorID,
//		audit.ResourceTypeRole, "42", &audit.ChangeDetails{
//			Before: map[string]interface{}{"name": "Front Desk"},
//			After:  map[string]interface{}{"name": "Front Desk Lead"},
//		}, "role renamed")
//
// Log a denied decision:
//
//	logger.LogAuthorization(ctx, audit.EventTypeAuthzDecisionDenied, &userID,
//		audit.ResourceTypePermission, "reservations:cancel:property",
//		audit.EventStatusDenied, "denied by role override")
//
// Search the trail:
//
//	results, err := store.Search(ctx, audit.SearchFilter{
//		StartTime:  &dayAgo,
//		UserID:     &userID,
//		EventTypes: []audit.EventType{audit.EventTypeAuthzRoleAssigned},
//	})
//
// # Retention Policy
//
// Default: 90 days active retention
// Archiving: expiring rows are exported to NDJSON before deletion
// Export: JSON, CSV, NDJSON formats for external analysis
//
// # Related Packages
//
//   - pkg/authz: decision engine and admin API that emit these events
//   - pkg/httputil: request ID propagation picked up by event context
package audit
