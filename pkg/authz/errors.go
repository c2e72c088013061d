package authz

import "errors"

// Error taxonomy for the permission engine. Evaluation collapses every
// failure to a denial; only administrative write paths surface these to
// callers.
var (
	// ErrNotFound indicates a referenced permission, role, assignment,
	// override, or user does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates a role assignment whose expiry has passed.
	// During evaluation expired assignments are treated as absent, not
	// as errors; the sentinel exists for administrative paths.
	ErrExpired = errors.New("assignment expired")

	// ErrConflict indicates a uniqueness violation, such as seeding a
	// duplicate permission triple with different metadata or creating a
	// role whose name is already taken within its tenant.
	ErrConflict = errors.New("conflict")

	// ErrStoreUnavailable indicates the role assignment store cannot be
	// reached. Evaluation fails closed when it occurs.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidContext indicates the evaluation context is missing
	// tenant identifiers the required scope needs.
	ErrInvalidContext = errors.New("invalid evaluation context")

	// ErrInvalidPermission indicates a structurally invalid permission
	// triple (empty fields, unknown scope, wildcard requirement).
	ErrInvalidPermission = errors.New("invalid permission")
)
