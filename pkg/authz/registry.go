package authz

import (
	"fmt"
	"sort"
	"sync"
)

// OperationRegistry maps operation identifiers to the permission each
// operation requires. The calling layer registers its operations at
// startup and the registry is validated against the catalog before the
// server accepts traffic, so a typo in a requirement is a boot failure
// rather than a silent always-deny in production.
type OperationRegistry struct {
	mu      sync.RWMutex
	catalog *Catalog
	ops     map[string]Permission
}

// NewOperationRegistry creates a registry validated against the given
// catalog
func NewOperationRegistry(catalog *Catalog) *OperationRegistry {
	return &OperationRegistry{
		catalog: catalog,
		ops:     make(map[string]Permission),
	}
}

// RegisterOperation declares the permission an operation requires.
// The requirement must be a concrete catalog triple; wildcards and
// unknown permissions are rejected, as is registering the same
// operation twice.
func (r *OperationRegistry) RegisterOperation(operation string, required Permission) error {
	if operation == "" {
		return fmt.Errorf("%w: operation identifier must not be empty", ErrInvalidPermission)
	}
	if err := required.Validate(); err != nil {
		return fmt.Errorf("operation %q: %w", operation, err)
	}
	if required.HasWildcard() {
		return fmt.Errorf("%w: operation %q: requirements must not contain wildcards", ErrInvalidPermission, operation)
	}
	if !r.catalog.Contains(required) {
		return fmt.Errorf("%w: operation %q requires unknown permission %s", ErrInvalidPermission, operation, required.String())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.ops[operation]; ok {
		return fmt.Errorf("%w: operation %q already registered with %s", ErrConflict, operation, existing.String())
	}

	r.ops[operation] = required
	return nil
}

// RegisterOperations registers a batch of operations, stopping at the
// first failure
func (r *OperationRegistry) RegisterOperations(ops map[string]Permission) error {
	// Sorted so a bad batch fails on the same operation every run
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	for _, op := range names {
		if err := r.RegisterOperation(op, ops[op]); err != nil {
			return err
		}
	}
	return nil
}

// RequirementFor returns the permission an operation requires. The
// second return is false for unregistered operations; callers must
// treat that as a denial, not as "no requirement".
func (r *OperationRegistry) RequirementFor(operation string) (Permission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	required, ok := r.ops[operation]
	return required, ok
}

// Operations returns all registered operation identifiers, sorted
func (r *OperationRegistry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ops))
	for op := range r.ops {
		names = append(names, op)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered operations
func (r *OperationRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// Validate re-checks every registered requirement against the catalog.
// Run at startup after catalog seeding; catches definitions removed
// from the catalog after operations were registered.
func (r *OperationRegistry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for op, required := range r.ops {
		if !r.catalog.Contains(required) {
			return fmt.Errorf("%w: operation %q requires %s which is not in the catalog", ErrInvalidPermission, op, required.String())
		}
	}
	return nil
}

// DefaultOperations is the built-in operation table for the platform's
// request layer. Every entry must name a catalog permission.
func DefaultOperations() map[string]Permission {
	req := func(resource Resource, action Action, scope ScopeLevel) Permission {
		return Permission{Resource: resource, Action: action, Scope: scope}
	}

	return map[string]Permission{
		"reservations.create":    req(ResourceReservation, ActionCreate, ScopeProperty),
		"reservations.list":      req(ResourceReservation, ActionRead, ScopeProperty),
		"reservations.view_own":  req(ResourceReservation, ActionRead, ScopeOwn),
		"reservations.update":    req(ResourceReservation, ActionUpdate, ScopeProperty),
		"reservations.cancel":    req(ResourceReservation, ActionDelete, ScopeProperty),
		"reservations.check_in":  req(ResourceReservation, ActionCheckIn, ScopeProperty),
		"reservations.check_out": req(ResourceReservation, ActionCheckOut, ScopeProperty),

		"guests.create": req(ResourceGuest, ActionCreate, ScopeProperty),
		"guests.list":   req(ResourceGuest, ActionRead, ScopeProperty),
		"guests.update": req(ResourceGuest, ActionUpdate, ScopeProperty),
		"guests.export": req(ResourceGuest, ActionExport, ScopeOrganization),

		"units.list":        req(ResourceUnit, ActionRead, ScopeProperty),
		"units.update":      req(ResourceUnit, ActionUpdate, ScopeProperty),
		"rate_plans.list":   req(ResourceRatePlan, ActionRead, ScopeProperty),
		"rate_plans.update": req(ResourceRatePlan, ActionUpdate, ScopeProperty),

		"housekeeping.board":  req(ResourceHousekeeping, ActionRead, ScopeDepartment),
		"housekeeping.assign": req(ResourceHousekeeping, ActionAssign, ScopeDepartment),
		"housekeeping.update": req(ResourceHousekeeping, ActionUpdate, ScopeDepartment),

		"maintenance.open":   req(ResourceMaintenance, ActionCreate, ScopeProperty),
		"maintenance.board":  req(ResourceMaintenance, ActionRead, ScopeDepartment),
		"maintenance.assign": req(ResourceMaintenance, ActionAssign, ScopeDepartment),

		"staff.list":   req(ResourceStaff, ActionRead, ScopeProperty),
		"staff.manage": req(ResourceStaff, ActionUpdate, ScopeProperty),

		"roles.list":   req(ResourceRole, ActionRead, ScopeOrganization),
		"roles.create": req(ResourceRole, ActionCreate, ScopeOrganization),
		"roles.update": req(ResourceRole, ActionUpdate, ScopeOrganization),
		"roles.delete": req(ResourceRole, ActionDelete, ScopeOrganization),
		"roles.assign": req(ResourceRole, ActionAssign, ScopeOrganization),

		"reports.property":     req(ResourceReport, ActionRead, ScopeProperty),
		"reports.organization": req(ResourceReport, ActionRead, ScopeOrganization),
		"audit.view":           req(ResourceAuditLog, ActionRead, ScopeOrganization),
	}
}
