package authz

import (
	"fmt"
	"sort"
	"sync"
)

// Permission categories used by the default catalog
const (
	CategoryReservations   = "reservations"
	CategoryGuests         = "guests"
	CategoryInventory      = "inventory"
	CategoryOperations     = "operations"
	CategoryAdministration = "administration"
	CategoryReporting      = "reporting"
)

// Catalog is the in-memory permission vocabulary: every triple the
// platform knows about, with display metadata. Registration is
// idempotent because seeding runs repeatedly against live systems.
type Catalog struct {
	mu      sync.RWMutex
	entries map[Permission]PermissionDefinition
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[Permission]PermissionDefinition)}
}

// Register adds a permission definition. Re-registering an existing
// triple is a no-op and returns the existing entry; seeding scripts
// depend on this.
func (c *Catalog) Register(def PermissionDefinition) (PermissionDefinition, error) {
	if err := def.Permission.Validate(); err != nil {
		return PermissionDefinition{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[def.Permission]; ok {
		return existing, nil
	}
	c.entries[def.Permission] = def
	return def, nil
}

// Lookup finds a catalog entry by triple
func (c *Catalog) Lookup(resource Resource, action Action, scope ScopeLevel) (PermissionDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.entries[Permission{Resource: resource, Action: action, Scope: scope}]
	return def, ok
}

// Contains reports whether the triple is registered
func (c *Catalog) Contains(p Permission) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[p]
	return ok
}

// ListByCategory returns all entries in a category, sorted by triple
func (c *Catalog) ListByCategory(category string) []PermissionDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var defs []PermissionDefinition
	for _, def := range c.entries {
		if def.Category == category {
			defs = append(defs, def)
		}
	}
	sortDefinitions(defs)
	return defs
}

// List returns every entry, sorted by category then triple
func (c *Catalog) List() []PermissionDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := make([]PermissionDefinition, 0, len(c.entries))
	for _, def := range c.entries {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Category != defs[j].Category {
			return defs[i].Category < defs[j].Category
		}
		return defs[i].Permission.String() < defs[j].Permission.String()
	})
	return defs
}

// Len returns the number of registered triples
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func sortDefinitions(defs []PermissionDefinition) {
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Permission.String() < defs[j].Permission.String()
	})
}

func def(resource Resource, action Action, scope ScopeLevel, displayName, category string) PermissionDefinition {
	return PermissionDefinition{
		Permission:  Permission{Resource: resource, Action: action, Scope: scope},
		DisplayName: displayName,
		Category:    category,
	}
}

// DefaultDefinitions returns the seeded hotel-operations permission set
func DefaultDefinitions() []PermissionDefinition {
	return []PermissionDefinition{
		// reservations
		def(ResourceReservation, ActionCreate, ScopeProperty, "Create reservations", CategoryReservations),
		def(ResourceReservation, ActionRead, ScopeOwn, "View own reservations", CategoryReservations),
		def(ResourceReservation, ActionRead, ScopeDepartment, "View department reservations", CategoryReservations),
		def(ResourceReservation, ActionRead, ScopeProperty, "View property reservations", CategoryReservations),
		def(ResourceReservation, ActionRead, ScopeOrganization, "View organization reservations", CategoryReservations),
		def(ResourceReservation, ActionUpdate, ScopeProperty, "Modify reservations", CategoryReservations),
		def(ResourceReservation, ActionDelete, ScopeProperty, "Cancel reservations", CategoryReservations),
		def(ResourceReservation, ActionApprove, ScopeProperty, "Approve reservations", CategoryReservations),
		def(ResourceReservation, ActionCheckIn, ScopeProperty, "Check in guests", CategoryReservations),
		def(ResourceReservation, ActionCheckOut, ScopeProperty, "Check out guests", CategoryReservations),
		def(ResourceReservation, ActionExport, ScopeOrganization, "Export reservation data", CategoryReservations),

		// guests
		def(ResourceGuest, ActionCreate, ScopeProperty, "Create guest profiles", CategoryGuests),
		def(ResourceGuest, ActionRead, ScopeOwn, "View own guest profile", CategoryGuests),
		def(ResourceGuest, ActionRead, ScopeProperty, "View property guests", CategoryGuests),
		def(ResourceGuest, ActionRead, ScopeOrganization, "View organization guests", CategoryGuests),
		def(ResourceGuest, ActionUpdate, ScopeOwn, "Update own guest profile", CategoryGuests),
		def(ResourceGuest, ActionUpdate, ScopeProperty, "Update guest profiles", CategoryGuests),
		def(ResourceGuest, ActionDelete, ScopeOrganization, "Delete guest profiles", CategoryGuests),
		def(ResourceGuest, ActionExport, ScopeOrganization, "Export guest data", CategoryGuests),

		// inventory
		def(ResourceUnit, ActionCreate, ScopeProperty, "Create units", CategoryInventory),
		def(ResourceUnit, ActionRead, ScopeProperty, "View units", CategoryInventory),
		def(ResourceUnit, ActionUpdate, ScopeProperty, "Update units", CategoryInventory),
		def(ResourceUnit, ActionDelete, ScopeProperty, "Delete units", CategoryInventory),
		def(ResourceRatePlan, ActionCreate, ScopeProperty, "Create rate plans", CategoryInventory),
		def(ResourceRatePlan, ActionRead, ScopeProperty, "View rate plans", CategoryInventory),
		def(ResourceRatePlan, ActionUpdate, ScopeProperty, "Update rate plans", CategoryInventory),
		def(ResourceRatePlan, ActionDelete, ScopeProperty, "Delete rate plans", CategoryInventory),
		def(ResourceRatePlan, ActionApprove, ScopeOrganization, "Approve rate plans", CategoryInventory),

		// operations
		def(ResourceHousekeeping, ActionCreate, ScopeDepartment, "Create housekeeping tasks", CategoryOperations),
		def(ResourceHousekeeping, ActionRead, ScopeDepartment, "View department housekeeping tasks", CategoryOperations),
		def(ResourceHousekeeping, ActionRead, ScopeProperty, "View property housekeeping tasks", CategoryOperations),
		def(ResourceHousekeeping, ActionUpdate, ScopeOwn, "Update own housekeeping tasks", CategoryOperations),
		def(ResourceHousekeeping, ActionUpdate, ScopeDepartment, "Update housekeeping tasks", CategoryOperations),
		def(ResourceHousekeeping, ActionAssign, ScopeDepartment, "Assign housekeeping tasks", CategoryOperations),
		def(ResourceMaintenance, ActionCreate, ScopeProperty, "Create maintenance tickets", CategoryOperations),
		def(ResourceMaintenance, ActionRead, ScopeOwn, "View own maintenance tickets", CategoryOperations),
		def(ResourceMaintenance, ActionRead, ScopeDepartment, "View department maintenance tickets", CategoryOperations),
		def(ResourceMaintenance, ActionRead, ScopeProperty, "View property maintenance tickets", CategoryOperations),
		def(ResourceMaintenance, ActionUpdate, ScopeOwn, "Update own maintenance tickets", CategoryOperations),
		def(ResourceMaintenance, ActionAssign, ScopeDepartment, "Assign maintenance tickets", CategoryOperations),
		def(ResourceMaintenance, ActionApprove, ScopeProperty, "Approve maintenance work", CategoryOperations),

		// administration
		def(ResourceOrganization, ActionRead, ScopeOrganization, "View organization", CategoryAdministration),
		def(ResourceOrganization, ActionUpdate, ScopeOrganization, "Update organization", CategoryAdministration),
		def(ResourceProperty, ActionCreate, ScopeOrganization, "Create properties", CategoryAdministration),
		def(ResourceProperty, ActionRead, ScopeOrganization, "View organization properties", CategoryAdministration),
		def(ResourceProperty, ActionRead, ScopeProperty, "View property", CategoryAdministration),
		def(ResourceProperty, ActionUpdate, ScopeProperty, "Update property", CategoryAdministration),
		def(ResourceProperty, ActionDelete, ScopeOrganization, "Delete properties", CategoryAdministration),
		def(ResourceDepartment, ActionCreate, ScopeProperty, "Create departments", CategoryAdministration),
		def(ResourceDepartment, ActionRead, ScopeProperty, "View departments", CategoryAdministration),
		def(ResourceDepartment, ActionUpdate, ScopeDepartment, "Update department", CategoryAdministration),
		def(ResourceDepartment, ActionDelete, ScopeProperty, "Delete departments", CategoryAdministration),
		def(ResourceStaff, ActionCreate, ScopeProperty, "Create staff accounts", CategoryAdministration),
		def(ResourceStaff, ActionRead, ScopeDepartment, "View department staff", CategoryAdministration),
		def(ResourceStaff, ActionRead, ScopeProperty, "View property staff", CategoryAdministration),
		def(ResourceStaff, ActionUpdate, ScopeProperty, "Update staff accounts", CategoryAdministration),
		def(ResourceStaff, ActionDelete, ScopeProperty, "Remove staff accounts", CategoryAdministration),
		def(ResourceStaff, ActionAssign, ScopeProperty, "Assign staff to departments", CategoryAdministration),
		def(ResourceRole, ActionCreate, ScopeOrganization, "Create roles", CategoryAdministration),
		def(ResourceRole, ActionRead, ScopeOrganization, "View roles", CategoryAdministration),
		def(ResourceRole, ActionUpdate, ScopeOrganization, "Update roles", CategoryAdministration),
		def(ResourceRole, ActionDelete, ScopeOrganization, "Delete roles", CategoryAdministration),
		def(ResourceRole, ActionAssign, ScopeOrganization, "Assign roles to users", CategoryAdministration),
		def(ResourceRole, ActionRead, ScopePlatform, "View all roles", CategoryAdministration),
		def(ResourceRole, ActionAssign, ScopePlatform, "Assign any role", CategoryAdministration),
		def(ResourceAny, ActionAny, ScopePlatform, "Full platform access", CategoryAdministration),
		def(ResourceAny, ActionAny, ScopeOrganization, "Full organization access", CategoryAdministration),
		def(ResourceAny, ActionAny, ScopeProperty, "Full property access", CategoryAdministration),
		def(ResourceAny, ActionRead, ScopeProperty, "Read-only property access", CategoryAdministration),

		// reporting
		def(ResourceReport, ActionRead, ScopeDepartment, "View department reports", CategoryReporting),
		def(ResourceReport, ActionRead, ScopeProperty, "View property reports", CategoryReporting),
		def(ResourceReport, ActionRead, ScopeOrganization, "View organization reports", CategoryReporting),
		def(ResourceReport, ActionExport, ScopeOrganization, "Export reports", CategoryReporting),
		def(ResourceAuditLog, ActionRead, ScopeOrganization, "View organization audit log", CategoryReporting),
		def(ResourceAuditLog, ActionRead, ScopePlatform, "View platform audit log", CategoryReporting),
	}
}

// DefaultCatalog builds a catalog preloaded with the hotel-operations
// permission set
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, d := range DefaultDefinitions() {
		if _, err := c.Register(d); err != nil {
			// the default set is static; a bad entry is a programming error
			panic(fmt.Sprintf("invalid default permission %s: %v", d.Permission, err))
		}
	}
	return c
}
