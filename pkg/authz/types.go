package authz

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Resource represents a resource type in the platform
type Resource string

const (
	ResourceOrganization Resource = "organization"
	ResourceProperty     Resource = "property"
	ResourceDepartment   Resource = "department"
	ResourceUnit         Resource = "unit"
	ResourceReservation  Resource = "reservation"
	ResourceGuest        Resource = "guest"
	ResourceRatePlan     Resource = "rate_plan"
	ResourceHousekeeping Resource = "housekeeping_task"
	ResourceMaintenance  Resource = "maintenance_ticket"
	ResourceStaff        Resource = "staff"
	ResourceRole         Resource = "role"
	ResourceReport       Resource = "report"
	ResourceAuditLog     Resource = "audit_log"

	// ResourceAny is the wildcard resource. Legal in grants only.
	ResourceAny Resource = "*"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionAssign   Action = "assign"
	ActionApprove  Action = "approve"
	ActionExport   Action = "export"
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"

	// ActionAny is the wildcard action. Legal in grants only.
	ActionAny Action = "*"
)

// ScopeLevel represents the breadth of a permission along the tenant
// hierarchy. Levels are ordered: a grant at a level covers every
// requirement at the same or a narrower level, subject to tenant
// compatibility (see Covers).
type ScopeLevel int

const (
	ScopeOwn ScopeLevel = iota
	ScopeDepartment
	ScopeProperty
	ScopeOrganization
	ScopePlatform
)

var scopeLevelNames = map[ScopeLevel]string{
	ScopeOwn:          "own",
	ScopeDepartment:   "department",
	ScopeProperty:     "property",
	ScopeOrganization: "organization",
	ScopePlatform:     "platform",
}

// String returns the canonical name of the scope level
func (s ScopeLevel) String() string {
	if name, ok := scopeLevelNames[s]; ok {
		return name
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// Valid reports whether the scope level is a known level
func (s ScopeLevel) Valid() bool {
	_, ok := scopeLevelNames[s]
	return ok
}

// Covers reports whether a grant at this level is broad enough for a
// requirement at the given level. Tenant compatibility is checked
// separately.
func (s ScopeLevel) Covers(required ScopeLevel) bool {
	return s >= required
}

// ParseScopeLevel parses a scope level name
func ParseScopeLevel(name string) (ScopeLevel, error) {
	for level, n := range scopeLevelNames {
		if n == name {
			return level, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown scope level %q", ErrInvalidPermission, name)
}

// MarshalJSON encodes the scope level as its canonical name
func (s ScopeLevel) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: scope level %d", ErrInvalidPermission, int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a scope level from its canonical name
func (s *ScopeLevel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	level, err := ParseScopeLevel(name)
	if err != nil {
		return err
	}
	*s = level
	return nil
}

// Value implements driver.Valuer so scope levels are stored by name
func (s ScopeLevel) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: scope level %d", ErrInvalidPermission, int(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner
func (s *ScopeLevel) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		level, err := ParseScopeLevel(v)
		if err != nil {
			return err
		}
		*s = level
		return nil
	case []byte:
		level, err := ParseScopeLevel(string(v))
		if err != nil {
			return err
		}
		*s = level
		return nil
	default:
		return fmt.Errorf("cannot scan scope level from %T", src)
	}
}

// Permission is a typed (resource, action, scope) triple. Permissions
// are validated at construction; the string form exists only for
// storage and wire edges.
type Permission struct {
	Resource Resource   `json:"resource"`
	Action   Action     `json:"action"`
	Scope    ScopeLevel `json:"scope"`
}

// NewPermission builds a permission grant. Wildcard resource/action are
// allowed.
func NewPermission(resource Resource, action Action, scope ScopeLevel) (Permission, error) {
	p := Permission{Resource: resource, Action: action, Scope: scope}
	if err := p.Validate(); err != nil {
		return Permission{}, err
	}
	return p, nil
}

// NewRequirement builds a required permission. Requirements are always
// concrete; wildcards are rejected.
func NewRequirement(resource Resource, action Action, scope ScopeLevel) (Permission, error) {
	p, err := NewPermission(resource, action, scope)
	if err != nil {
		return Permission{}, err
	}
	if p.HasWildcard() {
		return Permission{}, fmt.Errorf("%w: wildcard not allowed in a requirement", ErrInvalidPermission)
	}
	return p, nil
}

// Validate checks the triple for structural validity
func (p Permission) Validate() error {
	if p.Resource == "" {
		return fmt.Errorf("%w: empty resource", ErrInvalidPermission)
	}
	if p.Action == "" {
		return fmt.Errorf("%w: empty action", ErrInvalidPermission)
	}
	if !p.Scope.Valid() {
		return fmt.Errorf("%w: scope level %d", ErrInvalidPermission, int(p.Scope))
	}
	return nil
}

// HasWildcard reports whether resource or action is the wildcard
func (p Permission) HasWildcard() bool {
	return p.Resource == ResourceAny || p.Action == ActionAny
}

// String returns the canonical resource:action:scope form
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action) + ":" + p.Scope.String()
}

// ParsePermission parses the canonical resource:action:scope form
func ParsePermission(s string) (Permission, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Permission{}, fmt.Errorf("%w: malformed permission %q", ErrInvalidPermission, s)
	}
	scope, err := ParseScopeLevel(parts[2])
	if err != nil {
		return Permission{}, err
	}
	return NewPermission(Resource(parts[0]), Action(parts[1]), scope)
}

// PermissionDefinition is a catalog entry: a permission triple plus
// display metadata
type PermissionDefinition struct {
	ID          int64      `json:"id,omitempty"`
	Permission  Permission `json:"permission"`
	DisplayName string     `json:"display_name"`
	Category    string     `json:"category"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
}

// CustomRole is an administrator-defined bundle of permission grants.
// OrganizationID and PropertyID bind the role to a tenant; both nil
// means a global/system role.
type CustomRole struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	PropertyID     *int64    `json:"property_id,omitempty"`
	IsSystemRole   bool      `json:"is_system_role"`
	Priority       int       `json:"priority"`
	IsActive       bool      `json:"is_active"`
	CreatedBy      *int64    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RolePermission is one grant (or explicit deny) attached to a role
type RolePermission struct {
	ID         int64      `json:"id,omitempty"`
	RoleID     int64      `json:"role_id"`
	Permission Permission `json:"permission"`
	Granted    bool       `json:"granted"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// RoleAssignment links a user to a custom role. A nil ExpiresAt never
// expires.
type RoleAssignment struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	IsActive   bool       `json:"is_active"`
	AssignedBy *int64     `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the assignment is live at the given instant
func (a RoleAssignment) ActiveAt(t time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(t)
}

// PermissionOverride is a direct user-level grant or deny that bypasses
// roles. The optional tenant columns pin the override to a tenant the
// same way a role binding does.
type PermissionOverride struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	Permission     Permission `json:"permission"`
	Granted        bool       `json:"granted"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	PropertyID     *int64     `json:"property_id,omitempty"`
	DepartmentID   *int64     `json:"department_id,omitempty"`
	CreatedBy      *int64     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// LegacyRole is the fixed pre-migration role enumeration. It is
// consulted only when a user has zero active custom-role assignments.
type LegacyRole string

const (
	LegacyRolePlatformAdmin   LegacyRole = "platform_admin"
	LegacyRoleOrgOwner        LegacyRole = "org_owner"
	LegacyRoleOrgAdmin        LegacyRole = "org_admin"
	LegacyRolePropertyManager LegacyRole = "property_manager"
	LegacyRoleDepartmentAdmin LegacyRole = "department_admin"
	LegacyRoleStaff           LegacyRole = "staff"
	LegacyRoleClient          LegacyRole = "client"
	LegacyRoleVendor          LegacyRole = "vendor"
)

// Valid reports whether the legacy role is a known enum value
func (r LegacyRole) Valid() bool {
	switch r {
	case LegacyRolePlatformAdmin, LegacyRoleOrgOwner, LegacyRoleOrgAdmin,
		LegacyRolePropertyManager, LegacyRoleDepartmentAdmin,
		LegacyRoleStaff, LegacyRoleClient, LegacyRoleVendor:
		return true
	}
	return false
}

// UserProfile is the minimal projection of a platform user the engine
// reads: the stored legacy role and the user's tenant anchors, used
// only on the legacy fallback path.
type UserProfile struct {
	UserID         int64      `json:"user_id"`
	LegacyRole     LegacyRole `json:"legacy_role"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	PropertyID     *int64     `json:"property_id,omitempty"`
	DepartmentID   *int64     `json:"department_id,omitempty"`
}

// PermissionSource identifies where a resolved permission came from
type PermissionSource string

const (
	SourceCustomRole PermissionSource = "custom_role"
	SourceOverride   PermissionSource = "override"
	SourceLegacy     PermissionSource = "legacy"
)

// ResolvedPermission is one entry of a user's effective permission set:
// the triple, whether it is granted or denied, its provenance, and the
// tenant identifiers the grant is pinned to. A nil tenant identifier
// means the grant is not pinned at that level.
type ResolvedPermission struct {
	Permission     Permission       `json:"permission"`
	Granted        bool             `json:"granted"`
	Source         PermissionSource `json:"source"`
	RoleID         *int64           `json:"role_id,omitempty"`
	RoleName       string           `json:"role_name,omitempty"`
	OrganizationID *int64           `json:"organization_id,omitempty"`
	PropertyID     *int64           `json:"property_id,omitempty"`
	DepartmentID   *int64           `json:"department_id,omitempty"`
}

// EffectiveSet is a user's aggregated permission set plus provenance
type EffectiveSet struct {
	UserID        int64                `json:"user_id"`
	Permissions   []ResolvedPermission `json:"permissions"`
	LegacyDerived bool                 `json:"legacy_derived"`
	LegacyRole    LegacyRole           `json:"legacy_role,omitempty"`
	ComputedAt    time.Time            `json:"computed_at"`
}

// EvaluationContext carries the tenant identifiers of one request.
// Scoped requirements need the full tenancy chain present: a
// property-scope check requires organization_id alongside property_id,
// and a department-scope check all three. A context missing an
// identifier its requirement needs is undecidable and is denied with
// ReasonInvalidContext, not matched against unpinned grants; callers
// populate the chain from the principal's home tenancy (see
// Principal.evaluationContext).
type EvaluationContext struct {
	UserID          int64  `json:"user_id"`
	OrganizationID  *int64 `json:"organization_id,omitempty"`
	PropertyID      *int64 `json:"property_id,omitempty"`
	DepartmentID    *int64 `json:"department_id,omitempty"`
	ResourceOwnerID *int64 `json:"resource_owner_id,omitempty"`
}

// Decision reasons returned by the Evaluator
const (
	ReasonGranted            = "granted"
	ReasonNoMatch            = "no matching permission"
	ReasonDenied             = "explicitly denied"
	ReasonInvalidContext     = "invalid context"
	ReasonInvalidRequirement = "invalid requirement"
	ReasonInternalError      = "internal error"
)

// Scope filter keys emitted with a granted decision
const (
	FilterOrganizationID = "organizationId"
	FilterPropertyID     = "propertyId"
	FilterDepartmentID   = "departmentId"
	FilterOwnerID        = "ownerId"
)

// Decision is the outcome of one evaluation. ScopeFilters carries the
// constraints the caller must apply to any subsequent data query.
type Decision struct {
	Granted      bool             `json:"granted"`
	Reason       string           `json:"reason"`
	Source       PermissionSource `json:"source,omitempty"`
	ScopeFilters map[string]int64 `json:"scope_filters,omitempty"`
	EvaluatedAt  time.Time        `json:"evaluated_at"`
}

// Deny builds a denial decision with the given reason
func Deny(reason string) Decision {
	return Decision{Granted: false, Reason: reason, EvaluatedAt: time.Now()}
}
