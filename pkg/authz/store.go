package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store is the read contract the aggregator evaluates against. An
// unassigned user is a normal state: every method returns empty
// results, never an error, when there is simply no data.
type Store interface {
	// ActiveRoleAssignments returns the custom roles a user holds
	// through assignments that are active and unexpired at asOf. The
	// role's own IsActive flag is returned as stored; inactive roles
	// still count as assignments but contribute no grants.
	ActiveRoleAssignments(ctx context.Context, userID int64, asOf time.Time) ([]CustomRole, error)

	// GrantedPermissions returns the permission grants and denies
	// attached to a role.
	GrantedPermissions(ctx context.Context, roleID int64) ([]RolePermission, error)

	// Overrides returns a user's direct permission overrides.
	Overrides(ctx context.Context, userID int64) ([]PermissionOverride, error)

	// UserProfile returns the minimal user projection for the legacy
	// fallback path. Returns ErrNotFound when the user does not exist.
	UserProfile(ctx context.Context, userID int64) (*UserProfile, error)
}

// PostgresStore persists the permission catalog, custom roles,
// assignments, and overrides. Reads go to the replica handle when one
// is configured.
type PostgresStore struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewPostgresStore creates a store over a single database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, readDB: db}
}

// NewPostgresStoreWithReplica creates a store that sends reads to a
// replica handle
func NewPostgresStoreWithReplica(primary, replica *sql.DB) *PostgresStore {
	if replica == nil {
		replica = primary
	}
	return &PostgresStore{db: primary, readDB: replica}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// sqlite used in tests reports constraint violations by message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- catalog ---

// UpsertPermissions seeds catalog entries idempotently, keyed by the
// triple. Returns how many rows were actually inserted; re-seeding an
// existing triple is a no-op.
func (s *PostgresStore) UpsertPermissions(ctx context.Context, defs []PermissionDefinition) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO permissions (resource, action, scope, display_name, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (resource, action, scope) DO NOTHING
	`

	inserted := 0
	now := time.Now()
	for _, d := range defs {
		if err := d.Permission.Validate(); err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, query,
			string(d.Permission.Resource),
			string(d.Permission.Action),
			d.Permission.Scope.String(),
			d.DisplayName,
			d.Category,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to seed permission %s: %w", d.Permission, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to seed permission %s: %w", d.Permission, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit permission seed: %w", err)
	}
	return inserted, nil
}

// LookupPermission finds a catalog row by triple
func (s *PostgresStore) LookupPermission(ctx context.Context, p Permission) (*PermissionDefinition, error) {
	query := `
		SELECT id, resource, action, scope, display_name, category, created_at
		FROM permissions
		WHERE resource = $1 AND action = $2 AND scope = $3
	`

	var d PermissionDefinition
	err := s.readDB.QueryRowContext(ctx, query,
		string(p.Resource), string(p.Action), p.Scope.String(),
	).Scan(&d.ID, &d.Permission.Resource, &d.Permission.Action, &d.Permission.Scope, &d.DisplayName, &d.Category, &d.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: permission %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up permission: %w", err)
	}
	return &d, nil
}

// ListPermissions returns catalog rows, optionally filtered by category
func (s *PostgresStore) ListPermissions(ctx context.Context, category string) ([]PermissionDefinition, error) {
	query := `
		SELECT id, resource, action, scope, display_name, category, created_at
		FROM permissions
		WHERE $1 = '' OR category = $1
		ORDER BY category, resource, action, scope
	`

	rows, err := s.readDB.QueryContext(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var defs []PermissionDefinition
	for rows.Next() {
		var d PermissionDefinition
		if err := rows.Scan(&d.ID, &d.Permission.Resource, &d.Permission.Action, &d.Permission.Scope, &d.DisplayName, &d.Category, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// --- roles ---

// CreateRole creates a custom role
func (s *PostgresStore) CreateRole(ctx context.Context, role *CustomRole) error {
	query := `
		INSERT INTO custom_roles (name, description, organization_id, property_id, is_system_role, priority, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		role.Name,
		role.Description,
		role.OrganizationID,
		role.PropertyID,
		role.IsSystemRole,
		role.Priority,
		role.IsActive,
		role.CreatedBy,
		now,
		now,
	).Scan(&role.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: role %q already exists in this tenant", ErrConflict, role.Name)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *PostgresStore) GetRole(ctx context.Context, roleID int64) (*CustomRole, error) {
	query := `
		SELECT id, name, description, organization_id, property_id, is_system_role, priority, is_active, created_by, created_at, updated_at
		FROM custom_roles
		WHERE id = $1
	`

	role, err := scanRole(s.readDB.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by name within a tenant. System roles
// are tenant-less and match on name alone.
func (s *PostgresStore) GetRoleByName(ctx context.Context, name string, organizationID, propertyID *int64) (*CustomRole, error) {
	query := `
		SELECT id, name, description, organization_id, property_id, is_system_role, priority, is_active, created_by, created_at, updated_at
		FROM custom_roles
		WHERE name = $1
		  AND (organization_id = $2 OR (organization_id IS NULL AND $2 IS NULL))
		  AND (property_id = $3 OR (property_id IS NULL AND $3 IS NULL))
	`

	role, err := scanRole(s.readDB.QueryRowContext(ctx, query, name, organizationID, propertyID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists roles visible to a tenant: its own roles plus global
// system roles
func (s *PostgresStore) ListRoles(ctx context.Context, organizationID, propertyID *int64) ([]CustomRole, error) {
	query := `
		SELECT id, name, description, organization_id, property_id, is_system_role, priority, is_active, created_by, created_at, updated_at
		FROM custom_roles
		WHERE is_system_role = TRUE
		   OR ($1 IS NOT NULL AND organization_id = $1 AND ($2 IS NULL OR property_id IS NULL OR property_id = $2))
		ORDER BY is_system_role DESC, priority DESC, name ASC
	`

	rows, err := s.readDB.QueryContext(ctx, query, organizationID, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []CustomRole
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// UpdateRole updates a role's mutable fields
func (s *PostgresStore) UpdateRole(ctx context.Context, role *CustomRole) error {
	query := `
		UPDATE custom_roles
		SET name = $1, description = $2, priority = $3, is_active = $4, updated_at = $5
		WHERE id = $6
	`

	role.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, query,
		role.Name,
		role.Description,
		role.Priority,
		role.IsActive,
		role.UpdatedAt,
		role.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: role %q already exists in this tenant", ErrConflict, role.Name)
		}
		return fmt.Errorf("failed to update role: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: role %d", ErrNotFound, role.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*CustomRole, error) {
	var role CustomRole
	var orgID, propID, createdBy sql.NullInt64

	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&orgID,
		&propID,
		&role.IsSystemRole,
		&role.Priority,
		&role.IsActive,
		&createdBy,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if orgID.Valid {
		v := orgID.Int64
		role.OrganizationID = &v
	}
	if propID.Valid {
		v := propID.Int64
		role.PropertyID = &v
	}
	if createdBy.Valid {
		v := createdBy.Int64
		role.CreatedBy = &v
	}
	return &role, nil
}

// --- role permissions ---

// GrantedPermissions returns a role's grants and denies joined to the
// catalog
func (s *PostgresStore) GrantedPermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	query := `
		SELECT rp.id, rp.role_id, p.resource, p.action, p.scope, rp.granted, rp.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.resource, p.action, p.scope
	`

	rows, err := s.readDB.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	var grants []RolePermission
	for rows.Next() {
		var rp RolePermission
		if err := rows.Scan(&rp.ID, &rp.RoleID, &rp.Permission.Resource, &rp.Permission.Action, &rp.Permission.Scope, &rp.Granted, &rp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		grants = append(grants, rp)
	}
	return grants, rows.Err()
}

// SetRolePermissions replaces a role's grants in one transaction. Every
// triple must exist in the catalog; referencing an unknown permission
// fails the whole batch rather than being silently skipped.
func (s *PostgresStore) SetRolePermissions(ctx context.Context, roleID int64, grants []RolePermission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM custom_roles WHERE id = $1`, roleID).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	if err != nil {
		return fmt.Errorf("failed to verify role: %w", err)
	}

	// resolve triples before mutating anything
	permIDs := make([]int64, len(grants))
	for i, g := range grants {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM permissions WHERE resource = $1 AND action = $2 AND scope = $3`,
			string(g.Permission.Resource), string(g.Permission.Action), g.Permission.Scope.String(),
		).Scan(&id)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: permission %s", ErrNotFound, g.Permission)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve permission %s: %w", g.Permission, err)
		}
		permIDs[i] = id
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	now := time.Now()
	for i, g := range grants {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_id, granted, created_at) VALUES ($1, $2, $3, $4)`,
			roleID, permIDs[i], g.Granted, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: duplicate grant %s on role %d", ErrConflict, g.Permission, roleID)
			}
			return fmt.Errorf("failed to insert role permission: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role permissions: %w", err)
	}
	return nil
}

// --- assignments ---

// ActiveRoleAssignments returns the roles a user holds through active,
// unexpired assignments
func (s *PostgresStore) ActiveRoleAssignments(ctx context.Context, userID int64, asOf time.Time) ([]CustomRole, error) {
	query := `
		SELECT r.id, r.name, r.description, r.organization_id, r.property_id, r.is_system_role, r.priority, r.is_active, r.created_by, r.created_at, r.updated_at
		FROM user_role_assignments ua
		JOIN custom_roles r ON r.id = ua.role_id
		WHERE ua.user_id = $1
		  AND ua.is_active = TRUE
		  AND (ua.expires_at IS NULL OR ua.expires_at > $2)
		ORDER BY r.priority DESC, r.id ASC
	`

	rows, err := s.readDB.QueryContext(ctx, query, userID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to get role assignments: %w", err)
	}
	defer rows.Close()

	var roles []CustomRole
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assigned role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// AssignRole assigns a custom role to a user. Assignments always start
// active; deactivation happens through expiry or the sweeper.
func (s *PostgresStore) AssignRole(ctx context.Context, a *RoleAssignment) error {
	if _, err := s.GetRole(ctx, a.RoleID); err != nil {
		return err
	}

	query := `
		INSERT INTO user_role_assignments (user_id, role_id, is_active, assigned_by, assigned_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	a.IsActive = true
	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		a.UserID,
		a.RoleID,
		a.IsActive,
		a.AssignedBy,
		now,
		a.ExpiresAt,
	).Scan(&a.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %d already holds role %d", ErrConflict, a.UserID, a.RoleID)
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}

	a.AssignedAt = now
	return nil
}

// RevokeAssignment deletes an assignment and returns the affected user
// so the caller can invalidate that user's cached decisions
func (s *PostgresStore) RevokeAssignment(ctx context.Context, assignmentID int64) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM user_role_assignments WHERE id = $1 RETURNING user_id`,
		assignmentID,
	).Scan(&userID)

	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: assignment %d", ErrNotFound, assignmentID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to revoke assignment: %w", err)
	}
	return userID, nil
}

// AssignmentsForUser returns all of a user's assignments, including
// inactive and expired ones, for administrative inspection
func (s *PostgresStore) AssignmentsForUser(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	query := `
		SELECT id, user_id, role_id, is_active, assigned_by, assigned_at, expires_at
		FROM user_role_assignments
		WHERE user_id = $1
		ORDER BY assigned_at DESC
	`

	rows, err := s.readDB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

// UsersAssignedToRole returns the distinct users holding a role, used
// to invalidate cached decisions after a role edit
func (s *PostgresStore) UsersAssignedToRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM user_role_assignments WHERE role_id = $1`,
		roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list role holders: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role holder: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// DeactivateExpiredAssignments flips is_active off for assignments
// whose expiry passed before the cutoff. Evaluation already ignores
// expired assignments; this is periodic hygiene run by the sweeper.
func (s *PostgresStore) DeactivateExpiredAssignments(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_role_assignments SET is_active = FALSE WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired assignments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired assignments: %w", err)
	}
	return n, nil
}

func scanAssignment(row rowScanner) (*RoleAssignment, error) {
	var a RoleAssignment
	var assignedBy sql.NullInt64
	var expiresAt sql.NullTime

	err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.IsActive, &assignedBy, &a.AssignedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	if assignedBy.Valid {
		v := assignedBy.Int64
		a.AssignedBy = &v
	}
	if expiresAt.Valid {
		v := expiresAt.Time
		a.ExpiresAt = &v
	}
	return &a, nil
}

// --- overrides ---

// Overrides returns a user's direct permission overrides joined to the
// catalog
func (s *PostgresStore) Overrides(ctx context.Context, userID int64) ([]PermissionOverride, error) {
	query := `
		SELECT o.id, o.user_id, p.resource, p.action, p.scope, o.granted, o.organization_id, o.property_id, o.department_id, o.created_by, o.created_at
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1
		ORDER BY o.id ASC
	`

	rows, err := s.readDB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get overrides: %w", err)
	}
	defer rows.Close()

	var overrides []PermissionOverride
	for rows.Next() {
		var o PermissionOverride
		var orgID, propID, deptID, createdBy sql.NullInt64

		err := rows.Scan(&o.ID, &o.UserID, &o.Permission.Resource, &o.Permission.Action, &o.Permission.Scope,
			&o.Granted, &orgID, &propID, &deptID, &createdBy, &o.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}

		if orgID.Valid {
			v := orgID.Int64
			o.OrganizationID = &v
		}
		if propID.Valid {
			v := propID.Int64
			o.PropertyID = &v
		}
		if deptID.Valid {
			v := deptID.Int64
			o.DepartmentID = &v
		}
		if createdBy.Valid {
			v := createdBy.Int64
			o.CreatedBy = &v
		}

		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// SetOverride creates or updates a user's override for a permission.
// One override exists per (user, triple); setting it again replaces the
// granted flag and tenant pins.
func (s *PostgresStore) SetOverride(ctx context.Context, o *PermissionOverride) error {
	def, err := s.LookupPermission(ctx, o.Permission)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_permission_overrides (user_id, permission_id, granted, organization_id, property_id, department_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, permission_id) DO UPDATE
		SET granted = EXCLUDED.granted,
		    organization_id = EXCLUDED.organization_id,
		    property_id = EXCLUDED.property_id,
		    department_id = EXCLUDED.department_id,
		    created_by = EXCLUDED.created_by
		RETURNING id
	`

	now := time.Now()
	err = s.db.QueryRowContext(ctx, query,
		o.UserID,
		def.ID,
		o.Granted,
		o.OrganizationID,
		o.PropertyID,
		o.DepartmentID,
		o.CreatedBy,
		now,
	).Scan(&o.ID)

	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}

	o.CreatedAt = now
	return nil
}

// ClearOverride deletes an override and returns the affected user
func (s *PostgresStore) ClearOverride(ctx context.Context, overrideID int64) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM user_permission_overrides WHERE id = $1 RETURNING user_id`,
		overrideID,
	).Scan(&userID)

	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: override %d", ErrNotFound, overrideID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear override: %w", err)
	}
	return userID, nil
}

// --- users ---

// UserProfile reads the platform-owned user projection the legacy
// fallback needs
func (s *PostgresStore) UserProfile(ctx context.Context, userID int64) (*UserProfile, error) {
	query := `
		SELECT id, legacy_role, organization_id, property_id, department_id
		FROM users
		WHERE id = $1
	`

	var p UserProfile
	var legacyRole sql.NullString
	var orgID, propID, deptID sql.NullInt64

	err := s.readDB.QueryRowContext(ctx, query, userID).Scan(&p.UserID, &legacyRole, &orgID, &propID, &deptID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	if legacyRole.Valid {
		p.LegacyRole = LegacyRole(legacyRole.String)
	}
	if orgID.Valid {
		v := orgID.Int64
		p.OrganizationID = &v
	}
	if propID.Valid {
		v := propID.Int64
		p.PropertyID = &v
	}
	if deptID.Valid {
		v := deptID.Int64
		p.DepartmentID = &v
	}
	return &p, nil
}
