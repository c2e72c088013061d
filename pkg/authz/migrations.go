package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all authorization schema migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permissions catalog table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					resource VARCHAR(100) NOT NULL,
					action VARCHAR(100) NOT NULL,
					scope VARCHAR(50) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					category VARCHAR(100) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_permissions_triple ON permissions(resource, action, scope);
				CREATE INDEX IF NOT EXISTS idx_permissions_category ON permissions(category);
			`,
		},
		{
			Version:     2,
			Description: "Create custom roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS custom_roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					organization_id BIGINT,
					property_id BIGINT,
					is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_by BIGINT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_custom_roles_tenant_name ON custom_roles(name, COALESCE(organization_id, 0), COALESCE(property_id, 0));
				CREATE INDEX IF NOT EXISTS idx_custom_roles_organization ON custom_roles(organization_id);
				CREATE INDEX IF NOT EXISTS idx_custom_roles_property ON custom_roles(property_id);
			`,
		},
		{
			Version:     3,
			Description: "Create role permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES custom_roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_role ON role_permissions(role_id);
				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission ON role_permissions(permission_id);
			`,
		},
		{
			Version:     4,
			Description: "Create user role assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_role_assignments (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES custom_roles(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					assigned_by BIGINT,
					assigned_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP,
					UNIQUE(user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_role_assignments_user ON user_role_assignments(user_id);
				CREATE INDEX IF NOT EXISTS idx_user_role_assignments_role ON user_role_assignments(role_id);
				CREATE INDEX IF NOT EXISTS idx_user_role_assignments_expires ON user_role_assignments(expires_at) WHERE expires_at IS NOT NULL;
			`,
		},
		{
			Version:     5,
			Description: "Create user permission overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permission_overrides (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted BOOLEAN NOT NULL,
					organization_id BIGINT,
					property_id BIGINT,
					department_id BIGINT,
					created_by BIGINT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_permission_overrides_user ON user_permission_overrides(user_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migrations table if it doesn't exist
	createMigrationsTable := `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range GetMigrations() {
		var count int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM authz_migrations WHERE version = $1",
			migration.Version,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if count > 0 {
			continue // Already applied
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start migration transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO authz_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		fmt.Printf("Applied authz migration %d: %s\n", migration.Version, migration.Description)
	}

	return nil
}

// RollbackMigration rolls back a specific migration (use with caution)
func RollbackMigration(ctx context.Context, db *sql.DB, version int) error {
	return fmt.Errorf("migration rollback not implemented - manual intervention required for version %d", version)
}

type systemRole struct {
	role   CustomRole
	grants []RolePermission
}

func defaultSystemRoles() []systemRole {
	grant := func(resource Resource, action Action, scope ScopeLevel) RolePermission {
		return RolePermission{Permission: Permission{Resource: resource, Action: action, Scope: scope}, Granted: true}
	}

	return []systemRole{
		{
			role: CustomRole{
				Name:         "Platform Administrator",
				Description:  "Unrestricted access across all tenants",
				IsSystemRole: true,
				Priority:     100,
				IsActive:     true,
			},
			grants: []RolePermission{
				grant(ResourceAny, ActionAny, ScopePlatform),
			},
		},
		{
			role: CustomRole{
				Name:         "Platform Auditor",
				Description:  "Read access to audit trails and role definitions across all tenants",
				IsSystemRole: true,
				Priority:     90,
				IsActive:     true,
			},
			grants: []RolePermission{
				grant(ResourceAuditLog, ActionRead, ScopePlatform),
				grant(ResourceRole, ActionRead, ScopePlatform),
			},
		},
		{
			role: CustomRole{
				Name:         "Property Viewer",
				Description:  "Read-only property access for support staff",
				IsSystemRole: true,
				Priority:     10,
				IsActive:     true,
			},
			grants: []RolePermission{
				grant(ResourceAny, ActionRead, ScopeProperty),
			},
		},
	}
}

// InitializeSystemRoles creates the built-in platform roles. The
// catalog must be seeded first since grants resolve against it. Safe
// to run on every startup; existing roles are left untouched.
func InitializeSystemRoles(ctx context.Context, db *sql.DB) error {
	store := NewPostgresStore(db)

	for _, sr := range defaultSystemRoles() {
		// Check if role already exists
		_, err := store.GetRoleByName(ctx, sr.role.Name, nil, nil)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to check system role %q: %w", sr.role.Name, err)
		}

		role := sr.role
		if err := store.CreateRole(ctx, &role); err != nil {
			return fmt.Errorf("failed to create system role %q: %w", sr.role.Name, err)
		}
		if err := store.SetRolePermissions(ctx, role.ID, sr.grants); err != nil {
			return fmt.Errorf("failed to grant system role %q: %w", sr.role.Name, err)
		}
	}

	return nil
}
