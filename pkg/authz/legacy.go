package authz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/stayops/porter/pkg/observability"
)

// LegacyPolicy is the immutable, versioned mapping from legacy roles to
// permission grants. It exists only for the migration period: the
// aggregator consults it when a user has zero active custom-role
// assignments, never otherwise. Policies are values; replacing one
// means building a new value and swapping it in a LegacyPolicySource.
type LegacyPolicy struct {
	version int
	grants  map[LegacyRole][]Permission
}

// NewLegacyPolicy validates and builds a policy. Unknown roles and
// malformed triples are rejected; wildcards are allowed because these
// are grants.
func NewLegacyPolicy(version int, grants map[LegacyRole][]Permission) (*LegacyPolicy, error) {
	if version <= 0 {
		return nil, fmt.Errorf("legacy policy version must be positive, got %d", version)
	}
	copied := make(map[LegacyRole][]Permission, len(grants))
	for role, perms := range grants {
		if !role.Valid() {
			return nil, fmt.Errorf("unknown legacy role %q", role)
		}
		for _, p := range perms {
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("legacy role %s: %w", role, err)
			}
		}
		copied[role] = append([]Permission(nil), perms...)
	}
	return &LegacyPolicy{version: version, grants: copied}, nil
}

// Version returns the policy version
func (p *LegacyPolicy) Version() int {
	return p.version
}

// PermissionsFor returns the grants for a legacy role. Unknown or
// invalid roles yield nothing; an unmapped legacy role is a user with
// no permissions, not an error.
func (p *LegacyPolicy) PermissionsFor(role LegacyRole) []Permission {
	perms, ok := p.grants[role]
	if !ok {
		return nil
	}
	return append([]Permission(nil), perms...)
}

// Roles returns the legacy roles the policy maps
func (p *LegacyPolicy) Roles() []LegacyRole {
	roles := make([]LegacyRole, 0, len(p.grants))
	for role := range p.grants {
		roles = append(roles, role)
	}
	return roles
}

// DefaultLegacyPolicy returns the built-in mapping used when no policy
// file is configured. It mirrors what the fixed roles could do before
// custom roles existed.
func DefaultLegacyPolicy() *LegacyPolicy {
	grants := map[LegacyRole][]Permission{
		LegacyRolePlatformAdmin: {
			{Resource: ResourceAny, Action: ActionAny, Scope: ScopePlatform},
		},
		LegacyRoleOrgOwner: {
			{Resource: ResourceAny, Action: ActionAny, Scope: ScopeOrganization},
		},
		LegacyRoleOrgAdmin: {
			{Resource: ResourceProperty, Action: ActionAny, Scope: ScopeOrganization},
			{Resource: ResourceDepartment, Action: ActionAny, Scope: ScopeOrganization},
			{Resource: ResourceStaff, Action: ActionAny, Scope: ScopeOrganization},
			{Resource: ResourceReservation, Action: ActionAny, Scope: ScopeOrganization},
			{Resource: ResourceGuest, Action: ActionAny, Scope: ScopeOrganization},
			{Resource: ResourceUnit, Action: ActionAny, Scope: ScopeOrganization},
			{Resource: ResourceRatePlan, Action: ActionAny, Scope: ScopeOrganization},
			{Resource: ResourceHousekeeping, Action: ActionAny, Scope: ScopeOrganization},
			{Resource: ResourceMaintenance, Action: ActionAny, Scope: ScopeOrganization},
			{Resource: ResourceRole, Action: ActionRead, Scope: ScopeOrganization},
			{Resource: ResourceReport, Action: ActionRead, Scope: ScopeOrganization},
			{Resource: ResourceReport, Action: ActionExport, Scope: ScopeOrganization},
			{Resource: ResourceAuditLog, Action: ActionRead, Scope: ScopeOrganization},
		},
		LegacyRolePropertyManager: {
			{Resource: ResourceReservation, Action: ActionAny, Scope: ScopeProperty},
			{Resource: ResourceGuest, Action: ActionAny, Scope: ScopeProperty},
			{Resource: ResourceUnit, Action: ActionAny, Scope: ScopeProperty},
			{Resource: ResourceRatePlan, Action: ActionAny, Scope: ScopeProperty},
			{Resource: ResourceHousekeeping, Action: ActionAny, Scope: ScopeProperty},
			{Resource: ResourceMaintenance, Action: ActionAny, Scope: ScopeProperty},
			{Resource: ResourceDepartment, Action: ActionRead, Scope: ScopeProperty},
			{Resource: ResourceStaff, Action: ActionRead, Scope: ScopeProperty},
			{Resource: ResourceStaff, Action: ActionAssign, Scope: ScopeProperty},
			{Resource: ResourceReport, Action: ActionRead, Scope: ScopeProperty},
		},
		LegacyRoleDepartmentAdmin: {
			{Resource: ResourceHousekeeping, Action: ActionAny, Scope: ScopeDepartment},
			{Resource: ResourceMaintenance, Action: ActionAny, Scope: ScopeDepartment},
			{Resource: ResourceStaff, Action: ActionRead, Scope: ScopeDepartment},
			{Resource: ResourceReport, Action: ActionRead, Scope: ScopeDepartment},
		},
		LegacyRoleStaff: {
			{Resource: ResourceReservation, Action: ActionRead, Scope: ScopeProperty},
			{Resource: ResourceReservation, Action: ActionCheckIn, Scope: ScopeProperty},
			{Resource: ResourceReservation, Action: ActionCheckOut, Scope: ScopeProperty},
			{Resource: ResourceGuest, Action: ActionRead, Scope: ScopeProperty},
			{Resource: ResourceHousekeeping, Action: ActionRead, Scope: ScopeDepartment},
			{Resource: ResourceHousekeeping, Action: ActionUpdate, Scope: ScopeOwn},
			{Resource: ResourceMaintenance, Action: ActionCreate, Scope: ScopeProperty},
			{Resource: ResourceMaintenance, Action: ActionUpdate, Scope: ScopeOwn},
		},
		LegacyRoleClient: {
			{Resource: ResourceReservation, Action: ActionRead, Scope: ScopeOwn},
			{Resource: ResourceGuest, Action: ActionRead, Scope: ScopeOwn},
			{Resource: ResourceGuest, Action: ActionUpdate, Scope: ScopeOwn},
		},
		LegacyRoleVendor: {
			{Resource: ResourceMaintenance, Action: ActionRead, Scope: ScopeOwn},
			{Resource: ResourceMaintenance, Action: ActionUpdate, Scope: ScopeOwn},
		},
	}

	policy, err := NewLegacyPolicy(1, grants)
	if err != nil {
		// the built-in table is static; failing to build it is a programming error
		panic(fmt.Sprintf("invalid default legacy policy: %v", err))
	}
	return policy
}

// legacyPolicyFile is the on-disk YAML form of a policy
type legacyPolicyFile struct {
	Version int                 `yaml:"version"`
	Roles   map[string][]string `yaml:"roles"`
}

// LoadLegacyPolicy reads a policy from a YAML file. Grants use the
// resource:action:scope form; "*" is allowed for resource and action.
func LoadLegacyPolicy(path string) (*LegacyPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy policy file: %w", err)
	}

	var file legacyPolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse legacy policy file: %w", err)
	}

	grants := make(map[LegacyRole][]Permission, len(file.Roles))
	for roleName, permStrings := range file.Roles {
		role := LegacyRole(roleName)
		perms := make([]Permission, 0, len(permStrings))
		for _, s := range permStrings {
			p, err := ParsePermission(s)
			if err != nil {
				return nil, fmt.Errorf("legacy role %s: %w", roleName, err)
			}
			perms = append(perms, p)
		}
		grants[role] = perms
	}

	return NewLegacyPolicy(file.Version, grants)
}

// SaveLegacyPolicy writes a policy to a YAML file, used by tooling that
// exports the built-in table as a starting point for edits.
func SaveLegacyPolicy(policy *LegacyPolicy, path string) error {
	file := legacyPolicyFile{
		Version: policy.version,
		Roles:   make(map[string][]string, len(policy.grants)),
	}
	for role, perms := range policy.grants {
		strs := make([]string, 0, len(perms))
		for _, p := range perms {
			strs = append(strs, p.String())
		}
		file.Roles[string(role)] = strs
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to marshal legacy policy: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write legacy policy file: %w", err)
	}
	return nil
}

// LegacyPolicySource holds the currently active policy and lets the
// platform swap it without restarting. Reads are lock-free; the
// aggregator grabs the current policy once per computation.
type LegacyPolicySource struct {
	current atomic.Pointer[LegacyPolicy]
}

// NewLegacyPolicySource creates a source seeded with the given policy
func NewLegacyPolicySource(policy *LegacyPolicy) *LegacyPolicySource {
	s := &LegacyPolicySource{}
	s.current.Store(policy)
	return s
}

// Current returns the active policy
func (s *LegacyPolicySource) Current() *LegacyPolicy {
	return s.current.Load()
}

// Replace atomically swaps the active policy
func (s *LegacyPolicySource) Replace(policy *LegacyPolicy) {
	s.current.Store(policy)
}

// WatchFile reloads the policy whenever the file changes, swapping the
// new version in atomically. A file that fails to parse keeps the
// previous policy active. onReload runs after each successful swap so
// the caller can invalidate cached decisions. Blocks until ctx is done.
func (s *LegacyPolicySource) WatchFile(ctx context.Context, path string, logger *observability.Logger, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory: editors replace files rather than writing in place
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	logger.WithField("path", path).Info("watching legacy policy file")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}

			policy, err := LoadLegacyPolicy(path)
			if err != nil {
				logger.WithError(err).Error("legacy policy reload failed, keeping previous version")
				continue
			}
			s.Replace(policy)
			logger.WithField("version", policy.Version()).Info("legacy policy reloaded")
			if onReload != nil {
				onReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("legacy policy watcher error")
		}
	}
}
