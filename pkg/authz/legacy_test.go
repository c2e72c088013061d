package authz

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stayops/porter/pkg/observability"
)

func TestNewLegacyPolicyValidation(t *testing.T) {
	valid := map[LegacyRole][]Permission{
		LegacyRoleStaff: {{Resource: ResourceReservation, Action: ActionRead, Scope: ScopeProperty}},
	}

	if _, err := NewLegacyPolicy(0, valid); err == nil {
		t.Error("Expected zero version to be rejected")
	}
	if _, err := NewLegacyPolicy(-1, valid); err == nil {
		t.Error("Expected negative version to be rejected")
	}

	unknown := map[LegacyRole][]Permission{
		"superuser": {{Resource: ResourceAny, Action: ActionAny, Scope: ScopePlatform}},
	}
	if _, err := NewLegacyPolicy(1, unknown); err == nil {
		t.Error("Expected unknown legacy role to be rejected")
	}

	malformed := map[LegacyRole][]Permission{
		LegacyRoleStaff: {{Resource: "", Action: ActionRead, Scope: ScopeProperty}},
	}
	if _, err := NewLegacyPolicy(1, malformed); !errors.Is(err, ErrInvalidPermission) {
		t.Errorf("Expected ErrInvalidPermission, got %v", err)
	}
}

func TestLegacyPolicyPermissionsFor(t *testing.T) {
	policy, err := NewLegacyPolicy(1, map[LegacyRole][]Permission{
		LegacyRoleVendor: {
			{Resource: ResourceMaintenance, Action: ActionRead, Scope: ScopeOwn},
			{Resource: ResourceMaintenance, Action: ActionUpdate, Scope: ScopeOwn},
		},
	})
	if err != nil {
		t.Fatalf("NewLegacyPolicy failed: %v", err)
	}

	perms := policy.PermissionsFor(LegacyRoleVendor)
	if len(perms) != 2 {
		t.Fatalf("Expected 2 grants, got %d", len(perms))
	}

	// The returned slice is a copy; callers cannot mutate the policy
	perms[0] = Permission{Resource: ResourceAny, Action: ActionAny, Scope: ScopePlatform}
	again := policy.PermissionsFor(LegacyRoleVendor)
	if again[0].Resource == ResourceAny {
		t.Error("Mutating the returned slice must not change the policy")
	}

	// A role the policy does not map has no grants
	if got := policy.PermissionsFor(LegacyRoleClient); got != nil {
		t.Errorf("Expected nil for unmapped role, got %v", got)
	}
}

func TestDefaultLegacyPolicy(t *testing.T) {
	policy := DefaultLegacyPolicy()
	if policy.Version() != 1 {
		t.Errorf("Expected built-in policy version 1, got %d", policy.Version())
	}

	// Every legacy role the platform knows must be mapped
	all := []LegacyRole{
		LegacyRolePlatformAdmin, LegacyRoleOrgOwner, LegacyRoleOrgAdmin,
		LegacyRolePropertyManager, LegacyRoleDepartmentAdmin,
		LegacyRoleStaff, LegacyRoleClient, LegacyRoleVendor,
	}
	for _, role := range all {
		if len(policy.PermissionsFor(role)) == 0 {
			t.Errorf("Expected built-in grants for %q", role)
		}
	}

	admin := policy.PermissionsFor(LegacyRolePlatformAdmin)
	if len(admin) != 1 || admin[0].Resource != ResourceAny || admin[0].Scope != ScopePlatform {
		t.Errorf("Expected platform_admin to hold the platform wildcard, got %v", admin)
	}

	// Narrow roles must not receive broad grants
	for _, p := range policy.PermissionsFor(LegacyRoleClient) {
		if p.Scope != ScopeOwn {
			t.Errorf("Expected client grants to stay own-scoped, got %s", p)
		}
	}
}

func TestLegacyPolicyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy_policy.yaml")

	original := DefaultLegacyPolicy()
	if err := SaveLegacyPolicy(original, path); err != nil {
		t.Fatalf("SaveLegacyPolicy failed: %v", err)
	}

	loaded, err := LoadLegacyPolicy(path)
	if err != nil {
		t.Fatalf("LoadLegacyPolicy failed: %v", err)
	}
	if loaded.Version() != original.Version() {
		t.Errorf("Expected version %d, got %d", original.Version(), loaded.Version())
	}
	if len(loaded.Roles()) != len(original.Roles()) {
		t.Errorf("Expected %d roles, got %d", len(original.Roles()), len(loaded.Roles()))
	}

	want := original.PermissionsFor(LegacyRoleStaff)
	got := loaded.PermissionsFor(LegacyRoleStaff)
	if len(got) != len(want) {
		t.Fatalf("Expected %d staff grants, got %d", len(want), len(got))
	}
	wantSet := make(map[Permission]bool, len(want))
	for _, p := range want {
		wantSet[p] = true
	}
	for _, p := range got {
		if !wantSet[p] {
			t.Errorf("Unexpected staff grant %s after round trip", p)
		}
	}
}

func TestLoadLegacyPolicyErrors(t *testing.T) {
	if _, err := LoadLegacyPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected missing file to fail")
	}

	dir := t.TempDir()

	notYAML := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(notYAML, []byte("{{{"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadLegacyPolicy(notYAML); err == nil {
		t.Error("Expected unparseable YAML to fail")
	}

	badTriple := filepath.Join(dir, "bad_triple.yaml")
	content := "version: 2\nroles:\n  staff:\n    - reservation:read\n"
	if err := os.WriteFile(badTriple, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadLegacyPolicy(badTriple); !errors.Is(err, ErrInvalidPermission) {
		t.Errorf("Expected ErrInvalidPermission for malformed triple, got %v", err)
	}

	badRole := filepath.Join(dir, "bad_role.yaml")
	content = "version: 2\nroles:\n  superuser:\n    - reservation:read:property\n"
	if err := os.WriteFile(badRole, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadLegacyPolicy(badRole); err == nil {
		t.Error("Expected unknown role to fail")
	}
}

func TestLegacyPolicySourceReplace(t *testing.T) {
	v1 := DefaultLegacyPolicy()
	source := NewLegacyPolicySource(v1)

	if source.Current().Version() != 1 {
		t.Fatalf("Expected version 1, got %d", source.Current().Version())
	}

	v2, err := NewLegacyPolicy(2, map[LegacyRole][]Permission{
		LegacyRoleStaff: {{Resource: ResourceReservation, Action: ActionRead, Scope: ScopeProperty}},
	})
	if err != nil {
		t.Fatalf("NewLegacyPolicy failed: %v", err)
	}

	source.Replace(v2)
	if source.Current().Version() != 2 {
		t.Errorf("Expected version 2 after replace, got %d", source.Current().Version())
	}
	if got := source.Current().PermissionsFor(LegacyRoleVendor); got != nil {
		t.Errorf("Expected vendor grants gone after replace, got %v", got)
	}
}

func TestWatchFileReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy_policy.yaml")

	writePolicy := func(version int, grant string) {
		t.Helper()
		content := fmt.Sprintf("version: %d\nroles:\n  staff:\n    - %s\n", version, grant)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write policy file: %v", err)
		}
	}

	writePolicy(1, "reservation:read:property")

	initial, err := LoadLegacyPolicy(path)
	if err != nil {
		t.Fatalf("LoadLegacyPolicy failed: %v", err)
	}
	source := NewLegacyPolicySource(initial)

	var reloads atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- source.WatchFile(ctx, path, observability.NewNopLogger(), func() {
			reloads.Add(1)
		})
	}()

	// Give the watcher a moment to register before mutating the file
	time.Sleep(100 * time.Millisecond)

	writePolicy(2, "reservation:read:property")
	waitForVersion(t, source, 2)

	// A broken file keeps the previous policy active
	if err := os.WriteFile(path, []byte("version: 3\nroles:\n  staff:\n    - nonsense\n"), 0644); err != nil {
		t.Fatalf("Failed to write broken policy: %v", err)
	}

	// The watcher must survive the failed reload and pick up the next good one
	writePolicy(4, "guest:read:property")
	waitForVersion(t, source, 4)

	if reloads.Load() < 2 {
		t.Errorf("Expected at least 2 reload callbacks, got %d", reloads.Load())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watcher did not stop after cancellation")
	}
}

func waitForVersion(t *testing.T, source *LegacyPolicySource, version int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if source.Current().Version() == version {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Policy never reached version %d (at %d)", version, source.Current().Version())
}
