package authz

import (
	"errors"
	"sort"
	"testing"
)

func TestRegisterOperation(t *testing.T) {
	reg := NewOperationRegistry(DefaultCatalog())

	required := mustPermission(t, ResourceReservation, ActionCheckIn, ScopeProperty)
	if err := reg.RegisterOperation("reservations.check_in", required); err != nil {
		t.Fatalf("Failed to register operation: %v", err)
	}

	got, ok := reg.RequirementFor("reservations.check_in")
	if !ok {
		t.Fatal("Expected the operation to be registered")
	}
	if got != required {
		t.Errorf("RequirementFor() = %v, want %v", got, required)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestRegisterOperationValidation(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		required  Permission
		wantErr   error
	}{
		{
			name:      "empty operation name",
			operation: "",
			required:  Permission{Resource: ResourceGuest, Action: ActionRead, Scope: ScopeProperty},
			wantErr:   ErrInvalidPermission,
		},
		{
			name:      "malformed requirement",
			operation: "guests.read",
			required:  Permission{Resource: "", Action: ActionRead, Scope: ScopeProperty},
			wantErr:   ErrInvalidPermission,
		},
		{
			name:      "wildcard requirement",
			operation: "guests.read",
			required:  Permission{Resource: ResourceAny, Action: ActionRead, Scope: ScopeProperty},
			wantErr:   ErrInvalidPermission,
		},
		{
			name:      "requirement not in catalog",
			operation: "guests.read",
			required:  Permission{Resource: ResourceGuest, Action: ActionApprove, Scope: ScopePlatform},
			wantErr:   ErrInvalidPermission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewOperationRegistry(DefaultCatalog())
			err := reg.RegisterOperation(tt.operation, tt.required)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RegisterOperation() error = %v, want %v", err, tt.wantErr)
			}
			if reg.Len() != 0 {
				t.Errorf("A rejected registration must not be stored, Len() = %d", reg.Len())
			}
		})
	}
}

func TestRegisterOperationDuplicate(t *testing.T) {
	reg := NewOperationRegistry(DefaultCatalog())

	required := mustPermission(t, ResourceGuest, ActionRead, ScopeProperty)
	if err := reg.RegisterOperation("guests.list", required); err != nil {
		t.Fatalf("Failed to register operation: %v", err)
	}

	err := reg.RegisterOperation("guests.list", mustPermission(t, ResourceGuest, ActionUpdate, ScopeProperty))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate registration, got %v", err)
	}

	// The original requirement survives the rejected re-registration
	got, _ := reg.RequirementFor("guests.list")
	if got != required {
		t.Errorf("RequirementFor() = %v, want the original %v", got, required)
	}
}

func TestRegisterOperationsBatch(t *testing.T) {
	reg := NewOperationRegistry(DefaultCatalog())

	ops := map[string]Permission{
		"reports.property": mustPermission(t, ResourceReport, ActionRead, ScopeProperty),
		"audit.view":       mustPermission(t, ResourceAuditLog, ActionRead, ScopeOrganization),
	}
	if err := reg.RegisterOperations(ops); err != nil {
		t.Fatalf("Failed to register batch: %v", err)
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}

	// A bad entry fails the batch at that entry; earlier names stick.
	// Iteration is sorted, so "aaa.bad" fails before "zzz.good" registers.
	bad := map[string]Permission{
		"aaa.bad":  {Resource: ResourceAny, Action: ActionAny, Scope: ScopePlatform},
		"zzz.good": mustPermission(t, ResourceStaff, ActionRead, ScopeProperty),
	}
	if err := reg.RegisterOperations(bad); err == nil {
		t.Fatal("Expected the batch to fail on the wildcard entry")
	}
	if _, ok := reg.RequirementFor("zzz.good"); ok {
		t.Error("Entries after the failure must not be registered")
	}
}

func TestRequirementForUnregistered(t *testing.T) {
	reg := NewOperationRegistry(DefaultCatalog())
	if _, ok := reg.RequirementFor("ghosts.walk"); ok {
		t.Error("Expected no requirement for an unregistered operation")
	}
}

func TestOperationsSorted(t *testing.T) {
	reg := NewOperationRegistry(DefaultCatalog())
	if err := reg.RegisterOperations(DefaultOperations()); err != nil {
		t.Fatalf("Failed to register default operations: %v", err)
	}

	names := reg.Operations()
	if len(names) != len(DefaultOperations()) {
		t.Fatalf("Operations() returned %d names, want %d", len(names), len(DefaultOperations()))
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("Operations() not sorted: %v", names)
	}
}

func TestRegistryValidate(t *testing.T) {
	reg := NewOperationRegistry(DefaultCatalog())
	if err := reg.RegisterOperations(DefaultOperations()); err != nil {
		t.Fatalf("Failed to register default operations: %v", err)
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate() failed on a clean registry: %v", err)
	}

	// Plant a requirement the catalog no longer knows about
	reg.ops["ghosts.walk"] = Permission{Resource: ResourceGuest, Action: ActionApprove, Scope: ScopePlatform}
	if err := reg.Validate(); !errors.Is(err, ErrInvalidPermission) {
		t.Errorf("Validate() error = %v, want ErrInvalidPermission", err)
	}
}

func TestDefaultOperations(t *testing.T) {
	catalog := DefaultCatalog()
	for op, required := range DefaultOperations() {
		if err := required.Validate(); err != nil {
			t.Errorf("Operation %q has invalid requirement: %v", op, err)
		}
		if required.HasWildcard() {
			t.Errorf("Operation %q must not require a wildcard", op)
		}
		if !catalog.Contains(required) {
			t.Errorf("Operation %q requires %s which is not in the catalog", op, required.String())
		}
	}

	// Spot-check a few well-known bindings
	ops := DefaultOperations()
	if got := ops["reservations.check_in"]; got != mustPermission(t, ResourceReservation, ActionCheckIn, ScopeProperty) {
		t.Errorf("reservations.check_in requires %v", got)
	}
	if got := ops["roles.assign"]; got != mustPermission(t, ResourceRole, ActionAssign, ScopeOrganization) {
		t.Errorf("roles.assign requires %v", got)
	}
	if got := ops["guests.export"]; got != mustPermission(t, ResourceGuest, ActionExport, ScopeOrganization) {
		t.Errorf("guests.export requires %v", got)
	}
}
