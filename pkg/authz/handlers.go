package authz

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/stayops/porter/pkg/audit"
	"github.com/stayops/porter/pkg/httputil"
)

// Handlers exposes the admin HTTP surface: catalog seeding, role and
// assignment management, overrides, the evaluate endpoint, and cache
// invalidation. Every mutation invalidates the decision cache for the
// affected users before the response is written.
type Handlers struct {
	store       *PostgresStore
	evaluator   *Evaluator
	catalog     *Catalog
	auditLogger audit.Logger
}

// NewHandlers creates the admin handlers
func NewHandlers(store *PostgresStore, evaluator *Evaluator, catalog *Catalog, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		store:       store,
		evaluator:   evaluator,
		catalog:     catalog,
		auditLogger: auditLogger,
	}
}

// RegisterRoutes registers all authorization routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Evaluation
	router.HandleFunc("/authz/evaluate", h.EvaluatePermission).Methods("POST")
	router.HandleFunc("/authz/users/{id}/permissions", h.GetUserPermissions).Methods("GET")

	// Permission catalog
	router.HandleFunc("/authz/catalog/seed", h.SeedCatalog).Methods("POST")
	router.HandleFunc("/authz/catalog", h.ListCatalog).Methods("GET")

	// Role management
	router.HandleFunc("/authz/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/authz/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/authz/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/authz/roles/{id}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/authz/roles/{id}/permissions", h.SetRolePermissions).Methods("PUT")

	// Role assignments
	router.HandleFunc("/authz/assignments", h.AssignRole).Methods("POST")
	router.HandleFunc("/authz/assignments/{id}", h.RevokeAssignment).Methods("DELETE")

	// Per-user overrides
	router.HandleFunc("/authz/overrides", h.SetOverride).Methods("POST")
	router.HandleFunc("/authz/overrides/{id}", h.ClearOverride).Methods("DELETE")

	// Cache administration
	router.HandleFunc("/authz/cache/invalidate", h.InvalidateCache).Methods("POST")
}

// EvaluatePermission runs a single permission check and returns the
// decision. Denials are part of the normal response, not HTTP errors;
// only a malformed request is rejected outright.
func (h *Handlers) EvaluatePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UserID          int64  `json:"user_id"`
		Permission      string `json:"permission"`
		OrganizationID  *int64 `json:"organization_id,omitempty"`
		PropertyID      *int64 `json:"property_id,omitempty"`
		DepartmentID    *int64 `json:"department_id,omitempty"`
		ResourceOwnerID *int64 `json:"resource_owner_id,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UserID, "user_id") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Permission, "permission") {
		return
	}

	ec := EvaluationContext{
		UserID:          req.UserID,
		OrganizationID:  req.OrganizationID,
		PropertyID:      req.PropertyID,
		DepartmentID:    req.DepartmentID,
		ResourceOwnerID: req.ResourceOwnerID,
	}

	// An unparseable requirement is a denial, not a transport error:
	// callers treat this endpoint as the decision of record.
	required, err := ParsePermission(req.Permission)
	var decision Decision
	if err != nil {
		decision = Deny(ReasonInvalidRequirement)
	} else {
		decision = h.evaluator.Evaluate(ctx, required, ec)
	}

	if decision.Granted {
		h.logAuthorization(ctx, audit.EventTypeAuthzEvaluated, req.UserID, req.Permission, audit.EventStatusSuccess, ReasonGranted)
	} else {
		h.logAuthorization(ctx, audit.EventTypeAuthzDecisionDenied, req.UserID, req.Permission, audit.EventStatusDenied, decision.Reason)
	}

	httputil.WriteJSON(w, http.StatusOK, decision)
}

// GetUserPermissions returns the freshly aggregated effective set for a
// user. The report bypasses the decision cache so administrators always
// see current state.
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	set, err := h.evaluator.EffectivePermissionsReport(ctx, userID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	httputil.WriteSuccess(w, set)
}

// SeedCatalog inserts the built-in permission definitions, or the ones
// supplied in the request body. Seeding is idempotent: already-known
// triples are skipped.
func (h *Handlers) SeedCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Definitions []PermissionDefinition `json:"definitions,omitempty"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	defs := req.Definitions
	if len(defs) == 0 {
		defs = DefaultDefinitions()
	}

	inserted, err := h.store.UpsertPermissions(ctx, defs)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	for _, def := range defs {
		if _, err := h.catalog.Register(def); err != nil {
			h.writeStoreError(w, err)
			return
		}
	}

	h.logMutation(ctx, audit.EventTypeAuthzCatalogSeeded, audit.ResourceTypePermission, "catalog", nil,
		"seeded "+strconv.Itoa(len(defs))+" definitions, "+strconv.Itoa(inserted)+" new")

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"seeded":   len(defs),
		"inserted": inserted,
	})
}

// ListCatalog lists permission definitions, optionally filtered by
// category
func (h *Handlers) ListCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	category := httputil.ParseQueryString(r, "category", "")

	defs, err := h.store.ListPermissions(ctx, category)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	httputil.WriteSuccess(w, defs)
}

// CreateRole creates a custom role, optionally with an initial set of
// permission grants
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name           string           `json:"name"`
		Description    string           `json:"description"`
		OrganizationID *int64           `json:"organization_id,omitempty"`
		PropertyID     *int64           `json:"property_id,omitempty"`
		Priority       int              `json:"priority"`
		Permissions    []RolePermission `json:"permissions,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role := &CustomRole{
		Name:           req.Name,
		Description:    req.Description,
		OrganizationID: req.OrganizationID,
		PropertyID:     req.PropertyID,
		Priority:       req.Priority,
		IsActive:       true,
		CreatedBy:      actorFrom(ctx),
	}

	if err := h.store.CreateRole(ctx, role); err != nil {
		h.writeStoreError(w, err)
		return
	}

	if len(req.Permissions) > 0 {
		if err := h.store.SetRolePermissions(ctx, role.ID, req.Permissions); err != nil {
			h.writeStoreError(w, err)
			return
		}
	}

	h.logMutation(ctx, audit.EventTypeAuthzRoleCreated, audit.ResourceTypeRole, strconv.FormatInt(role.ID, 10), nil, "created role "+role.Name)

	httputil.WriteCreated(w, role)
}

// ListRoles lists custom roles, optionally filtered by tenant
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	organizationID, err := optionalQueryID(r, "organization_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	propertyID, err := optionalQueryID(r, "property_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	roles, err := h.store.ListRoles(ctx, organizationID, propertyID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	httputil.WriteSuccess(w, roles)
}

// GetRole returns one role together with its permission grants
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(ctx, roleID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	grants, err := h.store.GrantedPermissions(ctx, roleID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"role":        role,
		"permissions": grants,
	})
}

// UpdateRole updates a role's mutable fields. System roles cannot be
// edited. Users assigned to the role lose their cached sets before the
// response is written.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(ctx, roleID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if role.IsSystemRole {
		httputil.WriteForbidden(w, "system roles cannot be modified")
		return
	}

	var req struct {
		Name        *string `json:"name,omitempty"`
		Description *string `json:"description,omitempty"`
		Priority    *int    `json:"priority,omitempty"`
		IsActive    *bool   `json:"is_active,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	before := map[string]interface{}{
		"name":        role.Name,
		"description": role.Description,
		"priority":    role.Priority,
		"is_active":   role.IsActive,
	}

	if req.Name != nil {
		if *req.Name == "" {
			httputil.WriteValidationError(w, "name cannot be empty")
			return
		}
		role.Name = *req.Name
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.Priority != nil {
		role.Priority = *req.Priority
	}
	if req.IsActive != nil {
		role.IsActive = *req.IsActive
	}

	if err := h.store.UpdateRole(ctx, role); err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.invalidateRoleUsers(ctx, roleID)

	changes := &audit.ChangeDetails{
		Before: before,
		After: map[string]interface{}{
			"name":        role.Name,
			"description": role.Description,
			"priority":    role.Priority,
			"is_active":   role.IsActive,
		},
	}
	h.logMutation(ctx, audit.EventTypeAuthzRoleUpdated, audit.ResourceTypeRole, strconv.FormatInt(roleID, 10), changes, "updated role "+role.Name)

	httputil.WriteSuccess(w, role)
}

// SetRolePermissions replaces a role's full grant list in one
// transaction and invalidates every assigned user's cached set
func (h *Handlers) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Permissions []RolePermission `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.store.SetRolePermissions(ctx, roleID, req.Permissions); err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.invalidateRoleUsers(ctx, roleID)

	h.logMutation(ctx, audit.EventTypeAuthzRoleGrants, audit.ResourceTypeRole, strconv.FormatInt(roleID, 10), nil,
		"replaced grants with "+strconv.Itoa(len(req.Permissions))+" entries")

	grants, err := h.store.GrantedPermissions(ctx, roleID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	httputil.WriteSuccess(w, grants)
}

// AssignRole assigns a custom role to a user
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UserID    int64      `json:"user_id"`
		RoleID    int64      `json:"role_id"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UserID, "user_id") {
		return
	}
	if !httputil.RequirePositive(w, req.RoleID, "role_id") {
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		httputil.WriteValidationError(w, "expires_at must be in the future")
		return
	}

	assignment := &RoleAssignment{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		ExpiresAt:  req.ExpiresAt,
		AssignedBy: actorFrom(ctx),
	}

	if err := h.store.AssignRole(ctx, assignment); err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.evaluator.InvalidateUser(ctx, req.UserID)

	h.logMutation(ctx, audit.EventTypeAuthzRoleAssigned, audit.ResourceTypeAssignment, strconv.FormatInt(assignment.ID, 10), nil,
		"assigned role "+strconv.FormatInt(req.RoleID, 10)+" to user "+strconv.FormatInt(req.UserID, 10))

	httputil.WriteCreated(w, assignment)
}

// RevokeAssignment removes a role assignment and invalidates the
// affected user's cached set
func (h *Handlers) RevokeAssignment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	assignmentID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	userID, err := h.store.RevokeAssignment(ctx, assignmentID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.evaluator.InvalidateUser(ctx, userID)

	h.logMutation(ctx, audit.EventTypeAuthzRoleRevoked, audit.ResourceTypeAssignment, strconv.FormatInt(assignmentID, 10), nil,
		"revoked assignment for user "+strconv.FormatInt(userID, 10))

	httputil.WriteNoContent(w)
}

// SetOverride creates or updates a per-user permission override
func (h *Handlers) SetOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UserID         int64  `json:"user_id"`
		Permission     string `json:"permission"`
		Granted        bool   `json:"granted"`
		OrganizationID *int64 `json:"organization_id,omitempty"`
		PropertyID     *int64 `json:"property_id,omitempty"`
		DepartmentID   *int64 `json:"department_id,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UserID, "user_id") {
		return
	}

	perm, err := ParsePermission(req.Permission)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	override := &PermissionOverride{
		UserID:         req.UserID,
		Permission:     perm,
		Granted:        req.Granted,
		OrganizationID: req.OrganizationID,
		PropertyID:     req.PropertyID,
		DepartmentID:   req.DepartmentID,
		CreatedBy:      actorFrom(ctx),
	}

	if err := h.store.SetOverride(ctx, override); err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.evaluator.InvalidateUser(ctx, req.UserID)

	verb := "granted"
	if !req.Granted {
		verb = "denied"
	}
	h.logMutation(ctx, audit.EventTypeAuthzOverrideSet, audit.ResourceTypeOverride, strconv.FormatInt(override.ID, 10), nil,
		verb+" "+perm.String()+" for user "+strconv.FormatInt(req.UserID, 10))

	httputil.WriteCreated(w, override)
}

// ClearOverride removes a per-user override and invalidates the
// affected user's cached set
func (h *Handlers) ClearOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	overrideID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	userID, err := h.store.ClearOverride(ctx, overrideID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.evaluator.InvalidateUser(ctx, userID)

	h.logMutation(ctx, audit.EventTypeAuthzOverrideCleared, audit.ResourceTypeOverride, strconv.FormatInt(overrideID, 10), nil,
		"cleared override for user "+strconv.FormatInt(userID, 10))

	httputil.WriteNoContent(w)
}

// InvalidateCache drops the cached set for one user, or the whole
// cache when no user_id is given
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UserID *int64 `json:"user_id,omitempty"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	scope := "all"
	if req.UserID != nil {
		if err := h.evaluator.InvalidateUser(ctx, *req.UserID); err != nil {
			h.writeStoreError(w, err)
			return
		}
		scope = "user " + strconv.FormatInt(*req.UserID, 10)
	} else {
		if err := h.evaluator.InvalidateAll(ctx); err != nil {
			h.writeStoreError(w, err)
			return
		}
	}

	h.logMutation(ctx, audit.EventTypeAuthzCacheInvalidated, audit.ResourceTypeCache, scope, nil, "invalidated "+scope)

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"invalidated": scope,
		"stats":       h.evaluator.CacheStats(),
	})
}

// invalidateRoleUsers drops cached sets for every user assigned to the
// role. Invalidation is best-effort here: a failed drop is bounded by
// the cache TTL.
func (h *Handlers) invalidateRoleUsers(ctx context.Context, roleID int64) {
	users, err := h.store.UsersAssignedToRole(ctx, roleID)
	if err != nil {
		h.evaluator.InvalidateAll(ctx)
		return
	}
	for _, userID := range users {
		h.evaluator.InvalidateUser(ctx, userID)
	}
}

// writeStoreError maps store errors onto HTTP statuses
func (h *Handlers) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrInvalidPermission):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		httputil.WriteServiceUnavailable(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

func (h *Handlers) logAuthorization(ctx context.Context, eventType audit.EventType, userID int64, permission string, status audit.EventStatus, message string) {
	if h.auditLogger == nil {
		return
	}
	h.auditLogger.LogAuthorization(ctx, eventType, &userID, audit.ResourceTypePermission, permission, status, message)
}

func (h *Handlers) logMutation(ctx context.Context, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, changes *audit.ChangeDetails, message string) {
	if h.auditLogger == nil {
		return
	}
	h.auditLogger.LogMutation(ctx, eventType, actorFrom(ctx), resourceType, resourceID, changes, message)
}

// actorFrom pulls the acting user's id from the request principal, if
// any
func actorFrom(ctx context.Context) *int64 {
	if p, ok := PrincipalFromContext(ctx); ok {
		id := p.UserID
		return &id
	}
	return nil
}

func optionalQueryID(r *http.Request, key string) (*int64, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, errors.New("invalid integer for query param " + key + ": " + str)
	}
	return &id, nil
}
