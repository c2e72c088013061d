package authz

import (
	"context"
	"net/http"

	"github.com/stayops/porter/pkg/contextkeys"
	"github.com/stayops/porter/pkg/httputil"
)

// Principal is the authenticated caller as established by the
// gateway's auth layer before porter middleware runs. Tenant ids are
// the caller's home tenancy; they become the evaluation context.
type Principal struct {
	UserID         int64  `json:"user_id"`
	OrganizationID *int64 `json:"organization_id,omitempty"`
	PropertyID     *int64 `json:"property_id,omitempty"`
	DepartmentID   *int64 `json:"department_id,omitempty"`
}

// PrincipalFromContext extracts the principal placed by the auth layer
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

// DecisionFromContext returns the decision stashed by the middleware
// after a grant, so handlers can apply its scope filters to queries
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	decision, ok := ctx.Value(contextkeys.DecisionKey).(Decision)
	return decision, ok
}

// evaluationContext builds the per-request evaluation context from the
// principal plus any resource owner a handler resolved earlier.
func (p *Principal) evaluationContext(ctx context.Context) EvaluationContext {
	ec := EvaluationContext{
		UserID:         p.UserID,
		OrganizationID: p.OrganizationID,
		PropertyID:     p.PropertyID,
		DepartmentID:   p.DepartmentID,
	}
	if ownerID, ok := contextkeys.GetResourceOwner(ctx); ok {
		ec.ResourceOwnerID = &ownerID
	}
	return ec
}

// PermissionMiddleware guards HTTP routes with permission evaluation
type PermissionMiddleware struct {
	evaluator *Evaluator
	registry  *OperationRegistry
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(evaluator *Evaluator, registry *OperationRegistry) *PermissionMiddleware {
	return &PermissionMiddleware{
		evaluator: evaluator,
		registry:  registry,
	}
}

// RequireOperation guards a route with the requirement registered for
// the operation. An operation missing from the registry denies every
// request; registration gaps surface as 403s in dev, not silent
// grants.
func (pm *PermissionMiddleware) RequireOperation(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			required, ok := pm.registry.RequirementFor(operation)
			if !ok {
				httputil.WriteForbidden(w, "operation not registered")
				return
			}

			pm.guard(w, r, next, required)
		})
	}
}

// RequirePermission guards a route with an explicit requirement
func (pm *PermissionMiddleware) RequirePermission(resource Resource, action Action, scope ScopeLevel) func(http.Handler) http.Handler {
	required := Permission{Resource: resource, Action: action, Scope: scope}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pm.guard(w, r, next, required)
		})
	}
}

func (pm *PermissionMiddleware) guard(w http.ResponseWriter, r *http.Request, next http.Handler, required Permission) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	ec := principal.evaluationContext(r.Context())

	decision := pm.evaluator.Evaluate(r.Context(), required, ec)
	if !decision.Granted {
		httputil.WriteForbidden(w, decision.Reason)
		return
	}

	ctx := contextkeys.WithDecision(r.Context(), decision)
	next.ServeHTTP(w, r.WithContext(ctx))
}
