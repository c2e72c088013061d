package authz

import "fmt"

// The scope resolver is deliberately pure: scope level gates breadth
// (a narrower grant never satisfies a broader requirement) and tenant
// identifier comparison gates applicability (a grant pinned to one
// tenant never applies to another). Both gates must pass.

// ValidateContext checks that the context carries the identifiers the
// required scope needs. A requirement that cannot be verified against
// its context is undecidable and must be denied.
func ValidateContext(required Permission, ec EvaluationContext) error {
	if ec.UserID <= 0 {
		return fmt.Errorf("%w: missing user_id", ErrInvalidContext)
	}
	switch required.Scope {
	case ScopePlatform:
		return nil
	case ScopeOrganization:
		if ec.OrganizationID == nil {
			return fmt.Errorf("%w: organization scope requires organization_id", ErrInvalidContext)
		}
	case ScopeProperty:
		if ec.OrganizationID == nil {
			return fmt.Errorf("%w: property scope requires organization_id", ErrInvalidContext)
		}
		if ec.PropertyID == nil {
			return fmt.Errorf("%w: property scope requires property_id", ErrInvalidContext)
		}
	case ScopeDepartment:
		if ec.OrganizationID == nil {
			return fmt.Errorf("%w: department scope requires organization_id", ErrInvalidContext)
		}
		if ec.PropertyID == nil {
			return fmt.Errorf("%w: department scope requires property_id", ErrInvalidContext)
		}
		if ec.DepartmentID == nil {
			return fmt.Errorf("%w: department scope requires department_id", ErrInvalidContext)
		}
	case ScopeOwn:
		if ec.ResourceOwnerID == nil {
			return fmt.Errorf("%w: own scope requires resource_owner_id", ErrInvalidContext)
		}
	default:
		return fmt.Errorf("%w: unknown required scope %d", ErrInvalidContext, int(required.Scope))
	}
	return nil
}

// Covers reports whether a resolved grant satisfies a concrete
// requirement within the given context. It does not look at the
// Granted flag; denied entries cover a requirement the same way
// granted ones do, and the caller decides what a covering deny means.
func Covers(grant ResolvedPermission, required Permission, ec EvaluationContext) bool {
	if !matchResource(grant.Permission.Resource, required.Resource) {
		return false
	}
	if !matchAction(grant.Permission.Action, required.Action) {
		return false
	}
	if !grant.Permission.Scope.Covers(required.Scope) {
		return false
	}
	return tenantCompatible(grant, ec)
}

func matchResource(granted, required Resource) bool {
	return granted == ResourceAny || granted == required
}

func matchAction(granted, required Action) bool {
	return granted == ActionAny || granted == required
}

// tenantCompatible verifies the grant's tenant pins against the
// context. Each identifier the grant pins must be present and equal in
// the context; an unpinned identifier matches any value, which is how
// global/system roles apply across tenants. Own-scoped grants apply
// only to resources owned by the acting user.
func tenantCompatible(grant ResolvedPermission, ec EvaluationContext) bool {
	switch grant.Permission.Scope {
	case ScopePlatform:
		return true
	case ScopeOrganization:
		return pinMatches(grant.OrganizationID, ec.OrganizationID)
	case ScopeProperty:
		return pinMatches(grant.OrganizationID, ec.OrganizationID) &&
			pinMatches(grant.PropertyID, ec.PropertyID)
	case ScopeDepartment:
		return pinMatches(grant.OrganizationID, ec.OrganizationID) &&
			pinMatches(grant.PropertyID, ec.PropertyID) &&
			pinMatches(grant.DepartmentID, ec.DepartmentID)
	case ScopeOwn:
		if ec.ResourceOwnerID == nil || *ec.ResourceOwnerID != ec.UserID {
			return false
		}
		return pinMatches(grant.OrganizationID, ec.OrganizationID) &&
			pinMatches(grant.PropertyID, ec.PropertyID) &&
			pinMatches(grant.DepartmentID, ec.DepartmentID)
	default:
		return false
	}
}

// pinMatches compares one pinned tenant identifier against the context
// value. nil pin = unpinned, matches anything. A pinned value with no
// corresponding context value cannot be verified and does not match.
func pinMatches(pin, ctxValue *int64) bool {
	if pin == nil {
		return true
	}
	if ctxValue == nil {
		return false
	}
	return *pin == *ctxValue
}

// ScopeFilters derives the data-query constraints the caller must AND
// into any subsequent storage access for a granted decision. The filter
// is keyed by the grant's scope: broader grants constrain less.
func ScopeFilters(grant ResolvedPermission, ec EvaluationContext) map[string]int64 {
	filters := make(map[string]int64)
	switch grant.Permission.Scope {
	case ScopePlatform:
		// unconstrained
	case ScopeOrganization:
		if ec.OrganizationID != nil {
			filters[FilterOrganizationID] = *ec.OrganizationID
		} else if grant.OrganizationID != nil {
			filters[FilterOrganizationID] = *grant.OrganizationID
		}
	case ScopeProperty:
		if ec.PropertyID != nil {
			filters[FilterPropertyID] = *ec.PropertyID
		} else if grant.PropertyID != nil {
			filters[FilterPropertyID] = *grant.PropertyID
		}
	case ScopeDepartment:
		if ec.DepartmentID != nil {
			filters[FilterDepartmentID] = *ec.DepartmentID
		} else if grant.DepartmentID != nil {
			filters[FilterDepartmentID] = *grant.DepartmentID
		}
	case ScopeOwn:
		filters[FilterOwnerID] = ec.UserID
	}
	return filters
}

// BestMatch selects the decisive entry among the resolved permissions
// covering the requirement. Denied entries are decisive first, so an
// explicit deny is never shadowed by a broader grant of the same
// resource and action. Among granted entries the broadest scope wins;
// exact resource/action beats wildcard on equal scope.
func BestMatch(set []ResolvedPermission, required Permission, ec EvaluationContext) (ResolvedPermission, bool) {
	var best ResolvedPermission
	found := false
	for _, rp := range set {
		if !Covers(rp, required, ec) {
			continue
		}
		if !found {
			best = rp
			found = true
			continue
		}
		if preferMatch(rp, best, required) {
			best = rp
		}
	}
	return best, found
}

// preferMatch reports whether a should replace b as the decisive entry
func preferMatch(a, b ResolvedPermission, required Permission) bool {
	// denies dominate grants
	if !a.Granted && b.Granted {
		return true
	}
	if a.Granted && !b.Granted {
		return false
	}
	if a.Granted {
		// broader grant wins; the caller gets the widest entitlement
		if a.Permission.Scope != b.Permission.Scope {
			return a.Permission.Scope > b.Permission.Scope
		}
	} else {
		// most specific deny wins: closest scope to the requirement
		if a.Permission.Scope != b.Permission.Scope {
			return a.Permission.Scope < b.Permission.Scope
		}
	}
	return wildcardRank(a.Permission) < wildcardRank(b.Permission)
}

// wildcardRank orders exact triples before wildcarded ones
func wildcardRank(p Permission) int {
	rank := 0
	if p.Resource == ResourceAny {
		rank += 2
	}
	if p.Action == ActionAny {
		rank++
	}
	return rank
}
