package auth

import (
	"github.com/tunnelmesh/aaarepl/internal/logging/audit"
)

// Authorizer handles RBAC authorization decisions against a Store. Because
// the store is replicated, every node reaches the same decision once it has
// caught up.
type Authorizer struct {
	store *Store
	audit *audit.Logger
}

// NewAuthorizer creates an authorizer over store.
func NewAuthorizer(store *Store, auditLog *audit.Logger) *Authorizer {
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	return &Authorizer{store: store, audit: auditLog}
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"` // why access was denied
}

// Authorize checks if a user can perform a verb on a resource in a domain.
// Returns true if any of the user's grants allow the action.
func (a *Authorizer) Authorize(userID, verb, resource, domain string) bool {
	return a.Check(userID, verb, resource, domain).Allowed
}

// Check is Authorize with the denial reason. Every decision is audited.
func (a *Authorizer) Check(userID, verb, resource, domain string) Decision {
	allowed, reason := a.decide(userID, verb, resource, domain)
	if allowed {
		a.audit.LogAuthz(userID, verb, resource, domain, audit.ResultAllowed, "")
	} else {
		a.audit.LogAuthz(userID, verb, resource, domain, audit.ResultDenied, reason)
	}
	return Decision{Allowed: allowed, Reason: reason}
}

func (a *Authorizer) decide(userID, verb, resource, domain string) (bool, string) {
	user, ok := a.store.User(userID)
	if !ok {
		return false, "unknown user"
	}
	if user.Disabled {
		return false, "user disabled"
	}

	for _, grant := range a.store.GrantsForUser(userID) {
		// Check domain scope
		if !grant.AppliesToDomain(domain) {
			continue
		}

		role, exists := a.store.Role(grant.RoleName)
		if !exists {
			continue
		}

		if role.Matches(verb, resource) {
			return true, ""
		}
	}

	return false, "no matching grant"
}

// IsAdmin checks if a user holds an unscoped admin grant.
func (a *Authorizer) IsAdmin(userID string) bool {
	for _, g := range a.store.GrantsForUser(userID) {
		if g.RoleName == RoleAdmin && g.DomainScope == "" {
			return true
		}
	}
	return false
}

// HasHumanAdmin checks if there is at least one enabled human admin.
func (a *Authorizer) HasHumanAdmin() bool {
	for _, u := range a.store.Users() {
		if u.IsService() || u.Disabled {
			continue
		}
		if a.IsAdmin(u.ID) {
			return true
		}
	}
	return false
}

// GetUserRoles returns the names of all roles granted to a user.
func (a *Authorizer) GetUserRoles(userID string) []string {
	grants := a.store.GrantsForUser(userID)
	roles := make([]string, 0, len(grants))
	for _, g := range grants {
		roles = append(roles, g.RoleName)
	}
	return roles
}
