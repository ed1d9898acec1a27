package auth

// Built-in role names
const (
	RoleAdmin    = "admin"    // Full access to every resource in every domain
	RoleOperator = "operator" // Manage users and grants, read everything else
	RoleViewer   = "viewer"   // Read-only access
)

// Resource types for authorization
const (
	ResourceUsers   = "users"
	ResourceDomains = "domains"
	ResourceRoles   = "roles"
	ResourceGrants  = "grants"
)

// Role defines a set of permissions.
type Role struct {
	Name    string `json:"name"`
	Rules   []Rule `json:"rules"`
	Builtin bool   `json:"builtin,omitempty"` // True for built-in roles
}

// Rule defines permissions for a set of resources.
type Rule struct {
	Verbs     []string `json:"verbs"`     // e.g., ["get", "list", "create", "delete"]
	Resources []string `json:"resources"` // e.g., ["users", "grants"]
}

// Matches checks if the role allows the given verb on the given resource.
func (r *Role) Matches(verb, resource string) bool {
	for _, rule := range r.Rules {
		if rule.Matches(verb, resource) {
			return true
		}
	}
	return false
}

// Matches checks if the rule allows the given verb on the given resource.
func (r *Rule) Matches(verb, resource string) bool {
	verbMatch := false
	for _, v := range r.Verbs {
		if v == "*" || v == verb {
			verbMatch = true
			break
		}
	}
	if !verbMatch {
		return false
	}

	for _, res := range r.Resources {
		if res == "*" || res == resource {
			return true
		}
	}
	return false
}

// BuiltinRoles returns all built-in roles.
func BuiltinRoles() []Role {
	return []Role{
		{
			Name:    RoleAdmin,
			Builtin: true,
			Rules: []Rule{
				{Verbs: []string{"*"}, Resources: []string{"*"}},
			},
		},
		{
			Name:    RoleOperator,
			Builtin: true,
			Rules: []Rule{
				{Verbs: []string{"get", "list", "create", "update", "delete"}, Resources: []string{ResourceUsers, ResourceGrants}},
				{Verbs: []string{"get", "list"}, Resources: []string{ResourceDomains, ResourceRoles}},
			},
		},
		{
			Name:    RoleViewer,
			Builtin: true,
			Rules: []Rule{
				{Verbs: []string{"get", "list"}, Resources: []string{"*"}},
			},
		},
	}
}

// GetBuiltinRole returns a built-in role by name, or nil if not found.
func GetBuiltinRole(name string) *Role {
	for _, role := range BuiltinRoles() {
		if role.Name == name {
			return &role
		}
	}
	return nil
}
