package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuiltinRoles(t *testing.T) {
	roles := BuiltinRoles()

	assert.Len(t, roles, 3)

	roleNames := make(map[string]bool)
	for _, r := range roles {
		roleNames[r.Name] = true
		assert.True(t, r.Builtin, "role %s should be builtin", r.Name)
	}

	assert.True(t, roleNames[RoleAdmin])
	assert.True(t, roleNames[RoleOperator])
	assert.True(t, roleNames[RoleViewer])
}

func TestBuiltinRolePermissions(t *testing.T) {
	operator := GetBuiltinRole(RoleOperator)
	assert.True(t, operator.Matches("create", ResourceUsers))
	assert.True(t, operator.Matches("delete", ResourceGrants))
	assert.True(t, operator.Matches("list", ResourceDomains))
	assert.False(t, operator.Matches("delete", ResourceDomains))
	assert.False(t, operator.Matches("update", ResourceRoles))

	viewer := GetBuiltinRole(RoleViewer)
	assert.True(t, viewer.Matches("get", ResourceGrants))
	assert.False(t, viewer.Matches("create", ResourceUsers))
}

func TestRoleMatches(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		verb     string
		resource string
		want     bool
	}{
		{
			name: "admin matches everything",
			role: Role{
				Name:  RoleAdmin,
				Rules: []Rule{{Verbs: []string{"*"}, Resources: []string{"*"}}},
			},
			verb:     "delete",
			resource: "users",
			want:     true,
		},
		{
			name: "exact match",
			role: Role{
				Name:  "test",
				Rules: []Rule{{Verbs: []string{"get", "list"}, Resources: []string{"users"}}},
			},
			verb:     "get",
			resource: "users",
			want:     true,
		},
		{
			name: "verb not allowed",
			role: Role{
				Name:  "test",
				Rules: []Rule{{Verbs: []string{"get", "list"}, Resources: []string{"users"}}},
			},
			verb:     "delete",
			resource: "users",
			want:     false,
		},
		{
			name: "resource not allowed",
			role: Role{
				Name:  "test",
				Rules: []Rule{{Verbs: []string{"get", "list"}, Resources: []string{"users"}}},
			},
			verb:     "get",
			resource: "grants",
			want:     false,
		},
		{
			name: "wildcard verb",
			role: Role{
				Name:  "test",
				Rules: []Rule{{Verbs: []string{"*"}, Resources: []string{"grants"}}},
			},
			verb:     "delete",
			resource: "grants",
			want:     true,
		},
		{
			name: "wildcard resource",
			role: Role{
				Name:  "test",
				Rules: []Rule{{Verbs: []string{"get"}, Resources: []string{"*"}}},
			},
			verb:     "get",
			resource: "anything",
			want:     true,
		},
		{
			name: "multiple rules - second matches",
			role: Role{
				Name: "test",
				Rules: []Rule{
					{Verbs: []string{"get"}, Resources: []string{"users"}},
					{Verbs: []string{"put"}, Resources: []string{"grants"}},
				},
			},
			verb:     "put",
			resource: "grants",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.role.Matches(tt.verb, tt.resource)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetBuiltinRole(t *testing.T) {
	role := GetBuiltinRole(RoleAdmin)
	assert.NotNil(t, role)
	assert.Equal(t, RoleAdmin, role.Name)

	role = GetBuiltinRole("nonexistent")
	assert.Nil(t, role)
}
