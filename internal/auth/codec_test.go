package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunnelmesh/aaarepl/internal/replication"
)

func newRegistry(t *testing.T) *replication.Registry {
	t.Helper()
	reg := replication.NewRegistry()
	require.NoError(t, RegisterTypes(reg))
	return reg
}

func TestRegisterTypes(t *testing.T) {
	reg := newRegistry(t)

	regs := reg.Registrations()
	require.Len(t, regs, 4)
	names := []string{regs[0].Name, regs[1].Name, regs[2].Name, regs[3].Name}
	assert.Equal(t, []string{TypeDomain, TypeGrant, TypeRole, TypeUser}, names)

	id, err := reg.IdentifierFor(Domain{})
	require.NoError(t, err)
	assert.Equal(t, replication.NewTypeID(TypeDomain), id)

	// Registering twice is rejected
	assert.ErrorIs(t, RegisterTypes(reg), replication.ErrDuplicateType)
}

func TestCodecs_RoundTrip(t *testing.T) {
	reg := newRegistry(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		obj  any
	}{
		{"domain", Domain{ID: 7, Name: "sdn"}},
		{"domain with description", Domain{ID: 8, Name: "core", Description: "core network"}},
		{"user", User{ID: "alice", Name: "Alice", Email: "alice@example.com", DomainID: 7, CreatedAt: created}},
		{"disabled service user", User{ID: "svc:radius", Name: "radius", Disabled: true, CreatedAt: created, UpdatedAt: created.Add(time.Hour)}},
		{"role", Role{Name: "netops", Rules: []Rule{
			{Verbs: []string{"get", "list"}, Resources: []string{ResourceDomains}},
			{Verbs: []string{"*"}, Resources: []string{ResourceUsers, ResourceGrants}},
		}}},
		{"role without rules", Role{Name: "empty"}},
		{"grant", Grant{ID: "g1", UserID: "alice", RoleName: RoleOperator, DomainScope: "sdn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, op := range []replication.Operation{replication.OpWrite, replication.OpUpdate, replication.OpDelete} {
				buf, err := replication.Encode(reg, op, tt.obj)
				require.NoError(t, err)

				env, err := replication.Decode(reg, buf)
				require.NoError(t, err)
				assert.Equal(t, op, env.Op)
				assert.Equal(t, tt.obj, env.Object)
			}
		})
	}
}

func TestCodecs_Truncated(t *testing.T) {
	reg := newRegistry(t)
	obj := Role{Name: "netops", Rules: []Rule{{Verbs: []string{"get"}, Resources: []string{ResourceUsers}}}}

	buf, err := replication.Encode(reg, replication.OpWrite, obj)
	require.NoError(t, err)

	for n := replication.HeaderSize; n < len(buf); n++ {
		_, err := replication.Decode(reg, buf[:n])
		assert.ErrorIs(t, err, replication.ErrTruncated, "prefix length %d", n)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		obj      any
		wantKind string
		wantID   string
	}{
		{User{ID: "alice"}, KindUser, "alice"},
		{&User{ID: "bob"}, KindUser, "bob"},
		{Domain{ID: 7}, KindDomain, "7"},
		{Role{Name: "viewer"}, KindRole, "viewer"},
		{&Grant{ID: "g1"}, KindGrant, "g1"},
	}

	for _, tt := range tests {
		kind, id, err := Describe(tt.obj)
		require.NoError(t, err)
		assert.Equal(t, tt.wantKind, kind)
		assert.Equal(t, tt.wantID, id)
	}

	_, _, err := Describe("not an entity")
	assert.Error(t, err)
}
