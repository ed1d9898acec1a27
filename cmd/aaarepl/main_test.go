package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunnelmesh/aaarepl/internal/auth"
	"github.com/tunnelmesh/aaarepl/internal/config"
	"github.com/tunnelmesh/aaarepl/internal/replication"
	"github.com/tunnelmesh/aaarepl/testutil"
)

func TestBuildEntity(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		op      replication.Operation
		flags   publishFlags
		check   func(t *testing.T, obj any)
		wantErr string
	}{
		{
			name:  "domain",
			kind:  "domain",
			op:    replication.OpWrite,
			flags: publishFlags{id: "7", name: "sdn"},
			check: func(t *testing.T, obj any) {
				assert.Equal(t, auth.Domain{ID: 7, Name: "sdn"}, obj)
			},
		},
		{
			name:    "domain non-numeric id",
			kind:    "domain",
			flags:   publishFlags{id: "sdn"},
			wantErr: "numeric --id",
		},
		{
			name:  "user",
			kind:  "USER",
			op:    replication.OpUpdate,
			flags: publishFlags{id: "alice", name: "Alice", domainID: 7, disabled: true},
			check: func(t *testing.T, obj any) {
				u, ok := obj.(auth.User)
				require.True(t, ok)
				assert.Equal(t, "alice", u.ID)
				assert.Equal(t, int32(7), u.DomainID)
				assert.True(t, u.Disabled)
				assert.False(t, u.CreatedAt.IsZero())
			},
		},
		{
			name:    "user without id",
			kind:    "user",
			wantErr: "--id",
		},
		{
			name:  "role",
			kind:  "role",
			flags: publishFlags{name: "auditor", rules: []string{"get,list:users,grants"}},
			check: func(t *testing.T, obj any) {
				assert.Equal(t, auth.Role{
					Name:  "auditor",
					Rules: []auth.Rule{{Verbs: []string{"get", "list"}, Resources: []string{"users", "grants"}}},
				}, obj)
			},
		},
		{
			name:    "role bad rule",
			kind:    "role",
			flags:   publishFlags{name: "auditor", rules: []string{"get"}},
			wantErr: "invalid rule",
		},
		{
			name:  "grant generates id",
			kind:  "grant",
			op:    replication.OpWrite,
			flags: publishFlags{user: "alice", role: "viewer", scope: "sdn"},
			check: func(t *testing.T, obj any) {
				g, ok := obj.(auth.Grant)
				require.True(t, ok)
				assert.Len(t, g.ID, 8)
				assert.Equal(t, "sdn", g.DomainScope)
			},
		},
		{
			name:  "grant delete by id",
			kind:  "grant",
			op:    replication.OpDelete,
			flags: publishFlags{id: "abcd1234"},
			check: func(t *testing.T, obj any) {
				assert.Equal(t, auth.Grant{ID: "abcd1234"}, obj)
			},
		},
		{
			name:    "grant missing role",
			kind:    "grant",
			op:      replication.OpWrite,
			flags:   publishFlags{user: "alice"},
			wantErr: "--role",
		},
		{
			name:    "unknown entity",
			kind:    "session",
			wantErr: "unknown entity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := buildEntity(tt.kind, tt.op, tt.flags)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, obj)
		})
	}
}

func TestZoneTarget(t *testing.T) {
	assert.Equal(t, "ctl-1.aaa.example.com", zoneTarget("CTL-1", "aaa.example.com."))
	assert.Equal(t, "host-lan.aaa.example.com", zoneTarget("host.lan", "aaa.example.com"))
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "aaarepl "+Version)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "node.yaml", "backpressure: sometimes\n")
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func startTestRuntime(t *testing.T, peers ...string) *nodeRuntime {
	t.Helper()
	cfg := &config.NodeConfig{
		NodeName:      "test",
		Listen:        "127.0.0.1:0",
		Peers:         peers,
		ControlSocket: filepath.Join(t.TempDir(), "aaarepl.sock"),
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	rt, err := startRuntime(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(rt.shutdown)
	return rt
}

func TestPublishOne_AppliedByRunningNode(t *testing.T) {
	rt := startTestRuntime(t)
	addr := rt.node.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, publishOne(ctx, addr, replication.OpWrite, auth.Domain{ID: 7, Name: "sdn"}, time.Second))

	testutil.Eventually(t, 2*time.Second, func() bool {
		_, ok := rt.store.Domain(7)
		return ok
	}, "domain should be applied")

	require.NoError(t, publishOne(ctx, addr, replication.OpDelete, auth.Domain{ID: 7}, time.Second))

	testutil.Eventually(t, 2*time.Second, func() bool {
		_, ok := rt.store.Domain(7)
		return !ok
	}, "domain should be removed")
}

func TestRuntime_ReplicatesBetweenNodes(t *testing.T) {
	a := startTestRuntime(t)
	b := startTestRuntime(t, a.node.Addr().String())

	testutil.Eventually(t, 2*time.Second, func() bool {
		return a.node.NumConnections() == 1 && b.node.NumConnections() == 1
	}, "nodes should connect")

	require.NoError(t, b.store.Put(auth.User{ID: "alice", Name: "Alice"}))

	testutil.Eventually(t, 2*time.Second, func() bool {
		u, ok := a.store.User("alice")
		return ok && u.Name == "Alice"
	}, "user should replicate from b to a")
}

func TestPublishOne_DialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := publishOne(ctx, testutil.FreeAddr(t), replication.OpWrite, auth.Domain{ID: 1}, time.Second)
	assert.Error(t, err)
}

func TestStatusAndDialCommands(t *testing.T) {
	a := startTestRuntime(t)
	b := startTestRuntime(t)
	require.NotNil(t, a.control)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"dial", "--socket", a.control.SocketPath(), b.node.Addr().String()})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Connected")

	root = newRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetArgs([]string{"status", "--socket", a.control.SocketPath()})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Node:        test")
	assert.Contains(t, out.String(), "open=1")
	assert.Contains(t, out.String(), b.node.Addr().String())
	assert.Contains(t, out.String(), "outbound")
}

func TestStatusCommand_NoNode(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"status", "--socket", filepath.Join(t.TempDir(), "missing.sock")})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control socket")
}

func TestCheckCommand(t *testing.T) {
	rt := startTestRuntime(t)
	require.NoError(t, rt.store.Put(auth.Domain{ID: 1, Name: "sdn"}))
	require.NoError(t, rt.store.Put(auth.User{ID: "alice", DomainID: 1}))
	require.NoError(t, rt.store.Put(auth.Grant{ID: "g-1", UserID: "alice", RoleName: auth.RoleOperator, DomainScope: "sdn"}))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"check", "--socket", rt.control.SocketPath(), "--domain", "sdn", "alice", "create", "users"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Roles: operator")
	assert.Contains(t, out.String(), "allowed")

	root = newRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"check", "--socket", rt.control.SocketPath(), "--domain", "core", "alice", "create", "users"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Contains(t, out.String(), "denied: no matching grant")
}
