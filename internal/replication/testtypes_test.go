package replication

import "github.com/tunnelmesh/aaarepl/pkg/wire"

type testDomain struct {
	ID   int32
	Name string
}

type testRole struct {
	Name    string
	Builtin bool
	Verbs   []string
}

func encodeTestDomain(w *wire.Writer, d *testDomain) error {
	w.PutInt32(d.ID)
	w.PutString(d.Name)
	return nil
}

func decodeTestDomain(r *wire.Reader) (*testDomain, error) {
	id, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return &testDomain{ID: id, Name: name}, nil
}

func testDomainCodec() Codec {
	return NewCodec("aaa.test.Domain", encodeTestDomain, decodeTestDomain)
}

func testRoleCodec() Codec {
	return NewCodec("aaa.test.Role",
		func(w *wire.Writer, role *testRole) error {
			w.PutString(role.Name)
			w.PutBool(role.Builtin)
			w.PutStringSlice(role.Verbs)
			return nil
		},
		func(r *wire.Reader) (*testRole, error) {
			var role testRole
			var err error
			if role.Name, err = r.ReadString(); err != nil {
				return nil, err
			}
			if role.Builtin, err = r.ReadBool(); err != nil {
				return nil, err
			}
			if role.Verbs, err = r.ReadStringSlice(); err != nil {
				return nil, err
			}
			return &role, nil
		})
}

func newTestRegistry(t interface{ Fatalf(string, ...any) }) *Registry {
	reg := NewRegistry()
	if _, err := reg.Register(testDomainCodec()); err != nil {
		t.Fatalf("register domain: %v", err)
	}
	if _, err := reg.Register(testRoleCodec()); err != nil {
		t.Fatalf("register role: %v", err)
	}
	return reg
}
