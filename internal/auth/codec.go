package auth

import (
	"fmt"

	"github.com/tunnelmesh/aaarepl/internal/replication"
	"github.com/tunnelmesh/aaarepl/pkg/wire"
)

// Registered type names. They determine the TypeIDs on the wire and must
// never change once a cluster runs them.
const (
	TypeUser   = "aaa.User"
	TypeDomain = "aaa.Domain"
	TypeRole   = "aaa.Role"
	TypeGrant  = "aaa.Grant"
)

// Codecs returns the codecs of all replicable AAA entities.
func Codecs() []replication.Codec {
	return []replication.Codec{
		replication.NewCodec(TypeUser, encodeUser, decodeUser),
		replication.NewCodec(TypeDomain, encodeDomain, decodeDomain),
		replication.NewCodec(TypeRole, encodeRole, decodeRole),
		replication.NewCodec(TypeGrant, encodeGrant, decodeGrant),
	}
}

// RegisterTypes registers every AAA entity codec with reg.
func RegisterTypes(reg *replication.Registry) error {
	for _, c := range Codecs() {
		if _, err := reg.Register(c); err != nil {
			return fmt.Errorf("register %s: %w", c.TypeName(), err)
		}
	}
	return nil
}

func encodeUser(w *wire.Writer, u User) error {
	w.PutString(u.ID)
	w.PutString(u.Name)
	w.PutString(u.Email)
	w.PutInt32(u.DomainID)
	w.PutBool(u.Disabled)
	w.PutTime(u.CreatedAt)
	w.PutTime(u.UpdatedAt)
	return nil
}

func decodeUser(r *wire.Reader) (User, error) {
	var u User
	var err error
	if u.ID, err = r.ReadString(); err != nil {
		return u, err
	}
	if u.Name, err = r.ReadString(); err != nil {
		return u, err
	}
	if u.Email, err = r.ReadString(); err != nil {
		return u, err
	}
	if u.DomainID, err = r.ReadInt32(); err != nil {
		return u, err
	}
	if u.Disabled, err = r.ReadBool(); err != nil {
		return u, err
	}
	if u.CreatedAt, err = r.ReadTime(); err != nil {
		return u, err
	}
	u.UpdatedAt, err = r.ReadTime()
	return u, err
}

func encodeDomain(w *wire.Writer, d Domain) error {
	w.PutInt32(d.ID)
	w.PutString(d.Name)
	w.PutString(d.Description)
	return nil
}

func decodeDomain(r *wire.Reader) (Domain, error) {
	var d Domain
	var err error
	if d.ID, err = r.ReadInt32(); err != nil {
		return d, err
	}
	if d.Name, err = r.ReadString(); err != nil {
		return d, err
	}
	d.Description, err = r.ReadString()
	return d, err
}

func encodeRole(w *wire.Writer, role Role) error {
	w.PutString(role.Name)
	w.PutBool(role.Builtin)
	w.PutInt32(int32(len(role.Rules)))
	for _, rule := range role.Rules {
		w.PutStringSlice(rule.Verbs)
		w.PutStringSlice(rule.Resources)
	}
	return nil
}

func decodeRole(r *wire.Reader) (Role, error) {
	var role Role
	var err error
	if role.Name, err = r.ReadString(); err != nil {
		return role, err
	}
	if role.Builtin, err = r.ReadBool(); err != nil {
		return role, err
	}

	n, err := r.ReadInt32()
	if err != nil {
		return role, err
	}
	// Each rule carries two 4-byte counts.
	if n < 0 || int(n) > r.Remaining()/8 {
		return role, fmt.Errorf("rule count %d: %w", n, wire.ErrTruncated)
	}
	for i := int32(0); i < n; i++ {
		var rule Rule
		if rule.Verbs, err = r.ReadStringSlice(); err != nil {
			return role, err
		}
		if rule.Resources, err = r.ReadStringSlice(); err != nil {
			return role, err
		}
		role.Rules = append(role.Rules, rule)
	}
	return role, nil
}

func encodeGrant(w *wire.Writer, g Grant) error {
	w.PutString(g.ID)
	w.PutString(g.UserID)
	w.PutString(g.RoleName)
	w.PutString(g.DomainScope)
	return nil
}

func decodeGrant(r *wire.Reader) (Grant, error) {
	var g Grant
	var err error
	if g.ID, err = r.ReadString(); err != nil {
		return g, err
	}
	if g.UserID, err = r.ReadString(); err != nil {
		return g, err
	}
	if g.RoleName, err = r.ReadString(); err != nil {
		return g, err
	}
	g.DomainScope, err = r.ReadString()
	return g, err
}
