// Package replication implements the object replication protocol shared by
// cluster members: type registration, the envelope codec and stream framing.
package replication

import (
	"fmt"
	"strings"

	"github.com/tunnelmesh/aaarepl/pkg/wire"
)

// Operation is the mutation carried by an envelope.
type Operation int32

const (
	// OpWrite creates an entity on the receiving node.
	OpWrite Operation = 1

	// OpUpdate replaces an existing entity on the receiving node.
	OpUpdate Operation = 2

	// OpDelete removes an entity on the receiving node.
	OpDelete Operation = 3
)

// HeaderSize is the size of the envelope header: operation plus both TypeID halves.
const HeaderSize = 4 + 8 + 8

// String returns the lowercase operation name.
func (o Operation) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", int32(o))
	}
}

// Valid reports whether o is one of the defined operation codes.
func (o Operation) Valid() bool {
	return o == OpWrite || o == OpUpdate || o == OpDelete
}

// ParseOperation parses an operation name as printed by String.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "write", "create":
		return OpWrite, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidOperation)
	}
}

// Envelope is a decoded replication message.
type Envelope struct {
	Op     Operation
	TypeID TypeID
	Type   string // registered type name
	Object any
}

// Encode serializes obj as [op][id hi][id lo][payload].
func Encode(reg *Registry, op Operation, obj any) ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("encode: %s: %w", op, ErrInvalidOperation)
	}

	r, err := reg.Lookup(obj)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	w := wire.NewWriter(HeaderSize + 64)
	w.PutInt32(int32(op))
	w.PutInt64(r.ID.Hi)
	w.PutInt64(r.ID.Lo)
	if err := r.Codec.Encode(w, obj); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", r.Name, err)
	}
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", r.Name, err)
	}

	return w.Bytes(), nil
}

// DecodeOperation reads only the operation field, so callers can branch
// before materializing the object.
func DecodeOperation(buf []byte) (Operation, error) {
	v, err := wire.NewReader(buf).ReadInt32()
	if err != nil {
		return 0, fmt.Errorf("decode operation: %w", err)
	}
	op := Operation(v)
	if !op.Valid() {
		return 0, fmt.Errorf("decode operation: code %d: %w", v, ErrInvalidOperation)
	}
	return op, nil
}

// DecodeTypeID reads the identifier that follows the operation field.
func DecodeTypeID(buf []byte) (TypeID, error) {
	r := wire.NewReader(buf)
	if err := r.SetPos(4); err != nil {
		return TypeID{}, fmt.Errorf("decode type id: %w", err)
	}
	hi, err := r.ReadInt64()
	if err != nil {
		return TypeID{}, fmt.Errorf("decode type id: %w", err)
	}
	lo, err := r.ReadInt64()
	if err != nil {
		return TypeID{}, fmt.Errorf("decode type id: %w", err)
	}
	return TypeID{Hi: hi, Lo: lo}, nil
}

// DecodeObject resolves the type identifier and decodes the payload. buf is
// never modified, so repeated calls return equal results.
func DecodeObject(reg *Registry, buf []byte) (Registration, any, error) {
	id, err := DecodeTypeID(buf)
	if err != nil {
		return Registration{}, nil, err
	}

	r, err := reg.Resolve(id)
	if err != nil {
		return Registration{}, nil, fmt.Errorf("decode object: %w", err)
	}

	rd := wire.NewReader(buf)
	if err := rd.SetPos(HeaderSize); err != nil {
		return Registration{}, nil, fmt.Errorf("decode %s payload: %w", r.Name, err)
	}
	obj, err := r.Codec.Decode(rd)
	if err != nil {
		return Registration{}, nil, fmt.Errorf("decode %s payload: %w", r.Name, err)
	}

	return r, obj, nil
}

// Decode decodes the full envelope.
func Decode(reg *Registry, buf []byte) (*Envelope, error) {
	op, err := DecodeOperation(buf)
	if err != nil {
		return nil, err
	}

	r, obj, err := DecodeObject(reg, buf)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Op:     op,
		TypeID: r.ID,
		Type:   r.Name,
		Object: obj,
	}, nil
}
