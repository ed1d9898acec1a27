package replication

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/tunnelmesh/aaarepl/pkg/wire"
)

// TypeID is the 128-bit wire tag of a replicable type: the MD5 digest of the
// type name split into two big-endian halves.
type TypeID struct {
	Hi int64
	Lo int64
}

// NewTypeID derives the identifier for a type name. The same name always
// yields the same identifier, in every process.
func NewTypeID(name string) TypeID {
	sum := md5.Sum([]byte(name))
	return TypeID{
		Hi: int64(binary.BigEndian.Uint64(sum[0:8])),
		Lo: int64(binary.BigEndian.Uint64(sum[8:16])),
	}
}

// String returns the identifier as 32 hex characters.
func (id TypeID) String() string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(id.Hi))
	binary.BigEndian.PutUint64(b[8:16], uint64(id.Lo))
	return hex.EncodeToString(b[:])
}

// Codec encodes and decodes the payload of one registered type.
type Codec interface {
	// TypeName is the stable, fully-qualified name the TypeID is derived from.
	TypeName() string
	// Type is the Go type of the values handled by Encode and returned by Decode.
	Type() reflect.Type
	Encode(w *wire.Writer, v any) error
	Decode(r *wire.Reader) (any, error)
}

// funcCodec adapts a pair of typed functions to Codec.
type funcCodec[T any] struct {
	name string
	enc  func(*wire.Writer, T) error
	dec  func(*wire.Reader) (T, error)
}

// NewCodec builds a Codec for values of type T.
func NewCodec[T any](name string, enc func(*wire.Writer, T) error, dec func(*wire.Reader) (T, error)) Codec {
	return &funcCodec[T]{name: name, enc: enc, dec: dec}
}

func (c *funcCodec[T]) TypeName() string { return c.name }

func (c *funcCodec[T]) Type() reflect.Type { return reflect.TypeFor[T]() }

func (c *funcCodec[T]) Encode(w *wire.Writer, v any) error {
	tv, ok := v.(T)
	if !ok {
		return fmt.Errorf("codec %s: got %T: %w", c.name, v, ErrUnregisteredType)
	}
	return c.enc(w, tv)
}

func (c *funcCodec[T]) Decode(r *wire.Reader) (any, error) {
	v, err := c.dec(r)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Registration associates a type with its identifier and codec. It is never
// modified after Register returns.
type Registration struct {
	ID    TypeID
	Name  string
	Type  reflect.Type
	Codec Codec
}

// Registry maps replicable types to identifiers and codecs. Registration
// normally happens once at startup; lookups are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[TypeID]*Registration
	byType map[reflect.Type]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[TypeID]*Registration),
		byType: make(map[reflect.Type]*Registration),
	}
}

// Register computes the TypeID for codec.TypeName() and records both lookup
// directions. Registering the same Go type or a colliding identifier twice
// is an error.
func (r *Registry) Register(codec Codec) (Registration, error) {
	if codec == nil {
		return Registration{}, fmt.Errorf("codec cannot be nil")
	}
	name := codec.TypeName()
	if name == "" {
		return Registration{}, fmt.Errorf("codec type name cannot be empty")
	}
	typ := codec.Type()
	if typ == nil {
		return Registration{}, fmt.Errorf("codec %s has no Go type", name)
	}

	reg := &Registration{
		ID:    NewTypeID(name),
		Name:  name,
		Type:  typ,
		Codec: codec,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[reg.ID]; ok {
		return Registration{}, fmt.Errorf("%s (id %s, registered as %s): %w", name, reg.ID, existing.Name, ErrDuplicateType)
	}
	if existing, ok := r.byType[typ]; ok {
		return Registration{}, fmt.Errorf("%s (go type %s, registered as %s): %w", name, typ, existing.Name, ErrDuplicateType)
	}

	r.byID[reg.ID] = reg
	r.byType[typ] = reg
	return *reg, nil
}

// MustRegister is like Register but panics on error. Intended for startup wiring.
func (r *Registry) MustRegister(codec Codec) Registration {
	reg, err := r.Register(codec)
	if err != nil {
		panic(err)
	}
	return reg
}

// Lookup returns the registration for the runtime type of v.
func (r *Registry) Lookup(v any) (Registration, error) {
	typ := reflect.TypeOf(v)

	r.mu.RLock()
	reg, ok := r.byType[typ]
	r.mu.RUnlock()

	if !ok {
		return Registration{}, fmt.Errorf("%v: %w", typ, ErrUnregisteredType)
	}
	return *reg, nil
}

// IdentifierFor returns the TypeID of the runtime type of v.
func (r *Registry) IdentifierFor(v any) (TypeID, error) {
	reg, err := r.Lookup(v)
	if err != nil {
		return TypeID{}, err
	}
	return reg.ID, nil
}

// Resolve returns the registration for an identifier read off the wire.
func (r *Registry) Resolve(id TypeID) (Registration, error) {
	r.mu.RLock()
	reg, ok := r.byID[id]
	r.mu.RUnlock()

	if !ok {
		return Registration{}, fmt.Errorf("type id %s: %w", id, ErrUnknownType)
	}
	return *reg, nil
}

// CodecFor returns the codec registered under id.
func (r *Registry) CodecFor(id TypeID) (Codec, error) {
	reg, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	return reg.Codec, nil
}

// Registrations returns all registrations sorted by type name.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	out := make([]Registration, 0, len(r.byID))
	for _, reg := range r.byID {
		out = append(out, *reg)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
