package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tunnelmesh/aaarepl/internal/cluster"
	"github.com/tunnelmesh/aaarepl/internal/logging/audit"
	"github.com/tunnelmesh/aaarepl/internal/replication"
)

// ErrBuiltinRole is returned when a mutation targets a built-in role.
var ErrBuiltinRole = errors.New("built-in roles are immutable")

// Publisher fans a local mutation out to the cluster. *cluster.Node
// implements it.
type Publisher interface {
	Publish(op replication.Operation, obj any) (*cluster.PublishResult, error)
}

// Store is the in-memory AAA database of one node. Remote mutations arrive
// through OnReceived; local mutations go through Put and Delete, which apply
// and then publish them.
type Store struct {
	mu      sync.RWMutex
	users   map[string]User
	domains map[int32]Domain
	roles   map[string]Role
	grants  map[string]Grant

	publisher Publisher
	audit     *audit.Logger
	logger    zerolog.Logger
}

// NewStore creates a store seeded with the built-in roles.
func NewStore(auditLog *audit.Logger, logger zerolog.Logger) *Store {
	if auditLog == nil {
		auditLog = audit.Nop()
	}

	s := &Store{
		users:   make(map[string]User),
		domains: make(map[int32]Domain),
		roles:   make(map[string]Role),
		grants:  make(map[string]Grant),
		audit:   auditLog,
		logger:  logger.With().Str("component", "aaa-store").Logger(),
	}
	for _, r := range BuiltinRoles() {
		s.roles[r.Name] = r
	}
	return s
}

// SetPublisher sets where local mutations are published. The node is
// usually created after the store because it needs the store as Listener.
func (s *Store) SetPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

// OnReceived applies a mutation replicated from a peer. Remote mutations are
// never republished.
func (s *Store) OnReceived(obj any, op replication.Operation) {
	kind, id, err := Describe(obj)
	if err != nil {
		s.logger.Warn().Err(err).Str("op", op.String()).Msg("ignoring replicated object")
		return
	}

	if err := s.apply(op, obj); err != nil {
		s.audit.LogReplication("", op.String(), kind, id, audit.ResultRejected, err.Error())
		return
	}
	s.audit.LogReplication("", op.String(), kind, id, audit.ResultApplied, "")
}

// Put creates or replaces an entity and publishes it as WRITE (new) or
// UPDATE (existing).
func (s *Store) Put(obj any) error {
	obj = deref(obj)
	op := replication.OpWrite
	if s.exists(obj) {
		op = replication.OpUpdate
	}
	return s.mutate(op, obj)
}

// Delete removes an entity and publishes the deletion.
func (s *Store) Delete(obj any) error {
	return s.mutate(replication.OpDelete, deref(obj))
}

func (s *Store) mutate(op replication.Operation, obj any) error {
	kind, id, err := Describe(obj)
	if err != nil {
		return err
	}
	if err := s.apply(op, obj); err != nil {
		return fmt.Errorf("%s %s %s: %w", op, kind, id, err)
	}

	s.mu.RLock()
	p := s.publisher
	s.mu.RUnlock()
	if p == nil {
		return nil
	}

	res, err := p.Publish(op, obj)
	if err != nil {
		return fmt.Errorf("publish %s %s: %w", kind, id, err)
	}
	s.audit.LogPublish(op.String(), kind, id, res.Delivered, len(res.Failed))
	return nil
}

func (s *Store) exists(obj any) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ok bool
	switch v := obj.(type) {
	case User:
		_, ok = s.users[v.ID]
	case Domain:
		_, ok = s.domains[v.ID]
	case Role:
		_, ok = s.roles[v.Name]
	case Grant:
		_, ok = s.grants[v.ID]
	}
	return ok
}

// apply performs op on the maps. WRITE and UPDATE are both upserts so that
// replays and reordering across peers converge.
func (s *Store) apply(op replication.Operation, obj any) error {
	if !op.Valid() {
		return fmt.Errorf("%w: %d", replication.ErrInvalidOperation, int32(op))
	}
	del := op == replication.OpDelete

	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := deref(obj).(type) {
	case User:
		if v.ID == "" {
			return fmt.Errorf("user ID is required")
		}
		if del {
			delete(s.users, v.ID)
			s.removeGrantsLocked(func(g Grant) bool { return g.UserID == v.ID })
			return nil
		}
		s.users[v.ID] = v

	case Domain:
		if del {
			delete(s.domains, v.ID)
			return nil
		}
		if v.Name == "" {
			return fmt.Errorf("domain name is required")
		}
		s.domains[v.ID] = v

	case Role:
		if v.Name == "" {
			return fmt.Errorf("role name is required")
		}
		if existing, ok := s.roles[v.Name]; ok && existing.Builtin {
			return ErrBuiltinRole
		}
		if del {
			delete(s.roles, v.Name)
			s.removeGrantsLocked(func(g Grant) bool { return g.RoleName == v.Name })
			return nil
		}
		v.Builtin = false
		s.roles[v.Name] = v

	case Grant:
		if v.ID == "" {
			return fmt.Errorf("grant ID is required")
		}
		if del {
			delete(s.grants, v.ID)
			return nil
		}
		s.grants[v.ID] = v

	default:
		return fmt.Errorf("%T is not an AAA entity", obj)
	}
	return nil
}

func (s *Store) removeGrantsLocked(match func(Grant) bool) {
	for id, g := range s.grants {
		if match(g) {
			delete(s.grants, id)
		}
	}
}

// User returns a user by ID.
func (s *Store) User(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Domain returns a domain by ID.
func (s *Store) Domain(id int32) (Domain, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.domains[id]
	return d, ok
}

// DomainByName returns a domain by name.
func (s *Store) DomainByName(name string) (Domain, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.domains {
		if d.Name == name {
			return d, true
		}
	}
	return Domain{}, false
}

// Role returns a role by name.
func (s *Store) Role(name string) (Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	return r, ok
}

// Grant returns a grant by ID.
func (s *Store) Grant(id string) (Grant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	return g, ok
}

// Users returns all users sorted by ID.
func (s *Store) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Domains returns all domains sorted by ID.
func (s *Store) Domains() []Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Roles returns all roles sorted by name.
func (s *Store) Roles() []Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GrantsForUser returns all grants for a user sorted by ID.
func (s *Store) GrantsForUser(userID string) []Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Grant
	for _, g := range s.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
