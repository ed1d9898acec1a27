package cluster

import (
	"sort"
	"sync"

	"github.com/tunnelmesh/aaarepl/internal/peer/connection"
)

// table holds the live connections of a node keyed by their symmetric link
// key. At most one connection exists per key.
type table struct {
	mu     sync.RWMutex
	conns  map[string]*connection.PeerConnection
	closed bool
}

func newTable() *table {
	return &table{conns: make(map[string]*connection.PeerConnection)}
}

// insert adds pc if its key is not present. It returns false for duplicates
// and after the table has been closed.
func (t *table) insert(pc *connection.PeerConnection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	key := pc.Key()
	if _, ok := t.conns[key]; ok {
		return false
	}
	t.conns[key] = pc
	return true
}

// remove deletes the entry for key if it still belongs to the connection
// with the given ID. A replacement under the same key is left alone.
func (t *table) remove(key, id string) *connection.PeerConnection {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, ok := t.conns[key]
	if !ok || pc.ID() != id {
		return nil
	}
	delete(t.conns, key)
	return pc
}

func (t *table) get(key string) *connection.PeerConnection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns[key]
}

// list returns a snapshot of all connections sorted by key.
func (t *table) list() []*connection.PeerConnection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*connection.PeerConnection, 0, len(t.conns))
	for _, pc := range t.conns {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (t *table) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// hasRemote reports whether any live connection reaches addr, either as its
// resolved remote end or as the address an outbound link was dialed with.
func (t *table) hasRemote(addr string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, pc := range t.conns {
		if pc.Remote() == addr || pc.Target() == addr {
			return true
		}
	}
	return false
}

// countByState returns the count of connections in the given state.
func (t *table) countByState(state connection.State) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, pc := range t.conns {
		if pc.State() == state {
			count++
		}
	}
	return count
}

// closeAll marks the table closed and closes every connection.
func (t *table) closeAll() {
	t.mu.Lock()
	t.closed = true
	conns := make([]*connection.PeerConnection, 0, len(t.conns))
	for _, pc := range t.conns {
		conns = append(conns, pc)
	}
	t.mu.Unlock()

	// Close outside the lock: observers remove entries while we wait.
	for _, pc := range conns {
		_ = pc.Close()
	}

	t.mu.Lock()
	t.conns = make(map[string]*connection.PeerConnection)
	t.mu.Unlock()
}
