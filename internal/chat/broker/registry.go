package broker

import (
	"sort"
	"sync"

	"github.com/wtask/chatrelay/internal/chat/protocol"
)

// Registry - live mapping from identity to connection record.
// A single mutex covers every membership operation; fan-out iterates snapshots outside of it.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// NewRegistry - builds empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// TryRegister - inserts c under its identity if the identity is free.
func (r *Registry) TryRegister(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.identity]; ok {
		return false
	}
	r.conns[c.identity] = c
	return true
}

// Admit - registers c and writes ack to it before any other goroutine can write to c.
// Returns false without writing if the identity is taken. A write error is returned
// with c left registered; the caller is responsible to release it.
func (r *Registry) Admit(c *Conn, ack protocol.Frame) (bool, error) {
	data, err := protocol.EncodeLimited(ack, c.maxFrame)
	if err != nil {
		return false, err
	}
	// fan-out snapshots may see c right after insertion, they queue on its guard
	c.mu.Lock()
	defer c.mu.Unlock()
	if !r.TryRegister(c) {
		return false, nil
	}
	return true, c.writeLocked(data)
}

// Remove - removes identity unconditionally, no-op if absent.
// Sessions use Release instead, which can't drop a record re-registered by
// another connection; Remove is for owners of the registry that act by name.
func (r *Registry) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[identity]; !ok {
		return false
	}
	delete(r.conns, identity)
	return true
}

// Release - removes c only if it is still the record registered under its identity.
func (r *Registry) Release(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[c.identity]; !ok || current != c {
		return false
	}
	delete(r.conns, c.identity)
	return true
}

// Lookup - returns record registered under identity.
func (r *Registry) Lookup(identity string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[identity]
	return c, ok
}

// Len - number of registered identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot - registered identities sorted ascending.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	users := make([]string, 0, len(r.conns))
	for identity := range r.conns {
		users = append(users, identity)
	}
	r.mu.Unlock()
	sort.Strings(users)
	return users
}

// SnapshotRecords - registered records sorted by identity.
func (r *Registry) SnapshotRecords() []*Conn {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	sort.Slice(conns, func(i, j int) bool { return conns[i].identity < conns[j].identity })
	return conns
}

// Drain - removes all records and returns them.
func (r *Registry) Drain() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]*Conn, 0, len(r.conns))
	for identity, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, identity)
	}
	return conns
}
