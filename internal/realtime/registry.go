package realtime

import (
	"sync"

	"market-rtc/pkg/logger"
)

// Registry tracks which identities have live connections. An identity is
// online iff it has at least one admitted connection; the presence entry is
// removed entirely when its last connection goes, and that removal is what
// triggers the offline broadcast and the offline hooks (typing purge, forced
// call end).
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Conn
	identities map[string]map[string]*Conn

	onPresence []func(identity string, online bool)
	onOffline  []func(identity string)
}

func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[string]*Conn),
		identities: make(map[string]map[string]*Conn),
	}
}

// OnPresence registers a callback fired when an identity goes online or
// offline. Callbacks run outside the registry lock and must be set before
// connections are admitted.
func (r *Registry) OnPresence(fn func(identity string, online bool)) {
	r.onPresence = append(r.onPresence, fn)
}

// OnOffline registers a cleanup hook fired when an identity's last
// connection is removed.
func (r *Registry) OnOffline(fn func(identity string)) {
	r.onOffline = append(r.onOffline, fn)
}

// Admit registers a live connection. Admitting the same connection twice is
// a no-op. The first connection of an identity flips it online.
func (r *Registry) Admit(c *Conn) {
	if c == nil {
		return
	}

	r.mu.Lock()
	if _, exists := r.conns[c.ID]; exists {
		r.mu.Unlock()
		return
	}
	r.conns[c.ID] = c

	set, ok := r.identities[c.Identity]
	if !ok {
		set = make(map[string]*Conn)
		r.identities[c.Identity] = set
	}
	set[c.ID] = c
	first := len(set) == 1
	r.mu.Unlock()

	logger.Debugw("connection admitted", "conn_id", c.ID, "identity", c.Identity)

	if first {
		for _, fn := range r.onPresence {
			fn(c.Identity, true)
		}
	}
}

// Remove deletes a connection. Removing an unknown connection is a no-op:
// disconnect handlers may fire more than once. When the identity's last
// connection goes, the presence entry is deleted and the offline hooks fire.
func (r *Registry) Remove(c *Conn) {
	if c == nil {
		return
	}

	r.mu.Lock()
	if _, exists := r.conns[c.ID]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c.ID)

	last := false
	if set, ok := r.identities[c.Identity]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(r.identities, c.Identity)
			last = true
		}
	}
	r.mu.Unlock()

	c.Close()
	logger.Debugw("connection removed", "conn_id", c.ID, "identity", c.Identity)

	if last {
		for _, fn := range r.onOffline {
			fn(c.Identity)
		}
		for _, fn := range r.onPresence {
			fn(c.Identity, false)
		}
	}
}

func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities[identity]) > 0
}

// ListOnline returns every identity with at least one live connection.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.identities))
	for id := range r.identities {
		out = append(out, id)
	}
	return out
}

// OnlineSubset filters the given identities down to the online ones,
// preserving input order.
func (r *Registry) OnlineSubset(identities []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(identities))
	for _, id := range identities {
		if len(r.identities[id]) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// ConnectionCount reports the number of live connections for an identity.
func (r *Registry) ConnectionCount(identity string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities[identity])
}
