// Package registry implements the broker's active/inactive client
// tables and the reconnect-by-id reclaim rule.
package registry

import (
	"net"

	"github.com/stefan1627/pubsub-broker/internal/session"
	"github.com/stefan1627/pubsub-broker/internal/trie"
)

// Outcome describes what Accept did with a freshly handshaked connection.
type Outcome int

const (
	// Created is a brand-new session with no prior history.
	Created Outcome = iota
	// Reclaimed is a session that existed in the inactive table and has
	// now reattached its socket, preserving its subscriptions.
	Reclaimed
	// Rejected means the id was already active; the new socket must be
	// closed by the caller without ever creating a session.
	Rejected
)

// Registry partitions client sessions by connection state, keyed by the
// client's stable id.
type Registry struct {
	active   map[string]*session.Session
	inactive map[string]*session.Session
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		active:   make(map[string]*session.Session),
		inactive: make(map[string]*session.Session),
	}
}

// Accept applies the broker's reconnect rule to a newly handshaked
// connection: reject a duplicate active id, reclaim a matching inactive
// session, or create a fresh one. On Rejected, sess is nil and the
// caller must close conn itself.
func (r *Registry) Accept(id string, conn net.Conn) (sess *session.Session, outcome Outcome) {
	if _, ok := r.active[id]; ok {
		return nil, Rejected
	}

	if old, ok := r.inactive[id]; ok {
		delete(r.inactive, id)
		old.Reattach(conn)
		r.active[id] = old
		return old, Reclaimed
	}

	s := session.New(id, conn)
	r.active[id] = s
	return s, Created
}

// Disconnect moves an active session to the inactive table. Its
// subscriptions are left untouched.
func (r *Registry) Disconnect(s *session.Session) {
	delete(r.active, s.ID)
	s.Disconnect()
	r.inactive[s.ID] = s
}

// Active returns every currently-connected session, for the reactor's
// lookups by client id.
func (r *Registry) Active() map[string]*session.Session {
	return r.active
}

// ActiveCount reports the number of connected sessions.
func (r *Registry) ActiveCount() int {
	return len(r.active)
}

// DestroyAll destroys every active and inactive session, releasing
// their trie subscriptions and sockets. Called once, at broker shutdown.
func (r *Registry) DestroyAll(tr *trie.Trie) {
	for id, s := range r.active {
		s.Destroy(tr)
		delete(r.active, id)
	}
	for id, s := range r.inactive {
		s.Destroy(tr)
		delete(r.inactive, id)
	}
}
