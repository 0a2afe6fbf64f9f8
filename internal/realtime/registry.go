package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/clearhaul/realtime/internal/model"
)

// Sink is the outbound half of a connection: something the dispatcher can
// push encoded frames into. The WS client implements it with a buffered
// channel so a push never blocks on socket I/O.
type Sink interface {
	// Send enqueues a frame. It must not block; implementations drop the
	// frame when the client cannot keep up.
	Send(frame []byte)
	// Close tears the transport down. Safe to call more than once.
	Close()
}

type connection struct {
	id       string
	identity model.Identity
	sink     Sink
	pref     *model.Location
}

// Registry owns every live connection and its bound identity. Other
// components reference connections by id only and resolve them here; nothing
// outside the registry holds a connection past the event that produced it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	rooms *RoomIndex
}

func NewRegistry(rooms *RoomIndex) *Registry {
	return &Registry{
		conns: make(map[string]*connection),
		rooms: rooms,
	}
}

// Register binds a verified identity to its transport and starts tracking
// the connection. The connection is implicitly joined to its user channel
// and, for admin-capable roles, to the admin channel.
func (r *Registry) Register(identity model.Identity, sink Sink) string {
	id := uuid.NewString()

	r.mu.Lock()
	r.conns[id] = &connection{id: id, identity: identity, sink: sink}
	r.mu.Unlock()

	r.rooms.Join(id, UserChannel(identity.UserID))
	if identity.Role.Admin() {
		r.rooms.Join(id, AdminChannel())
	}
	return id
}

// Unregister removes the connection from every room and discards its
// identity. Idempotent: concurrent close paths race to delete the map entry,
// and only the winner gets the rooms to announce departures for.
func (r *Registry) Unregister(connID string) []RoomKey {
	r.mu.Lock()
	_, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return r.rooms.LeaveAll(connID)
}

// Lookup resolves a connection id to its bound identity.
func (r *Registry) Lookup(connID string) (model.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return model.Identity{}, false
	}
	return c.identity, true
}

// SinkFor resolves a connection id to its outbound sink.
func (r *Registry) SinkFor(connID string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return c.sink, true
}

// SetLocationPreference records the dispatch subscription attached to the
// connection. Connection-local state; discarded with the connection.
func (r *Registry) SetLocationPreference(connID string, loc model.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.pref = &loc
	}
}

// LocationPreference returns the recorded dispatch subscription, if any.
func (r *Registry) LocationPreference(connID string) (model.Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok || c.pref == nil {
		return model.Location{}, false
	}
	return *c.pref, true
}
