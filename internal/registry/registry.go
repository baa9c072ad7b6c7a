// Package registry tracks live connections, their identities and their room
// subscriptions. It is pure in-memory state: no method performs I/O, so every
// call is safe on the fan-out hot path.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnauthenticated   = errors.New("identity not verified")
	ErrConnectionLimit   = errors.New("connection limit reached")
	ErrUnknownConnection = errors.New("unknown connection")
)

// ConnectionID is the opaque, transport-assigned id of one live connection.
type ConnectionID string

// Sink receives outbound events for one connection. Deliver must not block;
// it returns false when the connection can no longer accept events, after
// which the registry drops and closes it (slow-consumer policy).
type Sink interface {
	Deliver(ev any) bool
	Close()
}

// Transition is invoked when an identity gains its first live connection
// (online=true) or loses its last one (online=false). It is called outside
// the registry lock.
type Transition func(identity int64, online bool)

type conn struct {
	id         ConnectionID
	identity   int64
	sink       Sink
	rooms      map[int64]struct{}
	lastActive time.Time
}

// Registry is an explicitly owned instance; construct one per process (or
// per test) and inject it, never share through package state.
type Registry struct {
	mu         sync.RWMutex
	conns      map[ConnectionID]*conn
	byIdentity map[int64]map[ConnectionID]struct{}
	byRoom     map[int64]map[ConnectionID]struct{}
	maxConns   int

	onTransition Transition
}

func New(maxConns int, onTransition Transition) *Registry {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Registry{
		conns:        make(map[ConnectionID]*conn),
		byIdentity:   make(map[int64]map[ConnectionID]struct{}),
		byRoom:       make(map[int64]map[ConnectionID]struct{}),
		maxConns:     maxConns,
		onTransition: onTransition,
	}
}

// Admit registers a verified connection and returns its id. The caller must
// have authenticated the identity before calling.
func (r *Registry) Admit(identity int64, sink Sink) (ConnectionID, error) {
	if identity <= 0 {
		return "", ErrUnauthenticated
	}
	id := ConnectionID(uuid.NewString())

	r.mu.Lock()
	if len(r.conns) >= r.maxConns {
		r.mu.Unlock()
		return "", ErrConnectionLimit
	}
	c := &conn{
		id:         id,
		identity:   identity,
		sink:       sink,
		rooms:      make(map[int64]struct{}),
		lastActive: time.Now(),
	}
	r.conns[id] = c
	set, ok := r.byIdentity[identity]
	if !ok {
		set = make(map[ConnectionID]struct{})
		r.byIdentity[identity] = set
	}
	set[id] = struct{}{}
	first := len(set) == 1
	r.mu.Unlock()

	if first && r.onTransition != nil {
		r.onTransition(identity, true)
	}
	return id, nil
}

// Subscribe attaches the connection to a room's fan-out channel. Idempotent.
// Membership authorization happens in the service layer before this call.
func (r *Registry) Subscribe(id ConnectionID, roomID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	if _, ok := c.rooms[roomID]; ok {
		return nil
	}
	c.rooms[roomID] = struct{}{}
	set, ok := r.byRoom[roomID]
	if !ok {
		set = make(map[ConnectionID]struct{})
		r.byRoom[roomID] = set
	}
	set[id] = struct{}{}
	return nil
}

// Unsubscribe detaches the connection from a room. No-op when not subscribed.
func (r *Registry) Unsubscribe(id ConnectionID, roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return
	}
	delete(c.rooms, roomID)
	r.dropFromRoom(id, roomID)
}

// UnsubscribeIdentity detaches every connection of an identity from a room
// (used when the identity leaves the room).
func (r *Registry) UnsubscribeIdentity(identity int64, roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.byIdentity[identity] {
		if c, ok := r.conns[id]; ok {
			delete(c.rooms, roomID)
		}
		r.dropFromRoom(id, roomID)
	}
}

// Remove deregisters a connection. Safe to call more than once (disconnect
// races); signals an offline transition when this was the identity's last
// live connection.
func (r *Registry) Remove(id ConnectionID) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, id)
	for roomID := range c.rooms {
		r.dropFromRoom(id, roomID)
	}
	last := false
	if set, ok := r.byIdentity[c.identity]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byIdentity, c.identity)
			last = true
		}
	}
	r.mu.Unlock()

	c.sink.Close()
	if last && r.onTransition != nil {
		r.onTransition(c.identity, false)
	}
}

// dropFromRoom must be called with r.mu held.
func (r *Registry) dropFromRoom(id ConnectionID, roomID int64) {
	set, ok := r.byRoom[roomID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.byRoom, roomID)
	}
}

// Publish delivers an event to every connection currently subscribed to the
// room, skipping connections owned by excludeIdentity (0 = none). Sinks that
// refuse delivery are dropped as slow consumers.
func (r *Registry) Publish(roomID int64, ev any, excludeIdentity int64) {
	r.mu.RLock()
	ids := r.byRoom[roomID]
	targets := make([]*conn, 0, len(ids))
	for id := range ids {
		c := r.conns[id]
		if c == nil || c.identity == excludeIdentity {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if !c.sink.Deliver(ev) {
			r.Remove(c.id)
		}
	}
}

// DeliverIdentity delivers an event to every live connection of one identity.
func (r *Registry) DeliverIdentity(identity int64, ev any) {
	r.mu.RLock()
	ids := r.byIdentity[identity]
	targets := make([]*conn, 0, len(ids))
	for id := range ids {
		if c := r.conns[id]; c != nil {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if !c.sink.Deliver(ev) {
			r.Remove(c.id)
		}
	}
}

// IdentityOf returns the identity owning a connection.
func (r *Registry) IdentityOf(id ConnectionID) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return 0, false
	}
	return c.identity, true
}

// Rooms returns the rooms the connection is currently subscribed to.
func (r *Registry) Rooms(id ConnectionID) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(c.rooms))
	for roomID := range c.rooms {
		out = append(out, roomID)
	}
	return out
}

// IsOnline reports whether the identity has at least one live connection.
func (r *Registry) IsOnline(identity int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identity]) > 0
}

// OnlineIdentities returns the set of identities with live connections.
func (r *Registry) OnlineIdentities() map[int64]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]struct{}, len(r.byIdentity))
	for id := range r.byIdentity {
		out[id] = struct{}{}
	}
	return out
}

// Touch updates the connection's last-activity timestamp.
func (r *Registry) Touch(id ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.lastActive = time.Now()
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown closes every connection. Transition callbacks are not fired; the
// process is going away.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		all = append(all, c)
	}
	r.conns = make(map[ConnectionID]*conn)
	r.byIdentity = make(map[int64]map[ConnectionID]struct{})
	r.byRoom = make(map[int64]map[ConnectionID]struct{})
	r.mu.Unlock()

	for _, c := range all {
		c.sink.Close()
	}
}
