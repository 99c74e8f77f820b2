// Package registry implements the connection registry:
// ownership of connection records, lookups by user/id, and room
// membership, guarded by a single mutex that is never held during I/O.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

// Registry owns every live Connection record for this process. All index
// mutation happens under mu; readers take a snapshot copy before iterating
// so sends never hold the lock, keeping send paths lock-free.
type Registry struct {
	mu sync.RWMutex

	byID   map[uuid.UUID]*model.Connection
	byUser map[uuid.UUID]map[uuid.UUID]struct{} // userID -> set of connIDs

	roomMembers map[uuid.UUID]map[uuid.UUID]struct{} // roomID -> connIDs
	connRooms   map[uuid.UUID]map[uuid.UUID]struct{} // connID -> roomIDs

	maxPerUser  int
	maxTotal    int
	zombieGrace time.Duration
}

func New(opts ...Option) *Registry {
	r := &Registry{
		byID:        make(map[uuid.UUID]*model.Connection),
		byUser:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
		roomMembers: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		connRooms:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		maxPerUser:  5,
		maxTotal:    1000,
		zombieGrace: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnforceLimit reports whether adding one more connection for userID would
// exceed either the per-user or the total cap.
func (r *Registry) EnforceLimit(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.byID) >= r.maxTotal {
		return true
	}
	if conns, ok := r.byUser[userID]; ok && len(conns) >= r.maxPerUser {
		return true
	}
	return false
}

// Register inserts a new record into the id and user indices. It panics on
// id collision since NewConnection mints random UUIDs and a collision
// indicates a caller bug.
func (r *Registry) Register(conn *model.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[conn.ID]; exists {
		panic("registry: connection id collision: " + conn.ID.String())
	}

	r.byID[conn.ID] = conn
	set, ok := r.byUser[conn.UserID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		r.byUser[conn.UserID] = set
	}
	set[conn.ID] = struct{}{}
}

// Unregister removes a record from every index. Callers must have already
// moved the record out of ACTIVE.
func (r *Registry) Unregister(conn *model.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(conn.ID, conn.UserID)
}

func (r *Registry) unregisterLocked(connID, userID uuid.UUID) {
	delete(r.byID, connID)

	if set, ok := r.byUser[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}

	if rooms, ok := r.connRooms[connID]; ok {
		for roomID := range rooms {
			if members, ok := r.roomMembers[roomID]; ok {
				delete(members, connID)
				if len(members) == 0 {
					delete(r.roomMembers, roomID)
				}
			}
		}
		delete(r.connRooms, connID)
	}
}

// ByID returns the connection for id, if registered.
func (r *Registry) ByID(id uuid.UUID) (*model.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Find locates a connection for a given user for which matches returns
// true (for example, one whose Socket is a given transport handle), for
// callers that hold the transport rather than the assigned connection id.
func (r *Registry) Find(userID uuid.UUID, matches func(*model.Connection) bool) (*model.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID := range r.byUser[userID] {
		c := r.byID[connID]
		if c != nil && matches(c) {
			return c, true
		}
	}
	return nil, false
}

// UserConnections returns a snapshot slice of every connection owned by
// userID.
func (r *Registry) UserConnections(userID uuid.UUID) []*model.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]*model.Connection, 0, len(set))
	for id := range set {
		if c := r.byID[id]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// SnapshotAll returns a consistent copy of every registered connection,
// suitable for fan-out without holding the registry lock during sends.
func (r *Registry) SnapshotAll() []*model.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Connection, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// IsUserConnected reports whether userID has at least one live connection
// on this node — used by the cross-node broadcaster relay (C9 extension)
// to decide local ownership.
func (r *Registry) IsUserConnected(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// JoinRoom adds connID to roomID's membership and records the inverse
// mapping, keeping the Room Index invariant consistent.
func (r *Registry) JoinRoom(roomID, connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.roomMembers[roomID]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		r.roomMembers[roomID] = members
	}
	members[connID] = struct{}{}

	rooms, ok := r.connRooms[connID]
	if !ok {
		rooms = make(map[uuid.UUID]struct{})
		r.connRooms[connID] = rooms
	}
	rooms[roomID] = struct{}{}
}

// LeaveRoom revokes connID's membership in roomID.
func (r *Registry) LeaveRoom(roomID, connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.roomMembers[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.roomMembers, roomID)
		}
	}
	if rooms, ok := r.connRooms[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.connRooms, connID)
		}
	}
}

// RoomConnections returns a snapshot of connections registered under
// roomID. Connection ids present in the room index but missing from byID
// are reported back so the caller can schedule membership cleanup.
func (r *Registry) RoomConnections(roomID uuid.UUID) (found []*model.Connection, missing []uuid.UUID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID := range r.roomMembers[roomID] {
		if c, ok := r.byID[connID]; ok {
			found = append(found, c)
		} else {
			missing = append(missing, connID)
		}
	}
	return found, missing
}

// SweepGhosts removes every record that is cleanup-eligible (FAILED,
// CLOSED, a ZOMBIE past the registry's zombie grace, or matching the
// ghost predicate: stuck in CLOSING for more than 60 seconds).
func (r *Registry) SweepGhosts() []*model.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []*model.Connection
	for id, c := range r.byID {
		if c.IsCleanupEligible(r.zombieGrace) {
			reaped = append(reaped, c)
			r.unregisterLocked(id, c.UserID)
		}
	}
	return reaped
}

// Stats reports point-in-time index sizes for telemetry (C13).
type Stats struct {
	TotalConnections int
	TotalUsers       int
	TotalRooms       int
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		TotalConnections: len(r.byID),
		TotalUsers:       len(r.byUser),
		TotalRooms:       len(r.roomMembers),
	}
}
