// internal/rooms/rooms.go
package rooms

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mpetrov/scrimdraft/internal/session"
)

// Rooms is the broadcast topology: one room per versus series and one per
// draft. A connection viewing a draft is a member of both. Membership is
// independent of seat assignment; spectators and captains share rooms.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]map[string]*session.Connection
}

func New() *Rooms {
	return &Rooms{rooms: make(map[string]map[string]*session.Connection)}
}

// VersusRoom names the broadcast room for a series.
func VersusRoom(seriesID uuid.UUID) string {
	return fmt.Sprintf("versus:%s", seriesID)
}

// DraftRoom names the broadcast room for a single draft.
func DraftRoom(draftID uuid.UUID) string {
	return fmt.Sprintf("draft:%s", draftID)
}

// Join adds a connection to a room, creating the room on first member.
func (r *Rooms) Join(room string, conn *session.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*session.Connection)
		r.rooms[room] = members
	}
	members[conn.ID] = conn
}

// Leave removes a connection from one room, deleting the room when empty.
func (r *Rooms) Leave(room string, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// LeaveAll removes a connection from every room it joined.
func (r *Rooms) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room, members := range r.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Broadcast fans a message out to every member of a room. Messages from one
// handler invocation are written in order per connection; there is no global
// ordering across senders.
func (r *Rooms) Broadcast(room string, msg map[string]interface{}) {
	for _, c := range r.members(room) {
		c.Write(msg)
	}
}

// BroadcastExcept sends to everyone in the room but connID.
func (r *Rooms) BroadcastExcept(room, connID string, msg map[string]interface{}) {
	for _, c := range r.members(room) {
		if c.ID != connID {
			c.Write(msg)
		}
	}
}

func (r *Rooms) members(room string) []*session.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[room]
	out := make([]*session.Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Shutdown clears all rooms.
func (r *Rooms) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]map[string]*session.Connection)
}
