// internal/session/registry.go
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mpetrov/scrimdraft/internal/models"
)

var (
	ErrRoleTaken   = errors.New("role already taken")
	ErrInvalidRole = errors.New("invalid role")
)

// Connection is a single socket's presence in a series session. One identity
// (user or reclaimed participant) may hold several connections at once
// (multiple tabs); they share an IdentityKey so presence events fire only
// when the last one drops.
type Connection struct {
	ID       string
	SeriesID uuid.UUID

	UserID        *uuid.UUID
	ParticipantID uuid.UUID
	Username      string
	Role          models.Role

	// IdentityKey groups multi-tab connections of the same person.
	IdentityKey string

	Cancel  context.CancelFunc
	OutChan chan map[string]interface{}
}

// Write pushes a message onto the connection's outbox without blocking.
// A full or closed outbox drops the message; the write pump or liveness
// sweep will tear the connection down soon after.
func (c *Connection) Write(msg map[string]interface{}) {
	select {
	case c.OutChan <- msg:
	default:
	}
}

// WriteError sends a named error event to this connection only.
func (c *Connection) WriteError(msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}

// Session is the ephemeral, in-memory view of who currently occupies a
// series: every live connection plus the two captain seat assignments.
// Destroyed when its last connection drops; persisted Participant rows are
// untouched by that.
type Session struct {
	SeriesID uuid.UUID

	Mu          sync.Mutex
	Connections map[string]*Connection
	// seats maps each captain role to the occupying connection id, or "" when free.
	seats map[models.Role]string

	// OnEmpty is invoked after the last connection is removed, typically to
	// drop the session from the registry.
	OnEmpty func(seriesID uuid.UUID)
}

// AddConnection registers a connection with the session as a spectator.
// Seats are taken separately via ClaimRole.
func (s *Session) AddConnection(conn *Connection) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if conn.Role == "" {
		conn.Role = models.RoleSpectator
	}
	s.Connections[conn.ID] = conn
}

// ClaimRole atomically checks seat availability and assigns it, closing the
// check-then-act window two racing claims would otherwise exploit: the check
// and the write happen under one lock hold, so exactly one claimant wins.
func (s *Session) ClaimRole(connID string, role models.Role) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	conn, ok := s.Connections[connID]
	if !ok {
		return errors.New("connection not in session")
	}
	if !role.Valid() {
		return ErrInvalidRole
	}
	if role.IsCaptain() {
		if holder := s.seats[role]; holder != "" && holder != connID {
			return ErrRoleTaken
		}
		s.seats[role] = connID
	}
	// Free any other seat this connection held.
	for seat, holder := range s.seats {
		if holder == connID && seat != role {
			s.seats[seat] = ""
		}
	}
	conn.Role = role
	return nil
}

// RoleAvailable reports whether role can currently be claimed. Spectator is
// always available.
func (s *Session) RoleAvailable(role models.Role) bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.roleAvailableUnsafe(role)
}

func (s *Session) roleAvailableUnsafe(role models.Role) bool {
	if !role.IsCaptain() {
		return true
	}
	return s.seats[role] == ""
}

// RemoveConnection deregisters a connection, freeing any captain seat it
// held. Returns the removed connection and the freed seat ("" if none).
// The persisted reclaim token is deliberately left alone so a silent
// disconnect remains reclaimable.
func (s *Session) RemoveConnection(connID string) (*Connection, models.Role) {
	s.Mu.Lock()
	conn, ok := s.Connections[connID]
	if !ok {
		s.Mu.Unlock()
		return nil, ""
	}
	delete(s.Connections, connID)
	var freed models.Role
	for seat, holder := range s.seats {
		if holder == connID {
			s.seats[seat] = ""
			freed = seat
		}
	}
	empty := len(s.Connections) == 0
	onEmpty := s.OnEmpty
	s.Mu.Unlock()

	if empty && onEmpty != nil {
		onEmpty(s.SeriesID)
	}
	return conn, freed
}

// Get returns the connection registered under connID.
func (s *Session) Get(connID string) (*Connection, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	c, ok := s.Connections[connID]
	return c, ok
}

// CaptainConn returns the connection currently seated as role, if any.
func (s *Session) CaptainConn(role models.Role) (*Connection, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	holder := s.seats[role]
	if holder == "" {
		return nil, false
	}
	c, ok := s.Connections[holder]
	return c, ok
}

// IdentityConnCount counts live connections sharing an identity key; a
// person is fully gone only when this reaches zero.
func (s *Session) IdentityConnCount(identityKey string) int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	n := 0
	for _, c := range s.Connections {
		if c.IdentityKey == identityKey {
			n++
		}
	}
	return n
}

// Participants snapshots the currently connected occupants for broadcast.
// Reclaim tokens never appear here; they travel only in private replies.
func (s *Session) Participants() []map[string]interface{} {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	out := make([]map[string]interface{}, 0, len(s.Connections))
	for _, c := range s.Connections {
		p := map[string]interface{}{
			"participantId": c.ParticipantID.String(),
			"username":      c.Username,
			"role":          string(c.Role),
		}
		if c.UserID != nil {
			p["userId"] = c.UserID.String()
		}
		out = append(out, p)
	}
	return out
}

// RoleAvailability reports claimability of both captain seats.
func (s *Session) RoleAvailability() map[string]bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return map[string]bool{
		string(models.RoleBlueCaptain): s.seats[models.RoleBlueCaptain] == "",
		string(models.RoleRedCaptain):  s.seats[models.RoleRedCaptain] == "",
	}
}

// Broadcast fans msg out to every connection in the session.
func (s *Session) Broadcast(msg map[string]interface{}) {
	s.Mu.Lock()
	conns := make([]*Connection, 0, len(s.Connections))
	for _, c := range s.Connections {
		conns = append(conns, c)
	}
	s.Mu.Unlock()
	for _, c := range conns {
		c.Write(msg)
	}
}

// Registry is the process-wide table of live series sessions. Constructed at
// startup and passed to the protocol handlers; Shutdown drops everything.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	logger   *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		logger:   logger,
	}
}

// GetOrCreate returns the session for seriesID, creating it on first join.
func (r *Registry) GetOrCreate(seriesID uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[seriesID]; ok {
		return s
	}
	s := &Session{
		SeriesID:    seriesID,
		Connections: make(map[string]*Connection),
		seats: map[models.Role]string{
			models.RoleBlueCaptain: "",
			models.RoleRedCaptain:  "",
		},
	}
	s.OnEmpty = func(id uuid.UUID) {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.sessions, id)
		r.logger.Debugf("session for series %s emptied and removed", id)
	}
	r.sessions[seriesID] = s
	return s
}

// Get returns an existing session without creating one.
func (r *Registry) Get(seriesID uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[seriesID]
	return s, ok
}

// Shutdown clears every session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[uuid.UUID]*Session)
}
