// internal/handlers/server.go
package handlers

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mpetrov/scrimdraft/internal/cache"
	"github.com/mpetrov/scrimdraft/internal/draft"
	"github.com/mpetrov/scrimdraft/internal/rooms"
	"github.com/mpetrov/scrimdraft/internal/session"
	"github.com/mpetrov/scrimdraft/internal/store"
)

// Default timing constants for the draft state machine.
const (
	DefaultPickDuration    = 30 * time.Second
	DefaultResumeCountdown = 3 * time.Second
)

// Server binds the session registry, draft state store, liveness monitor,
// room topology, and persistence together for the protocol handlers. All
// dependencies are injected at construction; there are no package-level
// singletons.
type Server struct {
	Store    store.Store
	Registry *session.Registry
	States   *draft.StateStore
	Monitor  *session.Monitor
	Rooms    *rooms.Rooms
	Actions  *cache.Publisher
	Logger   *logrus.Logger

	PickDuration    time.Duration
	ResumeCountdown time.Duration
}

// NewServer wires a Server with default timings.
func NewServer(st store.Store, reg *session.Registry, states *draft.StateStore, mon *session.Monitor, rms *rooms.Rooms, actions *cache.Publisher, logger *logrus.Logger) *Server {
	return &Server{
		Store:           st,
		Registry:        reg,
		States:          states,
		Monitor:         mon,
		Rooms:           rms,
		Actions:         actions,
		Logger:          logger,
		PickDuration:    DefaultPickDuration,
		ResumeCountdown: DefaultResumeCountdown,
	}
}
