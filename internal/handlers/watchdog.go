// internal/handlers/watchdog.go
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/mpetrov/scrimdraft/internal/draft"
)

// DefaultWatchdogTick is how often the pick timer sweep runs.
const DefaultWatchdogTick = time.Second

// Watchdog enforces the pick timer server-side: a periodic sweep over every
// materialized draft that auto-locks the current pick once the turn clock
// elapses, without depending on any client.
type Watchdog struct {
	server *Server
	tick   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWatchdog builds a watchdog. Call Run to start it and Shutdown to stop.
func NewWatchdog(server *Server) *Watchdog {
	return &Watchdog{
		server: server,
		tick:   DefaultWatchdogTick,
		stop:   make(chan struct{}),
	}
}

// Run loops until Shutdown.
func (w *Watchdog) Run() {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.Tick(time.Now())
		}
	}
}

// Shutdown stops the sweep loop.
func (w *Watchdog) Shutdown() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Tick runs one sweep. For each draft with a running clock whose turn has
// elapsed, the shared lock-in routine fires, attributed to the team on turn.
// The lock-in re-checks the sequence index before committing, so a manual
// lock-in racing the sweep cannot double-advance; drafts with missing
// persisted rows no-op silently.
func (w *Watchdog) Tick(now time.Time) {
	for _, draftID := range w.server.States.ActiveDraftIDs() {
		st := w.server.States.Get(draftID)
		if st == nil {
			continue
		}
		st.Mu.Lock()
		expired := !st.Completed() && !st.Paused &&
			st.TimerAnchor != nil && now.Sub(*st.TimerAnchor) >= w.server.PickDuration
		expect := st.CurrentIndex
		firstPick := st.FirstPick
		st.Mu.Unlock()
		if !expired {
			continue
		}
		actor := "timer:" + string(draft.StepAt(expect, firstPick).Team)
		w.server.lockInCurrentPick(context.Background(), draftID, expect, actor)
	}
}
