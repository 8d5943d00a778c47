// internal/session/liveness.go
package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Default liveness constants. The heartbeat interval and eviction threshold
// are independent so one or two missed beats (tab backgrounding, jitter)
// never cause a false eviction, while true network death is still detected
// within one sweep of the threshold even if the transport never reports a
// close.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 30 * time.Second
	DefaultSweepInterval     = 10 * time.Second
)

type trackedConn struct {
	lastBeat time.Time
	// evict force-disconnects the connection, running the same cleanup path
	// as a normal disconnect.
	evict func()
}

// Monitor detects dead connections independently of transport-level close
// events. Connections register with an evict callback, refresh their
// lastBeat on every application-level heartbeat, and are forcibly
// disconnected by the periodic sweep once the timeout threshold passes.
type Monitor struct {
	mu    sync.Mutex
	conns map[string]*trackedConn

	Interval time.Duration
	Timeout  time.Duration
	sweep    time.Duration

	logger   *logrus.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMonitor builds a monitor and starts its sweep loop.
func NewMonitor(logger *logrus.Logger, interval, timeout, sweepEvery time.Duration) *Monitor {
	m := &Monitor{
		conns:    make(map[string]*trackedConn),
		Interval: interval,
		Timeout:  timeout,
		sweep:    sweepEvery,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Track registers a connection with lastBeat = now.
func (m *Monitor) Track(connID string, evict func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[connID] = &trackedConn{lastBeat: time.Now(), evict: evict}
}

// Beat refreshes a connection's heartbeat. Returns false for untracked
// connections (already evicted or never registered).
func (m *Monitor) Beat(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.conns[connID]
	if !ok {
		return false
	}
	tc.lastBeat = time.Now()
	return true
}

// Untrack removes a connection on normal disconnect so the sweep does not
// evict it a second time.
func (m *Monitor) Untrack(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
}

// Shutdown stops the sweep loop and drops all tracking state.
func (m *Monitor) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns = make(map[string]*trackedConn)
}

func (m *Monitor) sweepLoop() {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.SweepOnce(time.Now())
		}
	}
}

// SweepOnce evicts every connection whose last heartbeat is older than the
// timeout. Eviction callbacks run outside the monitor lock because they call
// back into the registry and handlers.
func (m *Monitor) SweepOnce(now time.Time) int {
	m.mu.Lock()
	var stale []string
	var evicts []func()
	for id, tc := range m.conns {
		if now.Sub(tc.lastBeat) > m.Timeout {
			stale = append(stale, id)
			evicts = append(evicts, tc.evict)
			delete(m.conns, id)
		}
	}
	m.mu.Unlock()

	for i, id := range stale {
		m.logger.Warnf("liveness: evicting stale connection %s", id)
		if evicts[i] != nil {
			evicts[i]()
		}
	}
	return len(stale)
}
