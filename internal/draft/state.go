// internal/draft/state.go
package draft

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mpetrov/scrimdraft/internal/models"
)

// PickChangeStatus tracks the lifecycle of a post-completion correction.
type PickChangeStatus string

const (
	PickChangePending  PickChangeStatus = "pending"
	PickChangeApproved PickChangeStatus = "approved"
	PickChangeRejected PickChangeStatus = "rejected"
)

// PickChangeRequest is a proposed correction to a completed draft's picks.
// In competitive series it must be approved by the opposing captain.
type PickChangeRequest struct {
	RequestID   string           `json:"requestId"`
	Team        models.Team      `json:"team"`
	PickIndex   int              `json:"pickIndex"`
	OldChampion string           `json:"oldChampion"`
	NewChampion string           `json:"newChampion"`
	Status      PickChangeStatus `json:"status"`
}

// State is the live, in-memory state of one draft. It is the source of truth
// while the process runs; the persisted picks array is the durability record.
// All fields are guarded by Mu; handlers and the watchdog mutate them only
// while holding it.
type State struct {
	Mu sync.Mutex `json:"-"`

	DraftID   uuid.UUID   `json:"draftId"`
	SeriesID  uuid.UUID   `json:"seriesId"`
	FirstPick models.Team `json:"firstPick"`

	// CurrentIndex is the sequence index 0..SequenceLength; SequenceLength
	// means the draft is complete.
	CurrentIndex int `json:"currentIndex"`

	// TimerAnchor is the instant the running turn clock started, nil when no
	// clock is running (pre-start, paused, or complete).
	TimerAnchor *time.Time `json:"timerAnchor,omitempty"`

	Paused bool `json:"paused"`
	// RemainingMS is the snapshotted turn time left, set only while paused.
	RemainingMS int64 `json:"remainingMs"`

	// PauseRequestedBy / ResumeRequestedBy hold the side with a pending
	// negotiation request in competitive series, nil otherwise.
	PauseRequestedBy  *models.Team `json:"pauseRequestedBy,omitempty"`
	ResumeRequestedBy *models.Team `json:"resumeRequestedBy,omitempty"`

	// CountingDown is set while the 3 second resume countdown is in flight;
	// the countdown callback rechecks it so a cancelled countdown never
	// restarts the clock.
	CountingDown bool `json:"countingDown"`

	Ready map[models.Team]bool `json:"ready"`

	PickChanges []*PickChangeRequest `json:"pickChanges"`

	completedAt *time.Time
}

// Started reports whether the draft clock has ever run.
func (s *State) Started() bool {
	return s.TimerAnchor != nil || s.CurrentIndex > 0 || s.Paused
}

// Completed reports whether every step has been locked in.
func (s *State) Completed() bool {
	return s.CurrentIndex >= SequenceLength
}

// MarkCompleted stamps the completion time used by the store's eviction sweep.
func (s *State) MarkCompleted(now time.Time) {
	s.CurrentIndex = SequenceLength
	s.TimerAnchor = nil
	s.completedAt = &now
}

// PauseAt freezes the turn clock, snapshotting the remaining time so a later
// resume continues from the same point instead of resetting to a full turn.
func (s *State) PauseAt(now time.Time, turn time.Duration) {
	if s.TimerAnchor == nil {
		s.Paused = true
		return
	}
	elapsed := now.Sub(*s.TimerAnchor)
	remaining := turn - elapsed
	if remaining < 0 {
		remaining = 0
	}
	s.RemainingMS = remaining.Milliseconds()
	s.TimerAnchor = nil
	s.Paused = true
}

// ResumeAt restarts the clock from the snapshotted remaining time: the new
// anchor is backdated so that (now - anchor) equals the time already elapsed
// before the pause.
func (s *State) ResumeAt(now time.Time, turn time.Duration) {
	remaining := time.Duration(s.RemainingMS) * time.Millisecond
	anchor := now.Add(remaining - turn)
	s.TimerAnchor = &anchor
	s.Paused = false
	s.RemainingMS = 0
}

// PendingChangeFor returns the pending pick-change request from team, if any.
// One outstanding request per team per draft is allowed.
func (s *State) PendingChangeFor(team models.Team) *PickChangeRequest {
	for _, req := range s.PickChanges {
		if req.Team == team && req.Status == PickChangePending {
			return req
		}
	}
	return nil
}

// PickChangesCopyUnsafe returns value copies of every request for broadcast
// payloads, so marshaling on another goroutine never reads the live entries.
// The caller must hold Mu.
func (s *State) PickChangesCopyUnsafe() []PickChangeRequest {
	out := make([]PickChangeRequest, 0, len(s.PickChanges))
	for _, req := range s.PickChanges {
		out = append(out, *req)
	}
	return out
}

// FindChange looks up a request by id.
func (s *State) FindChange(requestID string) *PickChangeRequest {
	for _, req := range s.PickChanges {
		if req.RequestID == requestID {
			return req
		}
	}
	return nil
}

// StateStore lazily materializes per-draft state and evicts it once drafts
// have been complete for a while, bounding memory over long server lifetimes.
type StateStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]*State
	logger *logrus.Logger

	evictAfter time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

const (
	evictSweepInterval = time.Minute
	defaultEvictAfter  = 15 * time.Minute
)

// NewStateStore builds a store and starts its eviction sweep. Call Shutdown
// to stop the sweep and drop all state.
func NewStateStore(logger *logrus.Logger) *StateStore {
	ss := &StateStore{
		states:     make(map[uuid.UUID]*State),
		logger:     logger,
		evictAfter: defaultEvictAfter,
		stop:       make(chan struct{}),
	}
	go ss.sweepLoop()
	return ss
}

// Initialize returns the state for draftID, creating it from the persisted
// picks on first sight. Idempotent: existing state is returned unchanged, so
// in-memory progress stays authoritative even if the persisted picks were
// mutated externally in the meantime.
func (ss *StateStore) Initialize(d *models.Draft) *State {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if st, ok := ss.states[d.ID]; ok {
		return st
	}
	st := &State{
		DraftID:      d.ID,
		SeriesID:     d.SeriesID,
		FirstPick:    d.FirstPick,
		CurrentIndex: SequenceIndexFromPicks(d.Picks, d.FirstPick),
		Ready:        map[models.Team]bool{},
	}
	if d.Completed || st.Completed() {
		now := time.Now()
		st.MarkCompleted(now)
	}
	ss.states[d.ID] = st
	ss.logger.Debugf("draft state initialized for %s at index %d", d.ID, st.CurrentIndex)
	return st
}

// Get returns the state for draftID or nil if none has been materialized.
func (ss *StateStore) Get(draftID uuid.UUID) *State {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.states[draftID]
}

// ActiveDraftIDs snapshots the ids of every materialized draft. The timer
// watchdog iterates this on each tick.
func (ss *StateStore) ActiveDraftIDs() []uuid.UUID {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(ss.states))
	for id := range ss.states {
		ids = append(ids, id)
	}
	return ids
}

// Delete drops a draft's state.
func (ss *StateStore) Delete(draftID uuid.UUID) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.states, draftID)
}

// Shutdown stops the eviction sweep and clears all state.
func (ss *StateStore) Shutdown() {
	ss.stopOnce.Do(func() { close(ss.stop) })
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.states = make(map[uuid.UUID]*State)
}

func (ss *StateStore) sweepLoop() {
	ticker := time.NewTicker(evictSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ss.stop:
			return
		case <-ticker.C:
			ss.evictCompleted(time.Now())
		}
	}
}

// evictCompleted removes drafts that finished more than evictAfter ago.
// Pick-change negotiation on a completed draft keeps working until eviction;
// after that, a rejoin re-materializes state from the persisted picks.
func (ss *StateStore) evictCompleted(now time.Time) int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	evicted := 0
	for id, st := range ss.states {
		st.Mu.Lock()
		stale := st.completedAt != nil && now.Sub(*st.completedAt) > ss.evictAfter
		st.Mu.Unlock()
		if stale {
			delete(ss.states, id)
			evicted++
		}
	}
	if evicted > 0 {
		ss.logger.Debugf("evicted %d completed draft states", evicted)
	}
	return evicted
}
