// internal/handlers/draft_actions.go
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mpetrov/scrimdraft/internal/cache"
	"github.com/mpetrov/scrimdraft/internal/draft"
	"github.com/mpetrov/scrimdraft/internal/models"
	"github.com/mpetrov/scrimdraft/internal/rooms"
	"github.com/mpetrov/scrimdraft/internal/session"
	"github.com/mpetrov/scrimdraft/internal/store"
)

// captainTeam resolves the side a connection is seated for, rejecting
// spectators and unseated connections.
func captainTeam(conn *session.Connection) (models.Team, bool) {
	return conn.Role.Team()
}

// draftSnapshotUnsafe shapes the full draft state for broadcast. The caller
// must hold st.Mu.
func draftSnapshotUnsafe(st *draft.State, d *models.Draft) map[string]interface{} {
	snap := map[string]interface{}{
		"draftId":      st.DraftID.String(),
		"seriesId":     st.SeriesID.String(),
		"firstPick":    string(st.FirstPick),
		"currentIndex": st.CurrentIndex,
		"paused":       st.Paused,
		"remainingMs":  st.RemainingMS,
		"countingDown": st.CountingDown,
		"completed":    st.Completed(),
		"ready": map[string]bool{
			string(models.TeamBlue): st.Ready[models.TeamBlue],
			string(models.TeamRed):  st.Ready[models.TeamRed],
		},
		"pickChanges": st.PickChangesCopyUnsafe(),
	}
	if st.TimerAnchor != nil {
		snap["timerAnchor"] = st.TimerAnchor.UnixMilli()
	} else {
		snap["timerAnchor"] = nil
	}
	if st.PauseRequestedBy != nil {
		snap["pauseRequestedBy"] = string(*st.PauseRequestedBy)
	}
	if st.ResumeRequestedBy != nil {
		snap["resumeRequestedBy"] = string(*st.ResumeRequestedBy)
	}
	if d != nil {
		snap["picks"] = d.Picks
		if d.Winner != nil {
			snap["winner"] = string(*d.Winner)
		}
	}
	return snap
}

// loadDraft fetches the persisted draft, translating not-found into a client
// error on conn when conn is non-nil.
func (s *Server) loadDraft(ctx context.Context, conn *session.Connection, draftID uuid.UUID) *models.Draft {
	d, err := s.Store.GetDraft(ctx, draftID)
	if errors.Is(err, store.ErrNotFound) {
		if conn != nil {
			conn.WriteError("draft not found")
		}
		return nil
	}
	if err != nil {
		s.Logger.Errorf("draft %s lookup failed: %v", draftID, err)
		if conn != nil {
			conn.WriteError("internal error")
		}
		return nil
	}
	return d
}

// publishAction enqueues an audit record; best effort, never blocks the draft.
func (s *Server) publishAction(ctx context.Context, st *draft.State, actionIndex int, actor, actionType string, payload map[string]interface{}) {
	rec := cache.DraftActionRecord{
		DraftID:       st.DraftID,
		SeriesID:      st.SeriesID,
		ActionIndex:   actionIndex,
		Actor:         actor,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     time.Now().UnixMilli(),
	}
	if err := s.Actions.Publish(ctx, rec); err != nil {
		s.Logger.Warnf("failed to publish draft action: %v", err)
	}
}

// handleJoinVersusDraft enters the draft-scoped broadcast room, lazily
// materializes the draft state from persisted picks, and pushes a full state
// snapshot to the joining connection only.
func (s *Server) handleJoinVersusDraft(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	draftID, ok := packetUUID(packet, "draftId")
	if !ok {
		conn.WriteError("joinVersusDraft requires draftId")
		return
	}
	d := s.loadDraft(ctx, conn, draftID)
	if d == nil {
		return
	}
	if conn.SeriesID == uuid.Nil || d.SeriesID != conn.SeriesID {
		conn.WriteError("draft does not belong to your versus session")
		return
	}

	s.Rooms.Join(rooms.VersusRoom(conn.SeriesID), conn)
	s.Rooms.Join(rooms.DraftRoom(draftID), conn)

	st := s.States.Initialize(d)
	st.Mu.Lock()
	snap := draftSnapshotUnsafe(st, d)
	st.Mu.Unlock()

	snap["type"] = "draftStateSync"
	conn.Write(snap)
}

// handleReady toggles a team's ready flag. Ready-up is only meaningful
// before the draft starts; both flags set is the sole start trigger.
func (s *Server) handleReady(ctx context.Context, conn *session.Connection, packet map[string]interface{}, ready bool) {
	team, ok := captainTeam(conn)
	if !ok {
		conn.WriteError("only captains can ready up")
		return
	}
	draftID, ok := packetUUID(packet, "draftId")
	if !ok {
		conn.WriteError("missing draftId")
		return
	}
	st := s.States.Get(draftID)
	if st == nil {
		conn.WriteError("draft state not initialized")
		return
	}
	d := s.loadDraft(ctx, conn, draftID)
	if d == nil {
		return
	}

	st.Mu.Lock()
	if st.Started() || st.Completed() {
		st.Mu.Unlock()
		conn.WriteError("draft already started")
		return
	}
	st.Ready[team] = ready
	started := st.Ready[models.TeamBlue] && st.Ready[models.TeamRed]
	if started {
		now := time.Now()
		st.CurrentIndex = 0
		st.TimerAnchor = &now
	}
	snap := draftSnapshotUnsafe(st, d)
	st.Mu.Unlock()

	room := rooms.DraftRoom(draftID)
	if started {
		snap["type"] = "draftStarted"
		s.Rooms.Broadcast(room, snap)
		s.publishAction(ctx, st, 0, string(team), "draft_started", nil)
	} else {
		snap["type"] = "readyUpdate"
		s.Rooms.Broadcast(room, snap)
	}
}

// handleVersusPick writes a champion into the current step's slot without
// advancing the sequence. The pending pick is visible to the room but not
// committed until lock-in.
func (s *Server) handleVersusPick(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	team, ok := captainTeam(conn)
	if !ok {
		conn.WriteError("only captains can pick")
		return
	}
	draftID, ok := packetUUID(packet, "draftId")
	if !ok {
		conn.WriteError("missing draftId")
		return
	}
	champion := packetString(packet, "champion")
	if champion == "" {
		conn.WriteError("missing champion")
		return
	}

	st := s.States.Get(draftID)
	if st == nil {
		conn.WriteError("draft state not initialized")
		return
	}
	d := s.loadDraft(ctx, conn, draftID)
	if d == nil {
		return
	}

	// Cross-game restriction (fearless/ironman) is a read-only check over the
	// series' earlier drafts.
	series, err := s.Store.GetSeries(ctx, st.SeriesID)
	if err == nil && series.UsedChampions(d.SeriesIndex)[champion] {
		conn.WriteError("champion unavailable under series restriction")
		return
	}

	st.Mu.Lock()
	switch {
	case st.Completed():
		st.Mu.Unlock()
		conn.WriteError("draft already completed")
		return
	case st.TimerAnchor == nil && !st.Paused:
		st.Mu.Unlock()
		conn.WriteError("draft has not started")
		return
	case st.Paused:
		st.Mu.Unlock()
		conn.WriteError("draft is paused")
		return
	}
	step := draft.StepAt(st.CurrentIndex, st.FirstPick)
	if step.Team != team {
		st.Mu.Unlock()
		conn.WriteError("not your turn")
		return
	}
	slot := draft.ArrayIndexOf(st.CurrentIndex, st.FirstPick)
	if draft.ChampionInUse(d.Picks, champion, slot) {
		st.Mu.Unlock()
		conn.WriteError("champion already picked or banned")
		return
	}
	d.Picks[slot] = champion
	seq := st.CurrentIndex
	snap := draftSnapshotUnsafe(st, d)
	st.Mu.Unlock()

	if err := s.Store.SaveDraft(ctx, d); err != nil {
		s.Logger.Errorf("failed to save draft %s: %v", draftID, err)
		conn.WriteError("failed to save pick")
		return
	}

	snap["type"] = "draftUpdate"
	s.Rooms.Broadcast(rooms.DraftRoom(draftID), snap)
	s.publishAction(ctx, st, seq, string(team), "pick_submitted", map[string]interface{}{
		"champion": champion,
		"slot":     slot,
		"stepType": string(step.Type),
	})
}

// handleLockInPick commits the current pending pick on the captain's request.
func (s *Server) handleLockInPick(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	team, ok := captainTeam(conn)
	if !ok {
		conn.WriteError("only captains can lock in")
		return
	}
	draftID, ok := packetUUID(packet, "draftId")
	if !ok {
		conn.WriteError("missing draftId")
		return
	}
	st := s.States.Get(draftID)
	if st == nil {
		conn.WriteError("draft state not initialized")
		return
	}

	st.Mu.Lock()
	if st.Completed() || st.TimerAnchor == nil {
		st.Mu.Unlock()
		conn.WriteError("draft is not running")
		return
	}
	expect := st.CurrentIndex
	step := draft.StepAt(expect, st.FirstPick)
	st.Mu.Unlock()

	if step.Team != team {
		conn.WriteError("not your turn")
		return
	}
	// A manual lock-in requires a submitted champion; the timer path locks in
	// whatever is there, empty or not.
	d := s.loadDraft(ctx, conn, draftID)
	if d == nil {
		return
	}
	if d.Picks[draft.ArrayIndexOf(expect, st.FirstPick)] == "" {
		conn.WriteError("no champion submitted for this step")
		return
	}

	s.lockInCurrentPick(ctx, draftID, expect, string(team))
}

// lockInCurrentPick is the single routine that advances the sequence index,
// shared by the manual lock-in handler and the timer watchdog. expectIndex is
// an optimistic concurrency check: the state is re-read under lock and the
// commit is skipped if another trigger advanced it first, so double-fire in
// the same tick window cannot double-advance. A missing persisted draft is a
// silent no-op.
func (s *Server) lockInCurrentPick(ctx context.Context, draftID uuid.UUID, expectIndex int, actor string) {
	st := s.States.Get(draftID)
	if st == nil {
		return
	}
	d, err := s.Store.GetDraft(ctx, draftID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.Logger.Errorf("lock-in draft %s lookup failed: %v", draftID, err)
		}
		return
	}

	now := time.Now()
	st.Mu.Lock()
	if st.Completed() || st.Paused || st.TimerAnchor == nil || st.CurrentIndex != expectIndex {
		st.Mu.Unlock()
		return
	}
	st.CurrentIndex++
	completed := st.Completed()
	if completed {
		st.MarkCompleted(now)
		d.Completed = true
	} else {
		st.TimerAnchor = &now
	}
	snap := draftSnapshotUnsafe(st, d)
	st.Mu.Unlock()

	if err := s.Store.SaveDraft(ctx, d); err != nil {
		s.Logger.Errorf("failed to persist draft %s after lock-in: %v", draftID, err)
	}

	snap["type"] = "draftUpdate"
	s.Rooms.Broadcast(rooms.DraftRoom(draftID), snap)
	s.publishAction(ctx, st, expectIndex, actor, "lock_in", map[string]interface{}{
		"completed": completed,
	})
}
