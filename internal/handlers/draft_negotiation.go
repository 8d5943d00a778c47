// internal/handlers/draft_negotiation.go
package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mpetrov/scrimdraft/internal/draft"
	"github.com/mpetrov/scrimdraft/internal/models"
	"github.com/mpetrov/scrimdraft/internal/rooms"
	"github.com/mpetrov/scrimdraft/internal/session"
)

// negotiationContext resolves the common inputs of every pause/resume and
// pick-change handler: the caller's side, the draft state, the persisted
// draft, and whether the series negotiates (competitive) or acts
// unilaterally (scrim).
func (s *Server) negotiationContext(ctx context.Context, conn *session.Connection, packet map[string]interface{}) (models.Team, *draft.State, *models.Draft, bool, bool) {
	team, ok := captainTeam(conn)
	if !ok {
		conn.WriteError("only captains can do that")
		return "", nil, nil, false, false
	}
	draftID, ok := packetUUID(packet, "draftId")
	if !ok {
		conn.WriteError("missing draftId")
		return "", nil, nil, false, false
	}
	st := s.States.Get(draftID)
	if st == nil {
		conn.WriteError("draft state not initialized")
		return "", nil, nil, false, false
	}
	d := s.loadDraft(ctx, conn, draftID)
	if d == nil {
		return "", nil, nil, false, false
	}
	competitive := false
	if series, err := s.Store.GetSeries(ctx, st.SeriesID); err == nil {
		competitive = series.Competitive
	} else {
		s.Logger.Errorf("series %s lookup failed: %v", st.SeriesID, err)
	}
	return team, st, d, competitive, true
}

// handlePauseRequest pauses immediately in scrim series; in competitive
// series it records a pending request the opposing captain must answer.
func (s *Server) handlePauseRequest(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	team, st, d, competitive, ok := s.negotiationContext(ctx, conn, packet)
	if !ok {
		return
	}
	room := rooms.DraftRoom(st.DraftID)

	st.Mu.Lock()
	if st.Completed() || st.TimerAnchor == nil {
		st.Mu.Unlock()
		conn.WriteError("draft is not running")
		return
	}
	if st.Paused {
		st.Mu.Unlock()
		conn.WriteError("draft already paused")
		return
	}
	if !competitive {
		st.PauseAt(time.Now(), s.PickDuration)
		snap := draftSnapshotUnsafe(st, d)
		st.Mu.Unlock()
		snap["type"] = "draftUpdate"
		s.Rooms.Broadcast(room, snap)
		s.publishAction(ctx, st, -1, string(team), "paused", nil)
		return
	}
	if st.PauseRequestedBy != nil {
		st.Mu.Unlock()
		conn.WriteError("a pause request is already pending")
		return
	}
	st.PauseRequestedBy = &team
	st.Mu.Unlock()

	s.Rooms.Broadcast(room, map[string]interface{}{
		"type":    "pauseRequested",
		"draftId": st.DraftID.String(),
		"team":    string(team),
	})
}

// handlePauseResponse applies or clears a pending competitive pause request.
// Only the non-requesting captain may answer; self-approval is an error.
func (s *Server) handlePauseResponse(ctx context.Context, conn *session.Connection, packet map[string]interface{}, approved bool) {
	team, st, d, competitive, ok := s.negotiationContext(ctx, conn, packet)
	if !ok {
		return
	}
	if !competitive {
		conn.WriteError("pause negotiation only applies to competitive series")
		return
	}
	room := rooms.DraftRoom(st.DraftID)

	st.Mu.Lock()
	if st.PauseRequestedBy == nil {
		st.Mu.Unlock()
		conn.WriteError("no pause request pending")
		return
	}
	if *st.PauseRequestedBy == team {
		st.Mu.Unlock()
		conn.WriteError("cannot respond to your own request")
		return
	}
	requester := *st.PauseRequestedBy
	st.PauseRequestedBy = nil
	if !approved {
		st.Mu.Unlock()
		s.Rooms.Broadcast(room, map[string]interface{}{
			"type":    "pauseRejected",
			"draftId": st.DraftID.String(),
			"team":    string(requester),
		})
		return
	}
	st.PauseAt(time.Now(), s.PickDuration)
	snap := draftSnapshotUnsafe(st, d)
	st.Mu.Unlock()

	snap["type"] = "draftUpdate"
	s.Rooms.Broadcast(room, snap)
	s.publishAction(ctx, st, -1, string(team), "pause_approved", nil)
}

// handleResumeRequest resumes immediately in scrim series; in competitive
// series it records a pending request.
func (s *Server) handleResumeRequest(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	team, st, d, competitive, ok := s.negotiationContext(ctx, conn, packet)
	if !ok {
		return
	}
	room := rooms.DraftRoom(st.DraftID)

	st.Mu.Lock()
	if !st.Paused {
		st.Mu.Unlock()
		conn.WriteError("draft is not paused")
		return
	}
	if !competitive {
		st.ResumeAt(time.Now(), s.PickDuration)
		snap := draftSnapshotUnsafe(st, d)
		st.Mu.Unlock()
		snap["type"] = "draftUpdate"
		s.Rooms.Broadcast(room, snap)
		s.publishAction(ctx, st, -1, string(team), "resumed", nil)
		return
	}
	if st.ResumeRequestedBy != nil {
		st.Mu.Unlock()
		conn.WriteError("a resume request is already pending")
		return
	}
	st.ResumeRequestedBy = &team
	st.Mu.Unlock()

	s.Rooms.Broadcast(room, map[string]interface{}{
		"type":    "resumeRequested",
		"draftId": st.DraftID.String(),
		"team":    string(team),
	})
}

// handleResumeResponse answers a pending competitive resume request.
// Approval does not resume immediately: a fixed countdown is broadcast, and
// the clock restarts only if the countdown is still in flight when it fires,
// so a cancelled countdown never restarts the draft.
func (s *Server) handleResumeResponse(ctx context.Context, conn *session.Connection, packet map[string]interface{}, approved bool) {
	team, st, d, competitive, ok := s.negotiationContext(ctx, conn, packet)
	if !ok {
		return
	}
	if !competitive {
		conn.WriteError("resume negotiation only applies to competitive series")
		return
	}
	room := rooms.DraftRoom(st.DraftID)

	st.Mu.Lock()
	if st.ResumeRequestedBy == nil {
		st.Mu.Unlock()
		conn.WriteError("no resume request pending")
		return
	}
	if *st.ResumeRequestedBy == team {
		st.Mu.Unlock()
		conn.WriteError("cannot respond to your own request")
		return
	}
	requester := *st.ResumeRequestedBy
	st.ResumeRequestedBy = nil
	if !approved {
		st.Mu.Unlock()
		s.Rooms.Broadcast(room, map[string]interface{}{
			"type":    "resumeRejected",
			"draftId": st.DraftID.String(),
			"team":    string(requester),
		})
		return
	}
	st.CountingDown = true
	st.Mu.Unlock()

	s.Rooms.Broadcast(room, map[string]interface{}{
		"type":    "resumeCountdownStarted",
		"draftId": st.DraftID.String(),
		"seconds": int(s.ResumeCountdown.Seconds()),
	})

	draftID := st.DraftID
	time.AfterFunc(s.ResumeCountdown, func() {
		cur := s.States.Get(draftID)
		if cur == nil {
			return
		}
		cur.Mu.Lock()
		if !cur.CountingDown || !cur.Paused {
			cur.Mu.Unlock()
			return
		}
		cur.CountingDown = false
		cur.ResumeAt(time.Now(), s.PickDuration)
		snap := draftSnapshotUnsafe(cur, d)
		cur.Mu.Unlock()

		snap["type"] = "draftUpdate"
		s.Rooms.Broadcast(room, snap)
		s.publishAction(context.Background(), cur, -1, string(team), "resume_approved", nil)
	})
}

// handlePickChangeRequest proposes a post-completion correction. Scrim series
// apply it immediately; competitive series queue it for the opposing captain,
// capped at one outstanding request per team.
func (s *Server) handlePickChangeRequest(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	team, st, d, competitive, ok := s.negotiationContext(ctx, conn, packet)
	if !ok {
		return
	}
	pickIndex, ok := packetInt(packet, "pickIndex")
	if !ok || pickIndex < 0 || pickIndex >= models.PicksArraySize {
		conn.WriteError("invalid pickIndex")
		return
	}
	newChampion := packetString(packet, "newChampion")
	if newChampion == "" {
		conn.WriteError("missing newChampion")
		return
	}
	room := rooms.DraftRoom(st.DraftID)

	st.Mu.Lock()
	if !st.Completed() {
		st.Mu.Unlock()
		conn.WriteError("pick changes are only allowed after the draft completes")
		return
	}
	if draft.ChampionInUse(d.Picks, newChampion, pickIndex) {
		st.Mu.Unlock()
		conn.WriteError("champion already picked or banned")
		return
	}
	oldChampion := d.Picks[pickIndex]

	if !competitive {
		d.Picks[pickIndex] = newChampion
		snap := draftSnapshotUnsafe(st, d)
		st.Mu.Unlock()
		if err := s.Store.SaveDraft(ctx, d); err != nil {
			s.Logger.Errorf("failed to save pick change for draft %s: %v", st.DraftID, err)
			conn.WriteError("failed to save pick change")
			return
		}
		snap["type"] = "draftUpdate"
		s.Rooms.Broadcast(room, snap)
		s.publishAction(ctx, st, pickIndex, string(team), "pick_changed", map[string]interface{}{
			"oldChampion": oldChampion,
			"newChampion": newChampion,
		})
		return
	}

	if st.PendingChangeFor(team) != nil {
		st.Mu.Unlock()
		conn.WriteError("your team already has a pending pick change request")
		return
	}
	req := &draft.PickChangeRequest{
		RequestID:   uuid.NewString(),
		Team:        team,
		PickIndex:   pickIndex,
		OldChampion: oldChampion,
		NewChampion: newChampion,
		Status:      draft.PickChangePending,
	}
	st.PickChanges = append(st.PickChanges, req)
	reqCopy := *req
	st.Mu.Unlock()

	s.Rooms.Broadcast(room, map[string]interface{}{
		"type":    "pickChangeRequested",
		"draftId": st.DraftID.String(),
		"request": reqCopy,
	})
}

// handlePickChangeResponse answers a pending pick-change request by id.
func (s *Server) handlePickChangeResponse(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	team, st, d, _, ok := s.negotiationContext(ctx, conn, packet)
	if !ok {
		return
	}
	requestID := packetString(packet, "requestId")
	approved := packetBool(packet, "approved")
	room := rooms.DraftRoom(st.DraftID)

	st.Mu.Lock()
	req := st.FindChange(requestID)
	if req == nil || req.Status != draft.PickChangePending {
		st.Mu.Unlock()
		conn.WriteError("pick change request not found")
		return
	}
	if req.Team == team {
		st.Mu.Unlock()
		conn.WriteError("cannot respond to your own request")
		return
	}
	if !approved {
		req.Status = draft.PickChangeRejected
		reqCopy := *req
		st.Mu.Unlock()
		s.Rooms.Broadcast(room, map[string]interface{}{
			"type":    "pickChangeRejected",
			"draftId": st.DraftID.String(),
			"request": reqCopy,
		})
		return
	}
	// Re-check against the current picks: another request approved since
	// submission may have taken the proposed champion in the meantime.
	if draft.ChampionInUse(d.Picks, req.NewChampion, req.PickIndex) {
		req.Status = draft.PickChangeRejected
		reqCopy := *req
		st.Mu.Unlock()
		conn.WriteError("champion already picked or banned")
		s.Rooms.Broadcast(room, map[string]interface{}{
			"type":    "pickChangeRejected",
			"draftId": st.DraftID.String(),
			"request": reqCopy,
		})
		return
	}
	req.Status = draft.PickChangeApproved
	d.Picks[req.PickIndex] = req.NewChampion
	reqCopy := *req
	snap := draftSnapshotUnsafe(st, d)
	st.Mu.Unlock()

	if err := s.Store.SaveDraft(ctx, d); err != nil {
		s.Logger.Errorf("failed to save approved pick change for draft %s: %v", st.DraftID, err)
	}
	s.Rooms.Broadcast(room, map[string]interface{}{
		"type":    "pickChangeApproved",
		"draftId": st.DraftID.String(),
		"request": reqCopy,
	})
	snap["type"] = "draftUpdate"
	s.Rooms.Broadcast(room, snap)
	s.publishAction(ctx, st, reqCopy.PickIndex, string(team), "pick_change_approved", map[string]interface{}{
		"oldChampion": reqCopy.OldChampion,
		"newChampion": reqCopy.NewChampion,
	})
}
