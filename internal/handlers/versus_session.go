// internal/handlers/versus_session.go
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mpetrov/scrimdraft/internal/auth"
	"github.com/mpetrov/scrimdraft/internal/models"
	"github.com/mpetrov/scrimdraft/internal/session"
	"github.com/mpetrov/scrimdraft/internal/store"
)

// handleVersusJoin resolves the target series by share token or id, binds the
// connection to its session, and attempts a seat reclaim when a stored token
// is presented. The caller always receives the participant snapshot and role
// availability; reclaim tokens travel only in this private reply, never in
// broadcasts.
func (s *Server) handleVersusJoin(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	var series *models.VersusSeries
	var err error
	if token := packetString(packet, "linkToken"); token != "" {
		series, err = s.Store.GetSeriesByShareToken(ctx, token)
	} else if id, ok := packetUUID(packet, "versusDraftId"); ok {
		series, err = s.Store.GetSeries(ctx, id)
	} else {
		conn.WriteError("versusJoin requires linkToken or versusDraftId")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		conn.WriteError("versus draft not found")
		return
	}
	if err != nil {
		s.Logger.Errorf("versusJoin series lookup failed: %v", err)
		conn.WriteError("internal error")
		return
	}

	// Rebinding to a different series means leaving the old one first.
	if conn.SeriesID != uuid.Nil && conn.SeriesID != series.ID {
		s.handleVersusLeave(ctx, conn)
	}

	if name := packetString(packet, "username"); name != "" {
		conn.Username = name
	}
	conn.SeriesID = series.ID

	sess := s.Registry.GetOrCreate(series.ID)
	conn.Role = models.RoleSpectator
	sess.AddConnection(conn)

	reclaimed := false
	var ownToken string
	stored := packetString(packet, "reclaimToken")
	if stored != "" {
		reclaimed, ownToken = s.tryReclaim(ctx, sess, conn, stored)
	}

	// A failed reclaim only falls back to spectator when the caller asked for
	// it; otherwise the join is undone entirely.
	if !reclaimed && stored != "" && !packetBool(packet, "defaultToSpectator") {
		sess.RemoveConnection(conn.ID)
		conn.SeriesID = uuid.Nil
		conn.Role = models.RoleSpectator
		conn.WriteError("seat reclaim failed")
		return
	}

	if !reclaimed {
		now := time.Now()
		p := &models.Participant{
			ID:         conn.ParticipantID,
			SeriesID:   series.ID,
			UserID:     conn.UserID,
			Role:       models.RoleSpectator,
			Username:   conn.Username,
			LastSeenAt: now,
		}
		if err := s.Store.UpsertParticipant(ctx, p); err != nil {
			s.Logger.Errorf("versusJoin spectator upsert failed: %v", err)
		}
	}

	you := map[string]interface{}{
		"participantId": conn.ParticipantID.String(),
		"role":          string(conn.Role),
		"username":      conn.Username,
	}
	if ownToken != "" {
		you["reclaimToken"] = ownToken
	}
	conn.Write(map[string]interface{}{
		"type":         "versusJoinResponse",
		"seriesId":     series.ID.String(),
		"series":       seriesSummary(series),
		"participants": sess.Participants(),
		"roles":        sess.RoleAvailability(),
		"reclaimed":    reclaimed,
		"you":          you,
	})

	s.broadcastParticipants(sess)
}

// tryReclaim matches a stored reclaim token against the persisted participant
// rows for the series. On success the seat is claimed, the token rotated, and
// the refreshed row persisted; the new token is returned for the private
// reply.
func (s *Server) tryReclaim(ctx context.Context, sess *session.Session, conn *session.Connection, stored string) (bool, string) {
	p, err := s.Store.FindParticipantByReclaimToken(ctx, conn.SeriesID, stored)
	if errors.Is(err, store.ErrNotFound) {
		return false, ""
	}
	if err != nil {
		s.Logger.Errorf("reclaim token lookup failed: %v", err)
		return false, ""
	}
	if !p.Role.IsCaptain() || !sess.RoleAvailable(p.Role) {
		return false, ""
	}

	conn.ParticipantID = p.ID
	conn.IdentityKey = p.ID.String()
	if p.Username != "" {
		conn.Username = p.Username
	}
	if err := sess.ClaimRole(conn.ID, p.Role); err != nil {
		return false, ""
	}

	fresh, err := auth.NewReclaimToken()
	if err != nil {
		s.Logger.Errorf("reclaim token generation failed: %v", err)
		return false, ""
	}
	now := time.Now()
	p.ReclaimToken = &fresh
	p.LastSeenAt = now
	if err := s.Store.UpsertParticipant(ctx, p); err != nil {
		s.Logger.Errorf("reclaim participant upsert failed: %v", err)
	}
	s.Logger.Infof("participant %s reclaimed seat %s in series %s", p.ID, p.Role, conn.SeriesID)
	return true, fresh
}

// handleSelectRole claims a seat. Captain claims first null out any reclaim
// token previously persisted under that role, so a stale former holder can
// never reclaim a seat someone else now occupies.
func (s *Server) handleSelectRole(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	sess, ok := s.Registry.Get(conn.SeriesID)
	if !ok {
		conn.WriteError("join the versus draft first")
		return
	}
	role := models.Role(packetString(packet, "role"))

	if err := sess.ClaimRole(conn.ID, role); err != nil {
		msg := "failed to select role"
		switch {
		case errors.Is(err, session.ErrRoleTaken):
			msg = "role already taken"
		case errors.Is(err, session.ErrInvalidRole):
			msg = "invalid role"
		}
		conn.Write(map[string]interface{}{
			"type":    "versusRoleSelectResponse",
			"success": false,
			"error":   msg,
		})
		return
	}

	var ownToken string
	now := time.Now()
	if role.IsCaptain() {
		if err := s.Store.ClearReclaimTokens(ctx, conn.SeriesID, role); err != nil {
			s.Logger.Errorf("failed to clear reclaim tokens for %s/%s: %v", conn.SeriesID, role, err)
		}
		fresh, err := auth.NewReclaimToken()
		if err != nil {
			s.Logger.Errorf("reclaim token generation failed: %v", err)
		} else {
			ownToken = fresh
		}
	}

	p := &models.Participant{
		ID:         conn.ParticipantID,
		SeriesID:   conn.SeriesID,
		UserID:     conn.UserID,
		Role:       role,
		Username:   conn.Username,
		LastSeenAt: now,
	}
	if ownToken != "" {
		p.ReclaimToken = &ownToken
	}
	if err := s.Store.UpsertParticipant(ctx, p); err != nil {
		s.Logger.Errorf("participant upsert failed: %v", err)
	}

	reply := map[string]interface{}{
		"type":    "versusRoleSelectResponse",
		"success": true,
		"participant": map[string]interface{}{
			"participantId": conn.ParticipantID.String(),
			"role":          string(role),
			"username":      conn.Username,
		},
	}
	if ownToken != "" {
		reply["reclaimToken"] = ownToken
	}
	conn.Write(reply)

	sess.Broadcast(map[string]interface{}{
		"type":          "user:role-changed",
		"participantId": conn.ParticipantID.String(),
		"username":      conn.Username,
		"role":          string(role),
	})
	s.broadcastParticipants(sess)
}

// handleUpdateRole moves an identity's presence bucket without dropping the
// connection or touching persisted reclaim tokens.
func (s *Server) handleUpdateRole(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	sess, ok := s.Registry.Get(conn.SeriesID)
	if !ok {
		conn.WriteError("join the versus draft first")
		return
	}
	newRole := models.Role(packetString(packet, "newRole"))
	if err := sess.ClaimRole(conn.ID, newRole); err != nil {
		if errors.Is(err, session.ErrRoleTaken) {
			conn.WriteError("role already taken")
		} else {
			conn.WriteError("invalid role")
		}
		return
	}

	p := &models.Participant{
		ID:         conn.ParticipantID,
		SeriesID:   conn.SeriesID,
		UserID:     conn.UserID,
		Role:       newRole,
		Username:   conn.Username,
		LastSeenAt: time.Now(),
	}
	if err := s.Store.UpsertParticipant(ctx, p); err != nil {
		s.Logger.Errorf("participant upsert failed: %v", err)
	}

	sess.Broadcast(map[string]interface{}{
		"type":          "user:role-changed",
		"participantId": conn.ParticipantID.String(),
		"username":      conn.Username,
		"role":          string(newRole),
	})
	s.broadcastParticipants(sess)
}

// handleVersusLeave deregisters the connection from its session and rooms.
// The persisted reclaim token is untouched so a later reclaim still works.
func (s *Server) handleVersusLeave(ctx context.Context, conn *session.Connection) {
	if conn.SeriesID == uuid.Nil {
		return
	}
	s.cleanupConnection(ctx, conn)
	conn.SeriesID = uuid.Nil
	conn.Role = models.RoleSpectator
}

// handleReleaseRole is an explicit relinquishment: like leave, but the
// persisted reclaim token for the held seat is nulled too.
func (s *Server) handleReleaseRole(ctx context.Context, conn *session.Connection) {
	if conn.SeriesID != uuid.Nil && conn.Role.IsCaptain() {
		if err := s.Store.ClearReclaimTokens(ctx, conn.SeriesID, conn.Role); err != nil {
			s.Logger.Errorf("failed to clear reclaim tokens on release: %v", err)
		}
	}
	s.handleVersusLeave(ctx, conn)
}

// handleChatMessage is a stateless fan-out to the series session.
func (s *Server) handleChatMessage(conn *session.Connection, packet map[string]interface{}) {
	sess, ok := s.Registry.Get(conn.SeriesID)
	if !ok {
		conn.WriteError("join the versus draft first")
		return
	}
	message := packetString(packet, "message")
	if message == "" {
		return
	}
	username := packetString(packet, "username")
	if username == "" {
		username = conn.Username
	}
	sess.Broadcast(map[string]interface{}{
		"type":      "newVersusMessage",
		"message":   message,
		"username":  username,
		"role":      string(conn.Role),
		"timestamp": time.Now().UnixMilli(),
	})
}

// seriesSummary shapes a series for client payloads, omitting share tokens.
func seriesSummary(series *models.VersusSeries) map[string]interface{} {
	drafts := make([]map[string]interface{}, 0, len(series.Drafts))
	for _, d := range series.Drafts {
		entry := map[string]interface{}{
			"id":           d.ID.String(),
			"seriesIndex":  d.SeriesIndex,
			"completed":    d.Completed,
			"firstPick":    string(d.FirstPick),
			"blueSideTeam": d.BlueSideTeam,
		}
		if d.Winner != nil {
			entry["winner"] = string(*d.Winner)
		}
		drafts = append(drafts, entry)
	}
	return map[string]interface{}{
		"id":          series.ID.String(),
		"length":      series.Length,
		"competitive": series.Competitive,
		"team1Name":   series.Team1Name,
		"team2Name":   series.Team2Name,
		"restriction": series.Restriction,
		"drafts":      drafts,
	}
}
