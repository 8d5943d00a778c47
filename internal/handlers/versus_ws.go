// internal/handlers/versus_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mpetrov/scrimdraft/internal/auth"
	"github.com/mpetrov/scrimdraft/internal/middleware"
	"github.com/mpetrov/scrimdraft/internal/session"
)

// VersusWSHandler upgrades the connection and runs the versus protocol. The
// connection is unbound until the client sends versusJoin, which resolves the
// target series by share token or id.
func (s *Server) VersusWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"versus"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			s.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "versus" {
			c.Close(BadSubprotocolError, "client must speak the versus subprotocol")
			return
		}

		// Authentication is optional: captains and spectators may be anonymous.
		var userID *uuid.UUID
		if tokenStr := extractCookieToken(r); tokenStr != "" {
			if sub, err := auth.AuthenticateJWT(tokenStr); err == nil {
				if uid, err := uuid.Parse(sub); err == nil {
					userID = &uid
				}
			}
		}

		ctx, cancel := context.WithCancel(r.Context())
		conn := &session.Connection{
			ID:            uuid.NewString(),
			UserID:        userID,
			ParticipantID: uuid.New(),
			Cancel:        cancel,
			OutChan:       make(chan map[string]interface{}, 32),
		}
		if userID != nil {
			conn.IdentityKey = userID.String()
		} else {
			// Anonymous connections are their own identity until a reclaim
			// attaches them to a persisted participant.
			conn.IdentityKey = conn.ID
		}

		// Liveness: evicting a stale connection cancels the context, which
		// tears the pumps down and runs the normal disconnect cleanup below.
		s.Monitor.Track(conn.ID, func() {
			conn.Cancel()
		})

		middleware.LogWebSocketConnect(s.Logger, remoteAddr, r.URL.Path)

		conn.Write(map[string]interface{}{
			"type":     "heartbeat:config",
			"interval": s.Monitor.Interval.Milliseconds(),
		})

		go s.writePump(ctx, c, conn)
		s.readPump(ctx, c, conn)

		s.Monitor.Untrack(conn.ID)
		s.cleanupConnection(context.Background(), conn)
		cancel()
		middleware.LogWebSocketDisconnect(s.Logger, remoteAddr, r.URL.Path, nil)
	}
}

// readPump consumes client messages until the socket closes or the context
// is cancelled.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, conn *session.Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return
			}
			if strings.Contains(err.Error(), "context canceled") {
				return
			}
			s.Logger.Warnf("versus ws read error for conn %s: %v (CloseStatus: %d)", conn.ID, err, closeStatus)
			return
		}

		if typ != websocket.MessageText {
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(msg, &packet); err != nil {
			conn.WriteError("Invalid JSON format")
			continue
		}

		s.handleVersusMessage(ctx, conn, packet)
	}
}

// writePump drains the connection outbox onto the socket and keeps the
// transport alive with periodic pings.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *session.Connection) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.Logger.Warnf("failed to marshal outgoing msg for conn %s: %v", conn.ID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.Logger.Warnf("failed to write to websocket for conn %s: %v", conn.ID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				s.Logger.Warnf("ping failed for conn %s, assuming disconnect: %v", conn.ID, err)
				return
			}
		}
	}
}

// handleVersusMessage dispatches on the packet's "type" field. Unexpected
// panics are converted into a generic error to the caller so one bad action
// never takes down the process or the session.
func (s *Server) handleVersusMessage(ctx context.Context, conn *session.Connection, packet map[string]interface{}) {
	action, _ := packet["type"].(string)

	defer func() {
		if r := recover(); r != nil {
			s.Logger.Errorf("panic handling action %q from conn %s: %v", action, conn.ID, r)
			conn.WriteError("internal error")
		}
	}()

	switch action {
	case "heartbeat":
		if s.Monitor.Beat(conn.ID) {
			conn.Write(map[string]interface{}{"type": "heartbeat:ack"})
		}
	case "versusJoin":
		s.handleVersusJoin(ctx, conn, packet)
	case "versusSelectRole":
		s.handleSelectRole(ctx, conn, packet)
	case "versusLeave":
		s.handleVersusLeave(ctx, conn)
	case "versusReleaseRole":
		s.handleReleaseRole(ctx, conn)
	case "update:role":
		s.handleUpdateRole(ctx, conn, packet)
	case "joinVersusDraft":
		s.handleJoinVersusDraft(ctx, conn, packet)
	case "captainReady":
		s.handleReady(ctx, conn, packet, true)
	case "captainUnready":
		s.handleReady(ctx, conn, packet, false)
	case "versusPick":
		s.handleVersusPick(ctx, conn, packet)
	case "lockInPick":
		s.handleLockInPick(ctx, conn, packet)
	case "requestPause":
		s.handlePauseRequest(ctx, conn, packet)
	case "requestResume":
		s.handleResumeRequest(ctx, conn, packet)
	case "approvePause":
		s.handlePauseResponse(ctx, conn, packet, true)
	case "rejectPause":
		s.handlePauseResponse(ctx, conn, packet, false)
	case "approveResume":
		s.handleResumeResponse(ctx, conn, packet, true)
	case "rejectResume":
		s.handleResumeResponse(ctx, conn, packet, false)
	case "requestPickChange":
		s.handlePickChangeRequest(ctx, conn, packet)
	case "respondPickChange":
		s.handlePickChangeResponse(ctx, conn, packet)
	case "sendVersusMessage":
		s.handleChatMessage(conn, packet)
	default:
		conn.WriteError("Unknown action type: " + action)
	}
}

// cleanupConnection runs the shared disconnect path for explicit leaves,
// socket drops, and liveness evictions. The persisted reclaim token is left
// intact so a silently dropped captain can reclaim their seat.
func (s *Server) cleanupConnection(ctx context.Context, conn *session.Connection) {
	s.Rooms.LeaveAll(conn.ID)

	sess, ok := s.Registry.Get(conn.SeriesID)
	if !ok {
		return
	}
	removed, freed := sess.RemoveConnection(conn.ID)
	if removed == nil {
		return
	}
	if freed != "" {
		s.Logger.Infof("captain seat %s freed in series %s", freed, conn.SeriesID)
	}

	// A person with several tabs is fully gone only when the last one drops.
	if sess.IdentityConnCount(conn.IdentityKey) == 0 {
		sess.Broadcast(map[string]interface{}{
			"type":          "user:disconnected",
			"participantId": conn.ParticipantID.String(),
			"username":      conn.Username,
			"role":          string(removed.Role),
		})
	}
	s.broadcastParticipants(sess)
}

// broadcastParticipants republishes the presence snapshot to the session.
func (s *Server) broadcastParticipants(sess *session.Session) {
	sess.Broadcast(map[string]interface{}{
		"type":         "versusParticipantsUpdate",
		"participants": sess.Participants(),
		"roles":        sess.RoleAvailability(),
	})
	sess.Broadcast(map[string]interface{}{
		"type":  "users:update",
		"users": sess.Participants(),
	})
}

// extractCookieToken pulls the auth token from the request cookies.
func extractCookieToken(r *http.Request) string {
	cookie, err := r.Cookie("auth_token")
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Packet field helpers. Client payloads arrive as loosely typed JSON; these
// normalize the common field shapes.

func packetString(packet map[string]interface{}, key string) string {
	v, _ := packet[key].(string)
	return v
}

func packetBool(packet map[string]interface{}, key string) bool {
	v, _ := packet[key].(bool)
	return v
}

func packetInt(packet map[string]interface{}, key string) (int, bool) {
	switch v := packet[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func packetUUID(packet map[string]interface{}, key string) (uuid.UUID, bool) {
	v, _ := packet[key].(string)
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
