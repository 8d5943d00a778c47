// internal/handlers/api.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mpetrov/scrimdraft/internal/auth"
	"github.com/mpetrov/scrimdraft/internal/models"
	"github.com/mpetrov/scrimdraft/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// CreateUserHandler registers a new account and signs the caller in.
func (s *Server) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	user := &models.User{
		ID:       uuid.New(),
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
	}
	if err := s.Store.CreateUser(r.Context(), user); err != nil {
		s.Logger.Errorf("failed to create user: %v", err)
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	token, err := auth.CreateJWT(user.ID.String())
	if err != nil {
		s.Logger.Errorf("failed to create JWT: %v", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	setAuthCookie(w, token)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID.String(),
		"email":    user.Email,
		"username": user.Username,
	})
}

// LoginHandler verifies credentials and sets the auth cookie.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	user, err := s.Store.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.Logger.Errorf("login lookup failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	match, err := auth.ComparePasswordAndHash(req.Password, user.Password)
	if err != nil || !match {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.CreateJWT(user.ID.String())
	if err != nil {
		s.Logger.Errorf("failed to create JWT: %v", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	setAuthCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       user.ID.String(),
		"email":    user.Email,
		"username": user.Username,
	})
}

// CreateVersusHandler creates a series with its child drafts. Sides swap
// between games: the blue side alternates between the two named teams down
// the series.
func (s *Server) CreateVersusHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Length      int    `json:"length"`
		Competitive bool   `json:"competitive"`
		Team1Name   string `json:"team1Name"`
		Team2Name   string `json:"team2Name"`
		Restriction string `json:"restriction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	switch req.Length {
	case 1, 3, 5, 7:
	default:
		http.Error(w, "length must be 1, 3, 5 or 7", http.StatusBadRequest)
		return
	}
	switch req.Restriction {
	case "":
		req.Restriction = models.RestrictionStandard
	case models.RestrictionStandard, models.RestrictionFearless, models.RestrictionIronman:
	default:
		http.Error(w, "unknown restriction type", http.StatusBadRequest)
		return
	}

	shareToken, err := auth.NewShareToken()
	if err != nil {
		s.Logger.Errorf("share token generation failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	series := &models.VersusSeries{
		ID:          uuid.New(),
		ShareToken:  shareToken,
		Length:      req.Length,
		Competitive: req.Competitive,
		Team1Name:   req.Team1Name,
		Team2Name:   req.Team2Name,
		Restriction: req.Restriction,
	}
	for i := 0; i < req.Length; i++ {
		series.Drafts = append(series.Drafts, &models.Draft{
			ID:           uuid.New(),
			SeriesID:     series.ID,
			SeriesIndex:  i,
			Picks:        models.NewPicksArray(),
			FirstPick:    models.TeamBlue,
			BlueSideTeam: 1 + i%2,
		})
	}

	if err := s.Store.CreateSeries(r.Context(), series); err != nil {
		s.Logger.Errorf("failed to create series: %v", err)
		http.Error(w, "failed to create versus draft", http.StatusInternalServerError)
		return
	}

	resp := seriesSummary(series)
	resp["shareToken"] = series.ShareToken
	writeJSON(w, http.StatusCreated, resp)
}

// GetVersusHandler fetches a series with its drafts.
func (s *Server) GetVersusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid series id", http.StatusBadRequest)
		return
	}
	series, err := s.Store.GetSeries(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "versus draft not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Logger.Errorf("series lookup failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, seriesSummary(series))
}

// ResolveLinkHandler resolves a share link token to its series.
func (s *Server) ResolveLinkHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	series, err := s.Store.GetSeriesByShareToken(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "invalid link", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Logger.Errorf("share token lookup failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, seriesSummary(series))
}

// SetWinnerHandler records a completed game's winner.
func (s *Server) SetWinnerHandler(w http.ResponseWriter, r *http.Request) {
	draftID, err := uuid.Parse(chi.URLParam(r, "draftID"))
	if err != nil {
		http.Error(w, "invalid draft id", http.StatusBadRequest)
		return
	}
	var req struct {
		Winner models.Team `json:"winner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Winner.Valid() {
		http.Error(w, "winner must be blue or red", http.StatusBadRequest)
		return
	}

	d, err := s.Store.GetDraft(r.Context(), draftID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "draft not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Logger.Errorf("draft lookup failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !d.Completed {
		http.Error(w, "draft is not completed", http.StatusConflict)
		return
	}

	winner := req.Winner
	d.Winner = &winner
	if err := s.Store.SaveDraft(r.Context(), d); err != nil {
		s.Logger.Errorf("failed to save winner: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     d.ID.String(),
		"winner": string(winner),
	})
}

// HealthzHandler reports process liveness.
func (s *Server) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
