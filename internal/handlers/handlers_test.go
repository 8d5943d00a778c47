// internal/handlers/handlers_test.go
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetrov/scrimdraft/internal/draft"
	"github.com/mpetrov/scrimdraft/internal/models"
	"github.com/mpetrov/scrimdraft/internal/rooms"
	"github.com/mpetrov/scrimdraft/internal/session"
	"github.com/mpetrov/scrimdraft/internal/store"
)

// fakeStore is an in-memory store.Store for handler tests.
type fakeStore struct {
	mu           sync.Mutex
	drafts       map[uuid.UUID]*models.Draft
	series       map[uuid.UUID]*models.VersusSeries
	participants map[uuid.UUID]*models.Participant
	users        map[string]*models.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		drafts:       make(map[uuid.UUID]*models.Draft),
		series:       make(map[uuid.UUID]*models.VersusSeries),
		participants: make(map[uuid.UUID]*models.Participant),
		users:        make(map[string]*models.User),
	}
}

func cloneDraft(d *models.Draft) *models.Draft {
	c := *d
	c.Picks = append([]string(nil), d.Picks...)
	return &c
}

func (f *fakeStore) GetDraft(_ context.Context, id uuid.UUID) (*models.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDraft(d), nil
}

func (f *fakeStore) SaveDraft(_ context.Context, d *models.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts[d.ID] = cloneDraft(d)
	return nil
}

func (f *fakeStore) CreateSeries(_ context.Context, s *models.VersusSeries) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[s.ID] = s
	for _, d := range s.Drafts {
		f.drafts[d.ID] = cloneDraft(d)
	}
	return nil
}

func (f *fakeStore) getSeriesLocked(s *models.VersusSeries) *models.VersusSeries {
	out := *s
	out.Drafts = nil
	for _, d := range s.Drafts {
		out.Drafts = append(out.Drafts, cloneDraft(f.drafts[d.ID]))
	}
	return &out
}

func (f *fakeStore) GetSeries(_ context.Context, id uuid.UUID) (*models.VersusSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f.getSeriesLocked(s), nil
}

func (f *fakeStore) GetSeriesByShareToken(_ context.Context, token string) (*models.VersusSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.series {
		if s.ShareToken == token {
			return f.getSeriesLocked(s), nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) FindParticipantByReclaimToken(_ context.Context, seriesID uuid.UUID, token string) (*models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.SeriesID == seriesID && p.ReclaimToken != nil && *p.ReclaimToken == token {
			c := *p
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpsertParticipant(_ context.Context, p *models.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *p
	f.participants[p.ID] = &c
	return nil
}

func (f *fakeStore) ClearReclaimTokens(_ context.Context, seriesID uuid.UUID, role models.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.SeriesID == seriesID && p.Role == role {
			p.ReclaimToken = nil
		}
	}
	return nil
}

func (f *fakeStore) CreateUser(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.Email] = u
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func setupServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	fs := newFakeStore()
	registry := session.NewRegistry(logger)
	states := draft.NewStateStore(logger)
	monitor := session.NewMonitor(logger,
		session.DefaultHeartbeatInterval,
		session.DefaultHeartbeatTimeout,
		time.Hour,
	)
	srv := NewServer(fs, registry, states, monitor, rooms.New(), nil, logger)
	t.Cleanup(func() {
		monitor.Shutdown()
		states.Shutdown()
		registry.Shutdown()
	})
	return srv, fs
}

func seedSeries(t *testing.T, fs *fakeStore, competitive bool) (*models.VersusSeries, *models.Draft) {
	t.Helper()
	series := &models.VersusSeries{
		ID:          uuid.New(),
		ShareToken:  "share-token",
		Length:      1,
		Competitive: competitive,
		Team1Name:   "Alpha",
		Team2Name:   "Omega",
		Restriction: models.RestrictionStandard,
		Drafts: []*models.Draft{{
			ID:           uuid.New(),
			SeriesIndex:  0,
			Picks:        models.NewPicksArray(),
			FirstPick:    models.TeamBlue,
			BlueSideTeam: 1,
		}},
	}
	series.Drafts[0].SeriesID = series.ID
	require.NoError(t, fs.CreateSeries(context.Background(), series))
	return series, series.Drafts[0]
}

func joinCaptain(t *testing.T, srv *Server, seriesID uuid.UUID, role models.Role) *session.Connection {
	t.Helper()
	sess := srv.Registry.GetOrCreate(seriesID)
	conn := &session.Connection{
		ID:            uuid.NewString(),
		SeriesID:      seriesID,
		ParticipantID: uuid.New(),
		Username:      string(role),
		OutChan:       make(chan map[string]interface{}, 64),
	}
	conn.IdentityKey = conn.ID
	sess.AddConnection(conn)
	require.NoError(t, sess.ClaimRole(conn.ID, role))
	return conn
}

// drainMessages empties the connection outbox, returning everything queued.
func drainMessages(conn *session.Connection) []map[string]interface{} {
	var out []map[string]interface{}
	for {
		select {
		case msg := <-conn.OutChan:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func lastErrorMessage(conn *session.Connection) string {
	var last string
	for _, msg := range drainMessages(conn) {
		if msg["type"] == "error" {
			last, _ = msg["message"].(string)
		}
	}
	return last
}

func startDraft(t *testing.T, srv *Server, blue, red *session.Connection, d *models.Draft) *draft.State {
	t.Helper()
	ctx := context.Background()
	srv.handleJoinVersusDraft(ctx, blue, map[string]interface{}{"draftId": d.ID.String()})
	srv.handleJoinVersusDraft(ctx, red, map[string]interface{}{"draftId": d.ID.String()})

	pkt := map[string]interface{}{"draftId": d.ID.String()}
	srv.handleReady(ctx, blue, pkt, true)
	srv.handleReady(ctx, red, pkt, true)

	st := srv.States.Get(d.ID)
	require.NotNil(t, st)
	st.Mu.Lock()
	defer st.Mu.Unlock()
	require.Equal(t, 0, st.CurrentIndex)
	require.NotNil(t, st.TimerAnchor)
	return st
}

func TestDraftEndToEnd(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, false)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)

	ctx := context.Background()
	byTeam := map[models.Team]*session.Connection{
		models.TeamBlue: blue,
		models.TeamRed:  red,
	}

	for i := 0; i < draft.SequenceLength; i++ {
		team := draft.StepAt(i, models.TeamBlue).Team
		conn := byTeam[team]
		champion := strconv.Itoa(i + 1)

		srv.handleVersusPick(ctx, conn, map[string]interface{}{
			"draftId":  d.ID.String(),
			"champion": champion,
		})

		// The pending pick is written without advancing the sequence.
		st.Mu.Lock()
		assert.Equal(t, i, st.CurrentIndex)
		st.Mu.Unlock()
		saved, err := fs.GetDraft(ctx, d.ID)
		require.NoError(t, err)
		slot := draft.ArrayIndexOf(i, models.TeamBlue)
		assert.Equal(t, champion, saved.Picks[slot])

		srv.handleLockInPick(ctx, conn, map[string]interface{}{"draftId": d.ID.String()})
		st.Mu.Lock()
		assert.Equal(t, i+1, st.CurrentIndex)
		st.Mu.Unlock()
	}

	st.Mu.Lock()
	assert.True(t, st.Completed())
	assert.Nil(t, st.TimerAnchor)
	st.Mu.Unlock()

	saved, err := fs.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, saved.Completed)
	for i, champ := range saved.Picks {
		assert.NotEmpty(t, champ, "slot %d", i)
	}
}

func TestVersusPickValidation(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, false)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	startDraft(t, srv, blue, red, d)
	drainMessages(red)

	ctx := context.Background()
	// Sequence index 0 is blue's ban; red is out of turn.
	srv.handleVersusPick(ctx, red, map[string]interface{}{
		"draftId":  d.ID.String(),
		"champion": "7",
	})
	assert.Equal(t, "not your turn", lastErrorMessage(red))

	// Duplicate champion is rejected.
	srv.handleVersusPick(ctx, blue, map[string]interface{}{
		"draftId":  d.ID.String(),
		"champion": "7",
	})
	srv.handleLockInPick(ctx, blue, map[string]interface{}{"draftId": d.ID.String()})
	drainMessages(red)
	srv.handleVersusPick(ctx, red, map[string]interface{}{
		"draftId":  d.ID.String(),
		"champion": "7",
	})
	assert.Equal(t, "champion already picked or banned", lastErrorMessage(red))
}

func TestLockInRequiresSubmittedChampion(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, false)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)
	drainMessages(blue)

	srv.handleLockInPick(context.Background(), blue, map[string]interface{}{"draftId": d.ID.String()})
	assert.Equal(t, "no champion submitted for this step", lastErrorMessage(blue))
	st.Mu.Lock()
	assert.Equal(t, 0, st.CurrentIndex)
	st.Mu.Unlock()
}

func TestWatchdogAutoLock(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, false)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)

	expired := time.Now().Add(-31 * time.Second)
	st.Mu.Lock()
	st.TimerAnchor = &expired
	st.Mu.Unlock()

	wd := NewWatchdog(srv)
	now := time.Now()
	wd.Tick(now)

	st.Mu.Lock()
	assert.Equal(t, 1, st.CurrentIndex, "one tick advances exactly one step")
	require.NotNil(t, st.TimerAnchor)
	assert.WithinDuration(t, now, *st.TimerAnchor, time.Second)
	st.Mu.Unlock()

	// The fresh anchor means an immediate second tick is a no-op.
	wd.Tick(time.Now())
	st.Mu.Lock()
	assert.Equal(t, 1, st.CurrentIndex)
	st.Mu.Unlock()
}

func TestWatchdogSkipsPausedDrafts(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, false)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)

	st.Mu.Lock()
	st.PauseAt(time.Now(), srv.PickDuration)
	st.Mu.Unlock()

	NewWatchdog(srv).Tick(time.Now().Add(time.Minute))
	st.Mu.Lock()
	assert.Equal(t, 0, st.CurrentIndex)
	st.Mu.Unlock()
}

func TestLockInDoubleInvocationGuard(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, false)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)

	ctx := context.Background()
	// Both a manual lock-in and a timer fire captured expectIndex 0; only the
	// first commit advances.
	srv.lockInCurrentPick(ctx, d.ID, 0, "blue")
	srv.lockInCurrentPick(ctx, d.ID, 0, "timer:blue")

	st.Mu.Lock()
	assert.Equal(t, 1, st.CurrentIndex)
	st.Mu.Unlock()
}

func TestSelectRoleInvalidatesOldReclaimToken(t *testing.T) {
	srv, fs := setupServer(t)
	series, _ := seedSeries(t, fs, false)
	ctx := context.Background()

	oldToken := "old-token"
	prev := &models.Participant{
		ID:           uuid.New(),
		SeriesID:     series.ID,
		Role:         models.RoleBlueCaptain,
		Username:     "previous",
		LastSeenAt:   time.Now(),
		ReclaimToken: &oldToken,
	}
	require.NoError(t, fs.UpsertParticipant(ctx, prev))

	sess := srv.Registry.GetOrCreate(series.ID)
	conn := &session.Connection{
		ID:            uuid.NewString(),
		SeriesID:      series.ID,
		ParticipantID: uuid.New(),
		Username:      "fresh",
		OutChan:       make(chan map[string]interface{}, 64),
	}
	conn.IdentityKey = conn.ID
	sess.AddConnection(conn)

	srv.handleSelectRole(ctx, conn, map[string]interface{}{"role": string(models.RoleBlueCaptain)})

	_, err := fs.FindParticipantByReclaimToken(ctx, series.ID, oldToken)
	assert.ErrorIs(t, err, store.ErrNotFound, "previous holder's token no longer matches")

	var reply map[string]interface{}
	for _, msg := range drainMessages(conn) {
		if msg["type"] == "versusRoleSelectResponse" {
			reply = msg
		}
	}
	require.NotNil(t, reply)
	assert.Equal(t, true, reply["success"])
	fresh, _ := reply["reclaimToken"].(string)
	require.NotEmpty(t, fresh)

	// The fresh token resolves to the new holder.
	p, err := fs.FindParticipantByReclaimToken(ctx, series.ID, fresh)
	require.NoError(t, err)
	assert.Equal(t, conn.ParticipantID, p.ID)
}

func TestReclaimRotatesToken(t *testing.T) {
	srv, fs := setupServer(t)
	series, _ := seedSeries(t, fs, false)
	ctx := context.Background()

	stored := "stored-token"
	prev := &models.Participant{
		ID:           uuid.New(),
		SeriesID:     series.ID,
		Role:         models.RoleBlueCaptain,
		Username:     "cap",
		LastSeenAt:   time.Now(),
		ReclaimToken: &stored,
	}
	require.NoError(t, fs.UpsertParticipant(ctx, prev))

	conn := &session.Connection{
		ID:      uuid.NewString(),
		OutChan: make(chan map[string]interface{}, 64),
	}
	conn.IdentityKey = conn.ID
	srv.handleVersusJoin(ctx, conn, map[string]interface{}{
		"versusDraftId": series.ID.String(),
		"reclaimToken":  stored,
	})

	var joinResp map[string]interface{}
	for _, msg := range drainMessages(conn) {
		if msg["type"] == "versusJoinResponse" {
			joinResp = msg
		}
	}
	require.NotNil(t, joinResp)
	assert.Equal(t, true, joinResp["reclaimed"])
	assert.Equal(t, models.RoleBlueCaptain, conn.Role)
	assert.Equal(t, prev.ID, conn.ParticipantID)

	you, _ := joinResp["you"].(map[string]interface{})
	require.NotNil(t, you)
	rotated, _ := you["reclaimToken"].(string)
	require.NotEmpty(t, rotated)
	require.NotEqual(t, stored, rotated)

	_, err := fs.FindParticipantByReclaimToken(ctx, series.ID, stored)
	assert.ErrorIs(t, err, store.ErrNotFound, "old token rotated out")
	p, err := fs.FindParticipantByReclaimToken(ctx, series.ID, rotated)
	require.NoError(t, err)
	assert.Equal(t, prev.ID, p.ID)
}

func TestCompetitivePauseNegotiation(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, true)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)
	drainMessages(blue)

	ctx := context.Background()
	pkt := map[string]interface{}{"draftId": d.ID.String()}

	srv.handlePauseRequest(ctx, blue, pkt)
	st.Mu.Lock()
	assert.False(t, st.Paused, "competitive pause waits for approval")
	require.NotNil(t, st.PauseRequestedBy)
	assert.Equal(t, models.TeamBlue, *st.PauseRequestedBy)
	st.Mu.Unlock()

	// Self-approval is rejected.
	srv.handlePauseResponse(ctx, blue, pkt, true)
	assert.Equal(t, "cannot respond to your own request", lastErrorMessage(blue))
	st.Mu.Lock()
	assert.False(t, st.Paused)
	st.Mu.Unlock()

	srv.handlePauseResponse(ctx, red, pkt, true)
	st.Mu.Lock()
	assert.True(t, st.Paused)
	assert.Nil(t, st.PauseRequestedBy)
	assert.Greater(t, st.RemainingMS, int64(0))
	st.Mu.Unlock()
}

func TestCompetitiveResumeCountdown(t *testing.T) {
	srv, fs := setupServer(t)
	srv.ResumeCountdown = 20 * time.Millisecond
	series, d := seedSeries(t, fs, true)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)

	ctx := context.Background()
	pkt := map[string]interface{}{"draftId": d.ID.String()}

	st.Mu.Lock()
	st.PauseAt(time.Now(), srv.PickDuration)
	st.Mu.Unlock()

	srv.handleResumeRequest(ctx, blue, pkt)
	srv.handleResumeResponse(ctx, red, pkt, true)

	st.Mu.Lock()
	assert.True(t, st.CountingDown)
	assert.True(t, st.Paused, "still paused during countdown")
	st.Mu.Unlock()

	require.Eventually(t, func() bool {
		st.Mu.Lock()
		defer st.Mu.Unlock()
		return !st.Paused && st.TimerAnchor != nil && !st.CountingDown
	}, time.Second, 5*time.Millisecond)
}

func TestRejectResumeClearsPending(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, true)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)

	ctx := context.Background()
	pkt := map[string]interface{}{"draftId": d.ID.String()}

	st.Mu.Lock()
	st.PauseAt(time.Now(), srv.PickDuration)
	st.Mu.Unlock()

	srv.handleResumeRequest(ctx, blue, pkt)
	srv.handleResumeResponse(ctx, red, pkt, false)

	st.Mu.Lock()
	assert.True(t, st.Paused)
	assert.Nil(t, st.ResumeRequestedBy)
	assert.False(t, st.CountingDown)
	st.Mu.Unlock()
}

func completeDraft(t *testing.T, srv *Server, fs *fakeStore, d *models.Draft, st *draft.State) {
	t.Helper()
	ctx := context.Background()
	saved, err := fs.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	for i := 0; i < draft.SequenceLength; i++ {
		saved.Picks[draft.ArrayIndexOf(i, saved.FirstPick)] = strconv.Itoa(i + 1)
	}
	saved.Completed = true
	require.NoError(t, fs.SaveDraft(ctx, saved))

	st.Mu.Lock()
	st.MarkCompleted(time.Now())
	st.Mu.Unlock()
}

func TestCompetitivePickChangeNegotiation(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, true)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)
	completeDraft(t, srv, fs, d, st)
	drainMessages(blue)

	ctx := context.Background()
	srv.handlePickChangeRequest(ctx, blue, map[string]interface{}{
		"draftId":     d.ID.String(),
		"pickIndex":   10,
		"newChampion": "99",
	})

	st.Mu.Lock()
	require.Len(t, st.PickChanges, 1)
	req := st.PickChanges[0]
	assert.Equal(t, draft.PickChangePending, req.Status)
	st.Mu.Unlock()

	// Only one outstanding request per team.
	srv.handlePickChangeRequest(ctx, blue, map[string]interface{}{
		"draftId":     d.ID.String(),
		"pickIndex":   11,
		"newChampion": "98",
	})
	assert.Equal(t, "your team already has a pending pick change request", lastErrorMessage(blue))

	// Self-response rejected.
	srv.handlePickChangeResponse(ctx, blue, map[string]interface{}{
		"draftId":   d.ID.String(),
		"requestId": req.RequestID,
		"approved":  true,
	})
	assert.Equal(t, "cannot respond to your own request", lastErrorMessage(blue))

	srv.handlePickChangeResponse(ctx, red, map[string]interface{}{
		"draftId":   d.ID.String(),
		"requestId": req.RequestID,
		"approved":  true,
	})

	st.Mu.Lock()
	assert.Equal(t, draft.PickChangeApproved, req.Status)
	st.Mu.Unlock()
	saved, err := fs.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "99", saved.Picks[10])
}

func TestPickChangeRequiresCompletedDraft(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, false)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	startDraft(t, srv, blue, red, d)
	drainMessages(blue)

	srv.handlePickChangeRequest(context.Background(), blue, map[string]interface{}{
		"draftId":     d.ID.String(),
		"pickIndex":   10,
		"newChampion": "99",
	})
	assert.Equal(t, "pick changes are only allowed after the draft completes", lastErrorMessage(blue))
}

func TestScrimPickChangeAppliesImmediately(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, false)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)
	completeDraft(t, srv, fs, d, st)

	srv.handlePickChangeRequest(context.Background(), blue, map[string]interface{}{
		"draftId":     d.ID.String(),
		"pickIndex":   10,
		"newChampion": "99",
	})

	saved, err := fs.GetDraft(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, "99", saved.Picks[10])
}

// Broadcast payloads must carry detached copies of pick-change requests:
// marshaling a queued message on the write pump goroutine may run concurrently
// with a later status mutation under the state lock.
func TestPickChangeBroadcastIsDetachedFromState(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, true)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)
	completeDraft(t, srv, fs, d, st)
	drainMessages(red)

	ctx := context.Background()
	srv.handlePickChangeRequest(ctx, blue, map[string]interface{}{
		"draftId":     d.ID.String(),
		"pickIndex":   10,
		"newChampion": "99",
	})

	var requested map[string]interface{}
	for _, msg := range drainMessages(red) {
		if msg["type"] == "pickChangeRequested" {
			requested = msg
		}
	}
	require.NotNil(t, requested)
	broadcastReq, ok := requested["request"].(draft.PickChangeRequest)
	require.True(t, ok, "broadcast carries a value, not a live pointer")

	st.Mu.Lock()
	require.Len(t, st.PickChanges, 1)
	requestID := st.PickChanges[0].RequestID
	st.Mu.Unlock()

	// Marshal the queued broadcast while the approval mutates the live
	// request, the way the write pump would.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_, err := json.Marshal(requested)
				assert.NoError(t, err)
			}
		}
	}()

	srv.handlePickChangeResponse(ctx, red, map[string]interface{}{
		"draftId":   d.ID.String(),
		"requestId": requestID,
		"approved":  true,
	})
	close(done)
	wg.Wait()

	st.Mu.Lock()
	assert.Equal(t, draft.PickChangeApproved, st.PickChanges[0].Status)
	st.Mu.Unlock()
	assert.Equal(t, draft.PickChangePending, broadcastReq.Status,
		"queued broadcast unaffected by the later mutation")
}

func TestJoinReclaimFailureWithoutSpectatorFallback(t *testing.T) {
	srv, fs := setupServer(t)
	series, _ := seedSeries(t, fs, false)
	ctx := context.Background()

	conn := &session.Connection{
		ID:            uuid.NewString(),
		ParticipantID: uuid.New(),
		Username:      "latecomer",
		OutChan:       make(chan map[string]interface{}, 64),
	}
	conn.IdentityKey = conn.ID
	srv.handleVersusJoin(ctx, conn, map[string]interface{}{
		"versusDraftId": series.ID.String(),
		"reclaimToken":  "no-such-token",
	})

	assert.Equal(t, uuid.Nil, conn.SeriesID, "failed reclaim leaves the connection unbound")
	var joined bool
	var errMsg string
	for _, msg := range drainMessages(conn) {
		switch msg["type"] {
		case "versusJoinResponse":
			joined = true
		case "error":
			errMsg, _ = msg["message"].(string)
		}
	}
	assert.False(t, joined)
	assert.Equal(t, "seat reclaim failed", errMsg)
	_, ok := srv.Registry.Get(series.ID)
	assert.False(t, ok, "session emptied and dropped")

	fs.mu.Lock()
	assert.Empty(t, fs.participants, "no spectator row upserted")
	fs.mu.Unlock()

	// The same join with the fallback flag lands as spectator.
	srv.handleVersusJoin(ctx, conn, map[string]interface{}{
		"versusDraftId":      series.ID.String(),
		"reclaimToken":       "no-such-token",
		"defaultToSpectator": true,
	})
	assert.Equal(t, series.ID, conn.SeriesID)
	assert.Equal(t, models.RoleSpectator, conn.Role)
	joined = false
	for _, msg := range drainMessages(conn) {
		if msg["type"] == "versusJoinResponse" {
			joined = true
		}
	}
	assert.True(t, joined)
}

func TestPickChangeApprovalRevalidatesChampion(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, true)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)
	completeDraft(t, srv, fs, d, st)

	ctx := context.Background()
	// Both teams propose the same champion for different slots; neither
	// conflicts with the picks at submission time.
	srv.handlePickChangeRequest(ctx, blue, map[string]interface{}{
		"draftId":     d.ID.String(),
		"pickIndex":   10,
		"newChampion": "99",
	})
	srv.handlePickChangeRequest(ctx, red, map[string]interface{}{
		"draftId":     d.ID.String(),
		"pickIndex":   15,
		"newChampion": "99",
	})

	st.Mu.Lock()
	require.Len(t, st.PickChanges, 2)
	blueID := st.PickChanges[0].RequestID
	redID := st.PickChanges[1].RequestID
	st.Mu.Unlock()

	srv.handlePickChangeResponse(ctx, red, map[string]interface{}{
		"draftId":   d.ID.String(),
		"requestId": blueID,
		"approved":  true,
	})
	saved, err := fs.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "99", saved.Picks[10])
	before := saved.Picks[15]
	drainMessages(blue)

	// The champion is now taken, so approving the second request rejects it.
	srv.handlePickChangeResponse(ctx, blue, map[string]interface{}{
		"draftId":   d.ID.String(),
		"requestId": redID,
		"approved":  true,
	})
	assert.Equal(t, "champion already picked or banned", lastErrorMessage(blue))

	st.Mu.Lock()
	assert.Equal(t, draft.PickChangeRejected, st.PickChanges[1].Status)
	st.Mu.Unlock()
	saved, err = fs.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, before, saved.Picks[15], "slot unchanged after rejected approval")
}

func TestUnreadyRejectedAfterStart(t *testing.T) {
	srv, fs := setupServer(t)
	series, d := seedSeries(t, fs, false)

	blue := joinCaptain(t, srv, series.ID, models.RoleBlueCaptain)
	red := joinCaptain(t, srv, series.ID, models.RoleRedCaptain)
	st := startDraft(t, srv, blue, red, d)
	drainMessages(blue)

	srv.handleReady(context.Background(), blue, map[string]interface{}{"draftId": d.ID.String()}, false)
	assert.Equal(t, "draft already started", lastErrorMessage(blue))
	st.Mu.Lock()
	assert.NotNil(t, st.TimerAnchor)
	st.Mu.Unlock()
}
