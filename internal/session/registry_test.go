// internal/session/registry_test.go
package session

import (
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetrov/scrimdraft/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newConn(seriesID uuid.UUID) *Connection {
	id := uuid.NewString()
	return &Connection{
		ID:            id,
		SeriesID:      seriesID,
		ParticipantID: uuid.New(),
		IdentityKey:   id,
		OutChan:       make(chan map[string]interface{}, 16),
	}
}

func TestClaimRoleExclusive(t *testing.T) {
	reg := NewRegistry(testLogger())
	seriesID := uuid.New()
	sess := reg.GetOrCreate(seriesID)

	a := newConn(seriesID)
	b := newConn(seriesID)
	sess.AddConnection(a)
	sess.AddConnection(b)

	require.NoError(t, sess.ClaimRole(a.ID, models.RoleBlueCaptain))
	err := sess.ClaimRole(b.ID, models.RoleBlueCaptain)
	assert.ErrorIs(t, err, ErrRoleTaken)
	assert.False(t, sess.RoleAvailable(models.RoleBlueCaptain))
	assert.True(t, sess.RoleAvailable(models.RoleRedCaptain))
}

func TestClaimRoleRace(t *testing.T) {
	reg := NewRegistry(testLogger())
	seriesID := uuid.New()
	sess := reg.GetOrCreate(seriesID)

	const racers = 16
	conns := make([]*Connection, racers)
	for i := range conns {
		conns[i] = newConn(seriesID)
		sess.AddConnection(conns[i])
	}

	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sess.ClaimRole(conns[i].ID, models.RoleBlueCaptain)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrRoleTaken)
		}
	}
	assert.Equal(t, 1, wins, "exactly one claimant wins the seat")
	assert.False(t, sess.RoleAvailable(models.RoleBlueCaptain))
}

func TestClaimRoleSwitchFreesOldSeat(t *testing.T) {
	reg := NewRegistry(testLogger())
	seriesID := uuid.New()
	sess := reg.GetOrCreate(seriesID)

	a := newConn(seriesID)
	sess.AddConnection(a)
	require.NoError(t, sess.ClaimRole(a.ID, models.RoleBlueCaptain))
	require.NoError(t, sess.ClaimRole(a.ID, models.RoleRedCaptain))

	assert.True(t, sess.RoleAvailable(models.RoleBlueCaptain))
	assert.False(t, sess.RoleAvailable(models.RoleRedCaptain))
}

func TestSpectatorAlwaysAvailable(t *testing.T) {
	reg := NewRegistry(testLogger())
	sess := reg.GetOrCreate(uuid.New())
	assert.True(t, sess.RoleAvailable(models.RoleSpectator))

	c := newConn(sess.SeriesID)
	sess.AddConnection(c)
	require.NoError(t, sess.ClaimRole(c.ID, models.RoleSpectator))
	assert.True(t, sess.RoleAvailable(models.RoleSpectator))
}

func TestRemoveConnectionFreesSeat(t *testing.T) {
	reg := NewRegistry(testLogger())
	seriesID := uuid.New()
	sess := reg.GetOrCreate(seriesID)

	a := newConn(seriesID)
	b := newConn(seriesID)
	sess.AddConnection(a)
	sess.AddConnection(b)
	require.NoError(t, sess.ClaimRole(a.ID, models.RoleBlueCaptain))

	removed, freed := sess.RemoveConnection(a.ID)
	require.NotNil(t, removed)
	assert.Equal(t, models.RoleBlueCaptain, freed)
	assert.True(t, sess.RoleAvailable(models.RoleBlueCaptain))
}

func TestSessionAutoDeletesWhenEmpty(t *testing.T) {
	reg := NewRegistry(testLogger())
	seriesID := uuid.New()
	sess := reg.GetOrCreate(seriesID)

	a := newConn(seriesID)
	b := newConn(seriesID)
	sess.AddConnection(a)
	sess.AddConnection(b)

	sess.RemoveConnection(a.ID)
	_, ok := reg.Get(seriesID)
	assert.True(t, ok, "session survives while connections remain")

	sess.RemoveConnection(b.ID)
	_, ok = reg.Get(seriesID)
	assert.False(t, ok, "session removed after last connection drops")
}

func TestIdentityConnCount(t *testing.T) {
	reg := NewRegistry(testLogger())
	seriesID := uuid.New()
	sess := reg.GetOrCreate(seriesID)

	tab1 := newConn(seriesID)
	tab2 := newConn(seriesID)
	tab2.IdentityKey = tab1.IdentityKey
	sess.AddConnection(tab1)
	sess.AddConnection(tab2)

	assert.Equal(t, 2, sess.IdentityConnCount(tab1.IdentityKey))
	sess.RemoveConnection(tab1.ID)
	assert.Equal(t, 1, sess.IdentityConnCount(tab1.IdentityKey))
}

func TestParticipantsOmitReclaimTokens(t *testing.T) {
	reg := NewRegistry(testLogger())
	seriesID := uuid.New()
	sess := reg.GetOrCreate(seriesID)

	c := newConn(seriesID)
	c.Username = "cap"
	sess.AddConnection(c)
	require.NoError(t, sess.ClaimRole(c.ID, models.RoleBlueCaptain))

	parts := sess.Participants()
	require.Len(t, parts, 1)
	assert.Equal(t, "cap", parts[0]["username"])
	assert.Equal(t, string(models.RoleBlueCaptain), parts[0]["role"])
	_, hasToken := parts[0]["reclaimToken"]
	assert.False(t, hasToken)
}
