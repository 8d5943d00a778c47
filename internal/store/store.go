// internal/store/store.go
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mpetrov/scrimdraft/internal/models"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator for the draft coordination core.
// The pgx implementation lives in internal/database; tests substitute an
// in-memory fake. Every call is a suspension point in the handlers'
// concurrency model; in-memory registry and state mutations between calls
// are synchronous.
type Store interface {
	// Drafts.
	GetDraft(ctx context.Context, id uuid.UUID) (*models.Draft, error)
	SaveDraft(ctx context.Context, d *models.Draft) error

	// Versus series, fetched with ordered child drafts.
	CreateSeries(ctx context.Context, s *models.VersusSeries) error
	GetSeries(ctx context.Context, id uuid.UUID) (*models.VersusSeries, error)
	GetSeriesByShareToken(ctx context.Context, token string) (*models.VersusSeries, error)

	// Participants. Reclaim tokens rotate on every successful claim and are
	// nulled on explicit release or seat takeover.
	FindParticipantByReclaimToken(ctx context.Context, seriesID uuid.UUID, token string) (*models.Participant, error)
	UpsertParticipant(ctx context.Context, p *models.Participant) error
	ClearReclaimTokens(ctx context.Context, seriesID uuid.UUID, role models.Role) error

	// Accounts.
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}
