// internal/database/participant.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mpetrov/scrimdraft/internal/models"
	"github.com/mpetrov/scrimdraft/internal/store"
)

// FindParticipantByReclaimToken looks up the participant row a reclaim
// token corresponds to. Tokens are unique per series because they rotate on
// every successful claim.
func (s *Store) FindParticipantByReclaimToken(ctx context.Context, seriesID uuid.UUID, token string) (*models.Participant, error) {
	var p models.Participant
	q := `
	SELECT id, series_id, user_id, role, username, last_seen_at, reclaim_token
	FROM participants
	WHERE series_id = $1 AND reclaim_token = $2
	`
	err := s.Pool.QueryRow(ctx, q, seriesID, token).Scan(
		&p.ID, &p.SeriesID, &p.UserID, &p.Role, &p.Username, &p.LastSeenAt, &p.ReclaimToken,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up reclaim token: %w", err)
	}
	return &p, nil
}

// UpsertParticipant inserts or refreshes a participant row keyed by id.
func (s *Store) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	q := `
	INSERT INTO participants (id, series_id, user_id, role, username, last_seen_at, reclaim_token)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE
	SET role = EXCLUDED.role,
	    username = EXCLUDED.username,
	    last_seen_at = EXCLUDED.last_seen_at,
	    reclaim_token = EXCLUDED.reclaim_token
	`
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			p.ID, p.SeriesID, p.UserID, string(p.Role), p.Username, p.LastSeenAt, p.ReclaimToken,
		)
		return err
	})
}

// ClearReclaimTokens nulls every reclaim token persisted under a role for a
// series, guaranteeing a freshly claimed seat cannot be reclaimed by a stale
// previous holder.
func (s *Store) ClearReclaimTokens(ctx context.Context, seriesID uuid.UUID, role models.Role) error {
	q := `UPDATE participants SET reclaim_token = NULL WHERE series_id = $1 AND role = $2`
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, seriesID, string(role))
		return err
	})
}
