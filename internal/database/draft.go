// internal/database/draft.go
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

// GetDraft fetches a single draft row by id.
func (s *Store) GetDraft(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	var d models.Draft
	var winner *string
	q := `
	SELECT id, series_id, series_index, picks, completed, winner, first_pick, blue_side_team
	FROM drafts
	WHERE id = $1
	`
	err := s.Pool.QueryRow(ctx, q, id).Scan(
		&d.ID, &d.SeriesID, &d.SeriesIndex, &d.Picks,
		&d.Completed, &winner, &d.FirstPick, &d.BlueSideTeam,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch draft %s: %w", id, err)
	}
	if winner != nil {
		w := models.Team(*winner)
		d.Winner = &w
	}
	if len(d.Picks) == 0 {
		d.Picks = models.NewPicksArray()
	}
	return &d, nil
}

// SaveDraft writes the mutable draft fields (picks, completion, winner,
// blue-side assignment) back to the row.
func (s *Store) SaveDraft(ctx context.Context, d *models.Draft) error {
	q := `
	UPDATE drafts
	SET picks = $2, completed = $3, winner = $4, blue_side_team = $5
	WHERE id = $1
	`
	var winner *string
	if d.Winner != nil {
		w := string(*d.Winner)
		winner = &w
	}
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, d.ID, d.Picks, d.Completed, winner, d.BlueSideTeam)
		return err
	})
}

func insertDraft(ctx context.Context, tx pgx.Tx, d *models.Draft) error {
	q := `
	INSERT INTO drafts (id, series_id, series_index, picks, completed, winner, first_pick, blue_side_team)
	VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)
	`
	_, err := tx.Exec(ctx, q,
		d.ID, d.SeriesID, d.SeriesIndex, d.Picks, d.Completed, string(d.FirstPick), d.BlueSideTeam,
	)
	return err
}
