// internal/database/series.go
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

// CreateSeries inserts a versus series and all of its child drafts in one
// transaction.
func (s *Store) CreateSeries(ctx context.Context, vs *models.VersusSeries) error {
	q := `
	INSERT INTO versus_series (id, share_token, length, competitive, team1_name, team2_name, restriction)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			vs.ID, vs.ShareToken, vs.Length, vs.Competitive,
			vs.Team1Name, vs.Team2Name, vs.Restriction,
		)
		if err != nil {
			return err
		}
		for _, d := range vs.Drafts {
			if err := insertDraft(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSeries fetches a series with its drafts ordered by series index.
func (s *Store) GetSeries(ctx context.Context, id uuid.UUID) (*models.VersusSeries, error) {
	return s.getSeries(ctx, `WHERE id = $1`, id)
}

// GetSeriesByShareToken resolves a share link to its series.
func (s *Store) GetSeriesByShareToken(ctx context.Context, token string) (*models.VersusSeries, error) {
	return s.getSeries(ctx, `WHERE share_token = $1`, token)
}

func (s *Store) getSeries(ctx context.Context, where string, arg interface{}) (*models.VersusSeries, error) {
	var vs models.VersusSeries
	q := `
	SELECT id, share_token, length, competitive, team1_name, team2_name, restriction
	FROM versus_series
	` + where
	err := s.Pool.QueryRow(ctx, q, arg).Scan(
		&vs.ID, &vs.ShareToken, &vs.Length, &vs.Competitive,
		&vs.Team1Name, &vs.Team2Name, &vs.Restriction,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch series: %w", err)
	}

	dq := `
	SELECT id, series_id, series_index, picks, completed, winner, first_pick, blue_side_team
	FROM drafts
	WHERE series_id = $1
	ORDER BY series_index
	`
	rows, err := s.Pool.Query(ctx, dq, vs.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch drafts for series %s: %w", vs.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var d models.Draft
		var winner *string
		if err := rows.Scan(
			&d.ID, &d.SeriesID, &d.SeriesIndex, &d.Picks,
			&d.Completed, &winner, &d.FirstPick, &d.BlueSideTeam,
		); err != nil {
			return nil, err
		}
		if winner != nil {
			w := models.Team(*winner)
			d.Winner = &w
		}
		if len(d.Picks) == 0 {
			d.Picks = models.NewPicksArray()
		}
		vs.Drafts = append(vs.Drafts, &d)
	}
	return &vs, rows.Err()
}
