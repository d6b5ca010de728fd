package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trogers1052/drawdown-screener/internal/models"
)

// ErrEmptyCandidates guards the candidates view against being wiped by a
// run that produced nothing.
var ErrEmptyCandidates = errors.New("refusing to replace candidates with an empty list")

// ReplaceCandidates writes the Top-N view for a run date
func (db *DB) ReplaceCandidates(ctx context.Context, runDate time.Time, candidates []models.RankedCandidate) error {
	if len(candidates) == 0 {
		return ErrEmptyCandidates
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ranked_candidates WHERE run_date = $1`, runDate); err != nil {
		return fmt.Errorf("failed to delete existing candidates: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ranked_candidates (run_date, rank, symbol, drawdown_pct, current_price, peak_price, days_since_peak)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candidates {
		if _, err := stmt.ExecContext(ctx,
			runDate, c.Rank, c.Symbol, c.DrawdownPct, c.CurrentPrice, c.PeakPrice, c.DaysSincePeak,
		); err != nil {
			return fmt.Errorf("failed to insert candidate %s: %w", c.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetLatestCandidates returns the candidates of the most recent run date
func (db *DB) GetLatestCandidates(ctx context.Context, limit int) ([]models.RankedCandidate, error) {
	query := `
		SELECT run_date, rank, symbol, drawdown_pct, current_price, peak_price, days_since_peak
		FROM ranked_candidates
		WHERE run_date = (SELECT MAX(run_date) FROM ranked_candidates)
		ORDER BY rank ASC
		LIMIT $1
	`
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get candidates: %w", err)
	}
	defer rows.Close()

	var out []models.RankedCandidate
	for rows.Next() {
		var c models.RankedCandidate
		if err := rows.Scan(
			&c.RunDate, &c.Rank, &c.Symbol, &c.DrawdownPct, &c.CurrentPrice, &c.PeakPrice, &c.DaysSincePeak,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return out, nil
}
