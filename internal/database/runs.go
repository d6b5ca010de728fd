package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

// SaveRun inserts or updates a pipeline run report
func (db *DB) SaveRun(ctx context.Context, r *models.RunReport) error {
	counts := r.Skipped
	if counts == nil {
		counts = map[models.SkipReason]int{}
	}
	skipped, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal skipped counts: %w", err)
	}

	var finishedAt interface{}
	if !r.FinishedAt.IsZero() {
		finishedAt = r.FinishedAt
	}
	var worst interface{}
	if r.WorstDrawdownPct != nil {
		worst = *r.WorstDrawdownPct
	}

	query := `
		INSERT INTO pipeline_runs (
			id, run_date, status, started_at, finished_at, universe_size, fetched, succeeded, failed,
			skipped, bars_rejected, rate_limit_pauses, ranked, candidates_written, portfolio_positions,
			worst_drawdown_pct, best_candidate, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			universe_size = EXCLUDED.universe_size,
			fetched = EXCLUDED.fetched,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			skipped = EXCLUDED.skipped,
			bars_rejected = EXCLUDED.bars_rejected,
			rate_limit_pauses = EXCLUDED.rate_limit_pauses,
			ranked = EXCLUDED.ranked,
			candidates_written = EXCLUDED.candidates_written,
			portfolio_positions = EXCLUDED.portfolio_positions,
			worst_drawdown_pct = EXCLUDED.worst_drawdown_pct,
			best_candidate = EXCLUDED.best_candidate,
			error = EXCLUDED.error
	`
	_, err = db.conn.ExecContext(ctx, query,
		r.ID, r.RunDate, string(r.Status), r.StartedAt, finishedAt, r.UniverseSize, r.Fetched, r.Succeeded, r.Failed,
		string(skipped), r.BarsRejected, r.RateLimitPauses, r.Ranked, r.CandidatesWritten, r.PortfolioPositions,
		worst, nullString(r.BestCandidate), nullString(r.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.ID, err)
	}
	return nil
}

// GetLatestRun returns the most recently started run
func (db *DB) GetLatestRun(ctx context.Context) (*models.RunReport, error) {
	runs, err := db.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no pipeline runs recorded: %w", ErrNotFound)
	}
	return &runs[0], nil
}

// ListRuns returns recent runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	query := `
		SELECT id, run_date, status, started_at, finished_at, universe_size, fetched, succeeded, failed,
			skipped, bars_rejected, rate_limit_pauses, ranked, candidates_written, portfolio_positions,
			worst_drawdown_pct, best_candidate, error
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunReport
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (models.RunReport, error) {
	var (
		r          models.RunReport
		status     string
		finishedAt sql.NullTime
		skipped    []byte
		worst      decimal.NullDecimal
		best       sql.NullString
		errText    sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.RunDate, &status, &r.StartedAt, &finishedAt, &r.UniverseSize, &r.Fetched, &r.Succeeded, &r.Failed,
		&skipped, &r.BarsRejected, &r.RateLimitPauses, &r.Ranked, &r.CandidatesWritten, &r.PortfolioPositions,
		&worst, &best, &errText,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return r, err
	}
	if err != nil {
		return r, fmt.Errorf("failed to scan run: %w", err)
	}

	r.Status = models.RunStatus(status)
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Time
	}
	r.Skipped = make(map[models.SkipReason]int)
	if len(skipped) > 0 {
		if err := json.Unmarshal(skipped, &r.Skipped); err != nil {
			return r, fmt.Errorf("failed to decode skipped counts: %w", err)
		}
	}
	if worst.Valid {
		w := worst.Decimal
		r.WorstDrawdownPct = &w
	}
	r.BestCandidate = best.String
	r.Error = errText.String
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
