package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trogers1052/drawdown-screener/internal/models"
)

const snapshotColumns = `run_date, symbol, rank, current_price, peak_price, peak_date, drawdown_pct,
	days_since_peak, bars_since_peak, observation_count, first_date, last_date, volume, computed_at`

// ReplaceSnapshots writes the full ranked snapshot list for a run date,
// replacing any earlier write for the same date. Other dates are history
// and stay untouched.
func (db *DB) ReplaceSnapshots(ctx context.Context, runDate time.Time, snapshots []models.DrawdownSnapshot) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM drawdown_snapshots WHERE run_date = $1`, runDate); err != nil {
		return fmt.Errorf("failed to delete existing snapshots: %w", err)
	}

	if len(snapshots) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO drawdown_snapshots (`+snapshotColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, s := range snapshots {
			if _, err := stmt.ExecContext(ctx,
				runDate, s.Symbol, s.Rank, s.CurrentPrice, s.PeakPrice, s.PeakDate, s.DrawdownPct,
				s.DaysSincePeak, s.BarsSincePeak, s.ObservationCount, s.FirstDate, s.LastDate, s.Volume, s.ComputedAt,
			); err != nil {
				return fmt.Errorf("failed to insert snapshot for %s: %w", s.Symbol, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSnapshots returns the ranked snapshots of the latest run date, up to limit rows
func (db *DB) GetSnapshots(ctx context.Context, limit int) ([]models.DrawdownSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM drawdown_snapshots
		WHERE run_date = (SELECT MAX(run_date) FROM drawdown_snapshots)
		ORDER BY rank ASC
		LIMIT $1
	`
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.DrawdownSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return out, nil
}

// GetLatestSnapshot returns the most recent snapshot for one symbol
func (db *DB) GetLatestSnapshot(ctx context.Context, symbol string) (*models.DrawdownSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM drawdown_snapshots
		WHERE symbol = $1
		ORDER BY run_date DESC
		LIMIT 1
	`
	s, err := scanSnapshot(db.conn.QueryRowContext(ctx, query, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no snapshot for %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSnapshot(row rowScanner) (models.DrawdownSnapshot, error) {
	var s models.DrawdownSnapshot
	err := row.Scan(
		&s.RunDate, &s.Symbol, &s.Rank, &s.CurrentPrice, &s.PeakPrice, &s.PeakDate, &s.DrawdownPct,
		&s.DaysSincePeak, &s.BarsSincePeak, &s.ObservationCount, &s.FirstDate, &s.LastDate, &s.Volume, &s.ComputedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return s, err
	}
	if err != nil {
		return s, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	return s, nil
}
