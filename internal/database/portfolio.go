package database

import (
	"context"
	"fmt"
	"time"

	"github.com/trogers1052/drawdown-screener/internal/models"
)

// ReplacePortfolioSnapshot replaces the positions recorded for a snapshot
// date with the given set. Used when syncing from the brokerage, which is
// the source of truth for what is held.
func (db *DB) ReplacePortfolioSnapshot(ctx context.Context, date time.Time, positions []models.PortfolioPosition) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_snapshots WHERE snapshot_date = $1`, date); err != nil {
		return fmt.Errorf("failed to delete existing positions: %w", err)
	}

	query := `
		INSERT INTO portfolio_snapshots (
			snapshot_date, symbol, quantity, avg_entry_price, current_price,
			market_value, unrealized_pl, unrealized_return_pct, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	now := time.Now().UTC()
	for i := range positions {
		p := &positions[i]
		p.SnapshotDate = date
		p.CreatedAt = now
		if err := tx.QueryRowContext(ctx, query,
			date, p.Symbol, p.Quantity, p.AvgEntryPrice, p.CurrentPrice,
			p.MarketValue, p.UnrealizedPL, p.UnrealizedReturnPct, now,
		).Scan(&p.ID); err != nil {
			return fmt.Errorf("failed to insert position %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetLatestPortfolio returns the positions of the most recent snapshot date
func (db *DB) GetLatestPortfolio(ctx context.Context) ([]models.PortfolioPosition, error) {
	query := `
		SELECT id, snapshot_date, symbol, quantity, avg_entry_price, current_price,
			market_value, unrealized_pl, unrealized_return_pct, created_at
		FROM portfolio_snapshots
		WHERE snapshot_date = (SELECT MAX(snapshot_date) FROM portfolio_snapshots)
		ORDER BY symbol ASC
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	defer rows.Close()

	var positions []models.PortfolioPosition
	for rows.Next() {
		var p models.PortfolioPosition
		if err := rows.Scan(
			&p.ID, &p.SnapshotDate, &p.Symbol, &p.Quantity, &p.AvgEntryPrice, &p.CurrentPrice,
			&p.MarketValue, &p.UnrealizedPL, &p.UnrealizedReturnPct, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions: %w", err)
	}
	return positions, nil
}
