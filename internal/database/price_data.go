package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

const barColumns = `id, symbol, date, open, high, low, close, volume, vwap, created_at`

// GetSeries returns a symbol's stored bars ordered by date ascending
func (db *DB) GetSeries(ctx context.Context, symbol string) ([]models.Bar, error) {
	query := `
		SELECT ` + barColumns + `
		FROM price_data_daily
		WHERE symbol = $1
		ORDER BY date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get series for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate series for %s: %w", symbol, err)
	}
	return bars, nil
}

// GetSeriesRange returns a symbol's bars within [startDate, endDate]
func (db *DB) GetSeriesRange(ctx context.Context, symbol string, startDate, endDate time.Time) ([]models.Bar, error) {
	query := `
		SELECT ` + barColumns + `
		FROM price_data_daily
		WHERE symbol = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, symbol, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get series range: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// UpsertBars writes bars in one transaction, replacing any stored bar of the
// same symbol and date. Bars missing from the batch are left alone.
func (db *DB) UpsertBars(ctx context.Context, bars []models.Bar) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertBars(ctx, tx, bars); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetLatestBar returns the most recent stored bar for a symbol
func (db *DB) GetLatestBar(ctx context.Context, symbol string) (*models.Bar, error) {
	query := `
		SELECT ` + barColumns + `
		FROM price_data_daily
		WHERE symbol = $1
		ORDER BY date DESC
		LIMIT 1
	`
	b, err := scanBar(db.conn.QueryRowContext(ctx, query, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no price data found for %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CountBars returns the number of stored bars and distinct symbols
func (db *DB) CountBars(ctx context.Context) (bars int64, symbols int64, err error) {
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT symbol) FROM price_data_daily`,
	).Scan(&bars, &symbols)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count price data: %w", err)
	}
	return bars, symbols, nil
}

func insertBars(ctx context.Context, tx *sql.Tx, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_data_daily (symbol, date, open, high, low, close, volume, vwap, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			vwap = EXCLUDED.vwap
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, b := range bars {
		createdAt := b.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		var vwap interface{}
		if !b.VWAP.IsZero() {
			vwap = b.VWAP
		}
		if _, err := stmt.ExecContext(ctx,
			b.Symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, vwap, createdAt,
		); err != nil {
			return fmt.Errorf("failed to insert price data for %s on %s: %w", b.Symbol, models.DateKey(b.Date), err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBar(row rowScanner) (models.Bar, error) {
	var b models.Bar
	var vwap decimal.NullDecimal
	err := row.Scan(&b.ID, &b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &vwap, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return b, err
	}
	if err != nil {
		return b, fmt.Errorf("failed to scan price data: %w", err)
	}
	if vwap.Valid {
		b.VWAP = vwap.Decimal
	}
	b.Date = models.TradeDate(b.Date)
	return b, nil
}
