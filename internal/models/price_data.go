package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents one trading day's OHLCV observation for a symbol
type Bar struct {
	ID        int             `json:"id,omitempty"`
	Symbol    string          `json:"symbol"`
	Date      time.Time       `json:"date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	VWAP      decimal.Decimal `json:"vwap,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// TradeDate truncates t to its calendar date at UTC midnight.
// Vendors report bar timestamps at market open or in epoch millis; the
// calendar date is the only part the series is keyed on.
func TradeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats a trade date the way it is stored and displayed
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// PriceScale is the number of decimal places prices are stored with
const PriceScale = 4

// Rounded returns the bar with prices at storage precision
func (b Bar) Rounded() Bar {
	b.Open = b.Open.Round(PriceScale)
	b.High = b.High.Round(PriceScale)
	b.Low = b.Low.Round(PriceScale)
	b.Close = b.Close.Round(PriceScale)
	b.VWAP = b.VWAP.Round(PriceScale)
	return b
}
