package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioPosition represents one brokerage holding captured on a snapshot date
type PortfolioPosition struct {
	ID                  int             `json:"id,omitempty"`
	SnapshotDate        time.Time       `json:"date"`
	Symbol              string          `json:"symbol"`
	Quantity            decimal.Decimal `json:"quantity"`
	AvgEntryPrice       decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice        decimal.Decimal `json:"current_price"`
	MarketValue         decimal.Decimal `json:"market_value"`
	UnrealizedPL        decimal.Decimal `json:"unrealized_pl"`
	UnrealizedReturnPct decimal.Decimal `json:"unrealized_return_pct"`
	CreatedAt           time.Time       `json:"created_at,omitempty"`
}

// Account is the live brokerage account summary
type Account struct {
	Status      string          `json:"status"`
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	Cash        decimal.Decimal `json:"cash"`
}

// ReturnPct computes the unrealized return of a position in percent.
// A missing current price falls back to the entry price (flat return).
func ReturnPct(entry, current decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	if current.IsZero() {
		current = entry
	}
	return current.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100)).Round(2)
}
