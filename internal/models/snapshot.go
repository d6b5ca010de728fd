package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DrawdownSnapshot is the per-symbol drawdown state recomputed on every run
type DrawdownSnapshot struct {
	Symbol           string          `json:"symbol"`
	RunDate          time.Time       `json:"run_date"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	PeakPrice        decimal.Decimal `json:"peak_price"`
	PeakDate         time.Time       `json:"peak_date"`
	DrawdownPct      decimal.Decimal `json:"drawdown_pct"`
	DaysSincePeak    int             `json:"days_since_peak"`
	BarsSincePeak    int             `json:"bars_since_peak"`
	ObservationCount int             `json:"observation_count"`
	FirstDate        time.Time       `json:"first_date"`
	LastDate         time.Time       `json:"last_date"`
	Volume           int64           `json:"volume"`
	Rank             int             `json:"rank,omitempty"`
	ComputedAt       time.Time       `json:"computed_at"`
}

// RankedCandidate is one row of the top-N candidates view
type RankedCandidate struct {
	RunDate       time.Time       `json:"date"`
	Rank          int             `json:"rank"`
	Symbol        string          `json:"symbol"`
	DrawdownPct   decimal.Decimal `json:"drawdown_pct"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	PeakPrice     decimal.Decimal `json:"peak_price"`
	DaysSincePeak int             `json:"days_since_peak"`
}

// Candidate projects a ranked snapshot onto the candidates view
func (s DrawdownSnapshot) Candidate() RankedCandidate {
	return RankedCandidate{
		RunDate:       s.RunDate,
		Rank:          s.Rank,
		Symbol:        s.Symbol,
		DrawdownPct:   s.DrawdownPct,
		CurrentPrice:  s.CurrentPrice,
		PeakPrice:     s.PeakPrice,
		DaysSincePeak: s.DaysSincePeak,
	}
}
