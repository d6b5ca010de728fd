// Package drawdown implements the time-series merge, the peak-to-current
// drawdown computation and the cross-sectional ranking of the screener.
package drawdown

import (
	"sort"
	"strings"
	"time"

	"github.com/trogers1052/drawdown-screener/internal/models"
)

// Rejection reasons for incoming bars
const (
	RejectNonPositivePrice = "non_positive_price"
	RejectNegativeVolume   = "negative_volume"
	RejectMissingDate      = "missing_date"
	RejectForeignSymbol    = "foreign_symbol"
)

// MergeOptions controls a single merge
type MergeOptions struct {
	// Symbol the series belongs to. Inferred from the existing series,
	// then from the first incoming bar, when empty.
	Symbol string
}

// RejectedBar is an incoming bar that failed validation
type RejectedBar struct {
	Bar    models.Bar
	Reason string
}

// MergeResult is the merged series plus what happened to it
type MergeResult struct {
	Series []models.Bar
	// Changes holds the added and replaced bars in date order
	Changes   []models.Bar
	Added     int
	Replaced  int
	Unchanged int
	Rejected  []RejectedBar
}

// Changed reports whether the merged series differs from the stored one
func (r MergeResult) Changed() bool {
	return len(r.Changes) > 0
}

// Merge folds incoming bars into an existing series for one symbol.
//
// Incoming bars win over stored bars of the same date and a later bar wins
// over an earlier one for the same date within the incoming batch, so a
// same-day re-collection replaces that day's bar. Stored bars are never
// dropped. Prices are compared at storage precision. The output is sorted
// ascending by date with no duplicate dates. Merging the same input twice
// yields the same series.
func Merge(existing, incoming []models.Bar, opts MergeOptions) MergeResult {
	symbol := strings.ToUpper(opts.Symbol)
	if symbol == "" {
		switch {
		case len(existing) > 0:
			symbol = strings.ToUpper(existing[0].Symbol)
		case len(incoming) > 0:
			symbol = strings.ToUpper(incoming[0].Symbol)
		}
	}

	byDate := make(map[time.Time]models.Bar, len(existing)+len(incoming))
	for _, b := range existing {
		b.Date = models.TradeDate(b.Date)
		byDate[b.Date] = b
	}

	var result MergeResult

	// later duplicates win, so collapse the batch before comparing
	accepted := make(map[time.Time]models.Bar, len(incoming))
	for _, b := range incoming {
		b = b.Rounded()
		if reason := validate(b, symbol); reason != "" {
			result.Rejected = append(result.Rejected, RejectedBar{Bar: b, Reason: reason})
			continue
		}
		b.Date = models.TradeDate(b.Date)
		b.Symbol = symbol
		accepted[b.Date] = b
	}

	for date, b := range accepted {
		prev, ok := byDate[date]
		switch {
		case !ok:
			result.Added++
			result.Changes = append(result.Changes, b)
		case sameBar(prev, b):
			result.Unchanged++
			// keep the stored row identity
			b.ID = prev.ID
			b.CreatedAt = prev.CreatedAt
		default:
			result.Replaced++
			b.ID = prev.ID
			b.CreatedAt = prev.CreatedAt
			result.Changes = append(result.Changes, b)
		}
		byDate[date] = b
	}
	sortByDate(result.Changes)

	series := make([]models.Bar, 0, len(byDate))
	for _, b := range byDate {
		series = append(series, b)
	}
	sortByDate(series)
	result.Series = series
	return result
}

func sortByDate(bars []models.Bar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})
}

func validate(b models.Bar, symbol string) string {
	if b.Date.IsZero() {
		return RejectMissingDate
	}
	if symbol != "" && !strings.EqualFold(b.Symbol, symbol) {
		return RejectForeignSymbol
	}
	if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
		return RejectNonPositivePrice
	}
	if b.Volume < 0 {
		return RejectNegativeVolume
	}
	return ""
}

func sameBar(a, b models.Bar) bool {
	a = a.Rounded()
	return a.Open.Equal(b.Open) &&
		a.High.Equal(b.High) &&
		a.Low.Equal(b.Low) &&
		a.Close.Equal(b.Close) &&
		a.Volume == b.Volume &&
		a.VWAP.Equal(b.VWAP)
}

// IsSorted reports whether a series is strictly increasing by date
func IsSorted(series []models.Bar) bool {
	for i := 1; i < len(series); i++ {
		if !series[i-1].Date.Before(series[i].Date) {
			return false
		}
	}
	return true
}
