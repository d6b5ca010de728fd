package drawdown

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

const (
	DefaultMinObservations = 30
	DefaultLookbackDays    = 180
)

var (
	ErrEmptySeries         = errors.New("empty series")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrZeroPeak            = errors.New("non-positive peak price")
)

var hundred = decimal.NewFromInt(100)

// Options controls the drawdown computation
type Options struct {
	// MinObservations is the fewest bars a window may hold
	MinObservations int
	// LookbackDays bounds the window in calendar days; 0 uses the whole series
	LookbackDays int
	RunDate      time.Time
	ComputedAt   time.Time
}

// DefaultOptions returns the production settings
func DefaultOptions() Options {
	return Options{
		MinObservations: DefaultMinObservations,
		LookbackDays:    DefaultLookbackDays,
	}
}

// RunningPeak returns the expanding maximum of values
func RunningPeak(values []decimal.Decimal) []decimal.Decimal {
	peaks := make([]decimal.Decimal, len(values))
	for i, v := range values {
		if i == 0 || v.GreaterThan(peaks[i-1]) {
			peaks[i] = v
		} else {
			peaks[i] = peaks[i-1]
		}
	}
	return peaks
}

// Window returns the tail of series dated after last_date - lookbackDays
func Window(series []models.Bar, lookbackDays int) []models.Bar {
	if lookbackDays <= 0 || len(series) == 0 {
		return series
	}
	cutoff := series[len(series)-1].Date.AddDate(0, 0, -lookbackDays)
	start := len(series)
	for i, b := range series {
		if b.Date.After(cutoff) {
			start = i
			break
		}
	}
	return series[start:]
}

// Compute derives the drawdown snapshot for a sorted series.
//
// The peak is the highest high in the window including the final bar. The
// drawdown is (last close - peak) / peak in percent, rounded to two places.
// It can be mildly positive when the last close sits above every high in
// the window, and is left unclamped.
func Compute(series []models.Bar, opts Options) (*models.DrawdownSnapshot, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}
	minObs := opts.MinObservations
	if minObs <= 0 {
		minObs = 1
	}

	window := Window(series, opts.LookbackDays)
	if len(window) < minObs {
		return nil, fmt.Errorf("%w: %d observations, need %d", ErrInsufficientHistory, len(window), minObs)
	}

	highs := make([]decimal.Decimal, len(window))
	for i, b := range window {
		highs[i] = b.High
	}
	peaks := RunningPeak(highs)
	peak := peaks[len(peaks)-1]
	if !peak.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrZeroPeak, peak)
	}

	peakIdx := 0
	for i, p := range peaks {
		if p.Equal(peak) {
			peakIdx = i
			break
		}
	}

	first := window[0]
	last := window[len(window)-1]
	peakDate := window[peakIdx].Date

	computedAt := opts.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}
	runDate := opts.RunDate
	if runDate.IsZero() {
		runDate = models.TradeDate(computedAt)
	}

	return &models.DrawdownSnapshot{
		Symbol:           last.Symbol,
		RunDate:          runDate,
		CurrentPrice:     last.Close,
		PeakPrice:        peak,
		PeakDate:         peakDate,
		DrawdownPct:      last.Close.Sub(peak).Div(peak).Mul(hundred).Round(2),
		DaysSincePeak:    int(last.Date.Sub(peakDate).Hours() / 24),
		BarsSincePeak:    len(window) - 1 - peakIdx,
		ObservationCount: len(window),
		FirstDate:        first.Date,
		LastDate:         last.Date,
		Volume:           last.Volume,
		ComputedAt:       computedAt,
	}, nil
}

// Evaluate computes a snapshot for one symbol and turns computation errors
// into a skip reason.
func Evaluate(symbol string, series []models.Bar, opts Options) models.SymbolResult {
	snap, err := Compute(series, opts)
	if err != nil {
		return models.SymbolResult{Symbol: symbol, Skip: SkipReason(err), Detail: err.Error()}
	}
	snap.Symbol = symbol
	return models.SymbolResult{Symbol: symbol, Snapshot: snap}
}

// SkipReason maps a computation error onto its skip reason
func SkipReason(err error) models.SkipReason {
	switch {
	case errors.Is(err, ErrEmptySeries):
		return models.SkipEmptySeries
	case errors.Is(err, ErrInsufficientHistory):
		return models.SkipInsufficientHistory
	case errors.Is(err, ErrZeroPeak):
		return models.SkipZeroPeak
	}
	return models.SkipInvalidBars
}
