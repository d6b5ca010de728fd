package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SkipReason explains why a symbol produced no snapshot in a run
type SkipReason string

const (
	SkipInsufficientHistory SkipReason = "insufficient_history"
	SkipEmptySeries         SkipReason = "empty_series"
	SkipZeroPeak            SkipReason = "zero_peak"
	SkipNoData              SkipReason = "no_data"
	SkipVendorError         SkipReason = "vendor_error"
	SkipTimeout             SkipReason = "timeout"
	SkipCircuitOpen         SkipReason = "circuit_open"
	SkipInvalidBars         SkipReason = "invalid_bars"
	SkipStoreError          SkipReason = "store_error"
)

// Failure reports whether the reason is a fetch or store failure rather
// than a data-quality exclusion.
func (r SkipReason) Failure() bool {
	switch r {
	case SkipVendorError, SkipTimeout, SkipCircuitOpen, SkipStoreError:
		return true
	}
	return false
}

// RunStatus is the terminal state of a pipeline run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// SymbolResult is the outcome of processing one symbol: either a snapshot
// or a skip reason with a diagnostic.
type SymbolResult struct {
	Symbol   string            `json:"symbol"`
	Snapshot *DrawdownSnapshot `json:"snapshot,omitempty"`
	Skip     SkipReason        `json:"skip,omitempty"`
	Detail   string            `json:"detail,omitempty"`
}

// OK reports whether the symbol produced a snapshot
func (r SymbolResult) OK() bool {
	return r.Snapshot != nil
}

// RunReport summarizes one pipeline run
type RunReport struct {
	ID                 string             `json:"id"`
	RunDate            time.Time          `json:"run_date"`
	Status             RunStatus          `json:"status"`
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         time.Time          `json:"finished_at,omitempty"`
	UniverseSize       int                `json:"universe_size"`
	Fetched            int                `json:"fetched"`
	Succeeded          int                `json:"succeeded"`
	Skipped            map[SkipReason]int `json:"skipped"`
	Failed             int                `json:"failed"`
	BarsRejected       int                `json:"bars_rejected"`
	RateLimitPauses    int                `json:"rate_limit_pauses"`
	Ranked             int                `json:"ranked"`
	CandidatesWritten  int                `json:"candidates_written"`
	PortfolioPositions int                `json:"portfolio_positions"`
	WorstDrawdownPct   *decimal.Decimal   `json:"worst_drawdown_pct,omitempty"`
	BestCandidate      string             `json:"best_candidate,omitempty"`
	Error              string             `json:"error,omitempty"`
}

// NewRunReport starts a report for the given run
func NewRunReport(id string, runDate, startedAt time.Time) *RunReport {
	return &RunReport{
		ID:        id,
		RunDate:   runDate,
		Status:    RunStatusRunning,
		StartedAt: startedAt,
		Skipped:   make(map[SkipReason]int),
	}
}

// Record folds a symbol result into the counters
func (r *RunReport) Record(res SymbolResult) {
	if res.OK() {
		r.Succeeded++
		return
	}
	if r.Skipped == nil {
		r.Skipped = make(map[SkipReason]int)
	}
	r.Skipped[res.Skip]++
	if res.Skip.Failure() {
		r.Failed++
	}
}

// TotalSkipped returns the number of symbols without a snapshot
func (r *RunReport) TotalSkipped() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

// Duration is the wall-clock time of the run; zero while it is still running
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
