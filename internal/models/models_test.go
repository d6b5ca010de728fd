package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTradeDate(t *testing.T) {
	ts := time.Date(2025, 3, 14, 13, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), TradeDate(ts))
	assert.Equal(t, "2025-03-14", DateKey(ts))
}

func TestReturnPct(t *testing.T) {
	tests := []struct {
		name    string
		entry   float64
		current float64
		want    string
	}{
		{"gain", 100, 250, "150"},
		{"loss", 200, 150, "-25"},
		{"missing current price", 50, 0, "0"},
		{"zero entry", 0, 10, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReturnPct(decimal.NewFromFloat(tt.entry), decimal.NewFromFloat(tt.current))
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestRunReport_Record(t *testing.T) {
	r := NewRunReport("run-1", time.Now(), time.Now())
	r.Record(SymbolResult{Symbol: "A", Snapshot: &DrawdownSnapshot{Symbol: "A"}})
	r.Record(SymbolResult{Symbol: "B", Skip: SkipInsufficientHistory})
	r.Record(SymbolResult{Symbol: "C", Skip: SkipVendorError})
	r.Record(SymbolResult{Symbol: "D", Skip: SkipVendorError})

	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 2, r.Failed)
	assert.Equal(t, 3, r.TotalSkipped())
	assert.Equal(t, 2, r.Skipped[SkipVendorError])
	assert.Equal(t, RunStatusRunning, r.Status)
	assert.Zero(t, r.Duration())
}
