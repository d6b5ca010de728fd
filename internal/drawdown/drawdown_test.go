package drawdown

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

var day0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func d(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func bar(symbol string, day int, high, close float64) models.Bar {
	low := close
	if high < low {
		low = high
	}
	return models.Bar{
		Symbol: symbol,
		Date:   day0.AddDate(0, 0, day),
		Open:   d(close),
		High:   d(high),
		Low:    d(low - 1),
		Close:  d(close),
		Volume: 1000,
	}
}

// padded returns n filler bars below 100 followed by the given highs/closes
func padded(symbol string, n int, highs, closes []float64) []models.Bar {
	var series []models.Bar
	for i := 0; i < n; i++ {
		series = append(series, bar(symbol, i, 90, 85))
	}
	for i := range highs {
		series = append(series, bar(symbol, n+i, highs[i], closes[i]))
	}
	return series
}

func scenarioX() []models.Bar {
	return padded("X", 30, []float64{100, 110, 105, 90, 95}, []float64{98, 108, 103, 88, 93})
}

func TestRunningPeak_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		values := make([]decimal.Decimal, 1+rng.Intn(200))
		for i := range values {
			values[i] = decimal.NewFromFloat(rng.Float64() * 500).Round(2)
		}
		peaks := RunningPeak(values)
		require.Len(t, peaks, len(values))
		for i := range peaks {
			assert.True(t, peaks[i].GreaterThanOrEqual(values[i]))
			if i > 0 {
				assert.True(t, peaks[i].GreaterThanOrEqual(peaks[i-1]), "peak decreased at %d", i)
			}
		}
	}
}

func TestCompute_ScenarioX(t *testing.T) {
	snap, err := Compute(scenarioX(), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "X", snap.Symbol)
	assert.True(t, snap.PeakPrice.Equal(d(110)), "peak %s", snap.PeakPrice)
	assert.True(t, snap.CurrentPrice.Equal(d(93)))
	assert.Equal(t, "-15.45", snap.DrawdownPct.StringFixed(2))
	assert.Equal(t, 3, snap.DaysSincePeak)
	assert.Equal(t, 3, snap.BarsSincePeak)
	assert.Equal(t, day0.AddDate(0, 0, 31), snap.PeakDate)
	assert.Equal(t, 35, snap.ObservationCount)
	assert.Equal(t, day0, snap.FirstDate)
	assert.Equal(t, day0.AddDate(0, 0, 34), snap.LastDate)
}

func TestCompute_ReingestedDayReplacesBar(t *testing.T) {
	series := scenarioX()
	corrected := series[len(series)-1]
	corrected.Close = d(94)

	merged := Merge(series, []models.Bar{corrected}, MergeOptions{})
	assert.Len(t, merged.Series, len(series))
	assert.Equal(t, 1, merged.Replaced)
	assert.True(t, merged.Changed())

	snap, err := Compute(merged.Series, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "-14.55", snap.DrawdownPct.StringFixed(2))
	assert.True(t, snap.CurrentPrice.Equal(d(94)))
}

func TestCompute_MinimumHistoryBoundary(t *testing.T) {
	var series []models.Bar
	for i := 0; i < 30; i++ {
		series = append(series, bar("B", i, 100, 95))
	}

	_, err := Compute(series[:29], DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientHistory))

	snap, err := Compute(series, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 30, snap.ObservationCount)
}

func TestCompute_Errors(t *testing.T) {
	t.Run("empty series", func(t *testing.T) {
		_, err := Compute(nil, DefaultOptions())
		assert.ErrorIs(t, err, ErrEmptySeries)
	})

	t.Run("zero peak", func(t *testing.T) {
		series := []models.Bar{{Symbol: "Z", Date: day0, High: decimal.Zero, Close: decimal.Zero}}
		_, err := Compute(series, Options{MinObservations: 1})
		assert.ErrorIs(t, err, ErrZeroPeak)
	})
}

func TestCompute_DrawdownSign(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		var series []models.Bar
		for i := 0; i < 40; i++ {
			high := 10 + rng.Float64()*100
			close := high * (0.5 + rng.Float64()*0.5)
			series = append(series, bar("S", i, high, close))
		}
		snap, err := Compute(series, DefaultOptions())
		require.NoError(t, err)
		assert.False(t, snap.DrawdownPct.IsPositive(), "drawdown %s", snap.DrawdownPct)
		assert.True(t, snap.CurrentPrice.LessThanOrEqual(snap.PeakPrice))
	}
}

func TestCompute_PeakIncludesFinalBar(t *testing.T) {
	series := padded("F", 30, []float64{120}, []float64{118})
	snap, err := Compute(series, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, snap.PeakPrice.Equal(d(120)))
	assert.Equal(t, 0, snap.DaysSincePeak)
	assert.Equal(t, "-1.67", snap.DrawdownPct.StringFixed(2))
}

func TestCompute_PositiveDrawdownIsNotClamped(t *testing.T) {
	series := padded("P", 30, nil, nil)
	last := series[len(series)-1]
	last.Close = d(92) // above every high of 90
	series[len(series)-1] = last

	snap, err := Compute(series, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, snap.DrawdownPct.IsPositive())
}

func TestCompute_RepeatedPeakUsesEarliestDate(t *testing.T) {
	series := padded("R", 30, []float64{110, 100, 110, 95}, []float64{100, 95, 100, 90})
	snap, err := Compute(series, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, day0.AddDate(0, 0, 30), snap.PeakDate)
	assert.Equal(t, 3, snap.DaysSincePeak)
}

func TestCompute_Lookback(t *testing.T) {
	// an old peak outside the window must not count
	series := []models.Bar{bar("L", 0, 500, 490)}
	for i := 0; i < 40; i++ {
		series = append(series, bar("L", 300+i, 100, 90))
	}

	snap, err := Compute(series, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, snap.PeakPrice.Equal(d(100)))
	assert.Equal(t, 40, snap.ObservationCount)

	whole, err := Compute(series, Options{MinObservations: 30})
	require.NoError(t, err)
	assert.True(t, whole.PeakPrice.Equal(d(500)))
	assert.Equal(t, 41, whole.ObservationCount)
}

func TestCompute_LookbackAppliesMinimum(t *testing.T) {
	var series []models.Bar
	for i := 0; i < 40; i++ {
		series = append(series, bar("W", i, 100, 90))
	}
	_, err := Compute(series, Options{MinObservations: 30, LookbackDays: 20})
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestEvaluate(t *testing.T) {
	res := Evaluate("X", scenarioX(), DefaultOptions())
	require.True(t, res.OK())
	assert.Equal(t, "X", res.Snapshot.Symbol)

	res = Evaluate("Y", scenarioX()[:10], DefaultOptions())
	assert.False(t, res.OK())
	assert.Equal(t, models.SkipInsufficientHistory, res.Skip)
	assert.Contains(t, res.Detail, "10 observations")

	res = Evaluate("E", nil, DefaultOptions())
	assert.Equal(t, models.SkipEmptySeries, res.Skip)
}
