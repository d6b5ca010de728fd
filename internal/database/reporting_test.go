package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/drawdown-screener/internal/drawdown"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

func testSnapshot(symbol string, runDate time.Time, pct float64) models.DrawdownSnapshot {
	return models.DrawdownSnapshot{
		Symbol:           symbol,
		RunDate:          runDate,
		CurrentPrice:     decimal.NewFromInt(90),
		PeakPrice:        decimal.NewFromInt(100),
		PeakDate:         runDate.AddDate(0, 0, -10),
		DrawdownPct:      decimal.NewFromFloat(pct),
		DaysSincePeak:    10,
		BarsSincePeak:    7,
		ObservationCount: 120,
		FirstDate:        runDate.AddDate(0, 0, -170),
		LastDate:         runDate,
		Volume:           5000,
		ComputedAt:       runDate.Add(22 * time.Hour),
	}
}

func TestReportingRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)
	ctx := context.Background()
	day1 := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	t.Run("ReplaceSnapshots replaces same run date and keeps history", func(t *testing.T) {
		testDB.TruncateAll(t)

		first := drawdown.Rank([]models.DrawdownSnapshot{testSnapshot("AAA", day1, -10), testSnapshot("BBB", day1, -20)})
		require.NoError(t, testDB.ReplaceSnapshots(ctx, day1, first))

		second := drawdown.Rank([]models.DrawdownSnapshot{testSnapshot("AAA", day2, -12)})
		require.NoError(t, testDB.ReplaceSnapshots(ctx, day2, second))
		// rerun of the same date
		require.NoError(t, testDB.ReplaceSnapshots(ctx, day2, second))

		latest, err := testDB.GetSnapshots(ctx, 100)
		require.NoError(t, err)
		require.Len(t, latest, 1)
		assert.Equal(t, day2, latest[0].RunDate.UTC())
		assert.Equal(t, 1, latest[0].Rank)

		var total int
		require.NoError(t, testDB.GetRawConn().QueryRow(`SELECT COUNT(*) FROM drawdown_snapshots`).Scan(&total))
		assert.Equal(t, 3, total)

		bbb, err := testDB.GetLatestSnapshot(ctx, "BBB")
		require.NoError(t, err)
		assert.Equal(t, "-20", bbb.DrawdownPct.String())
		assert.Equal(t, 1, bbb.Rank)

		_, err = testDB.GetLatestSnapshot(ctx, "ZZZ")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("ReplaceCandidates refuses an empty list", func(t *testing.T) {
		testDB.TruncateAll(t)

		ranked := drawdown.Rank([]models.DrawdownSnapshot{
			testSnapshot("AAA", day1, -20), testSnapshot("BBB", day1, -20), testSnapshot("CCC", day1, -5),
		})
		require.NoError(t, testDB.ReplaceCandidates(ctx, day1, drawdown.Top(ranked, 10)))

		err := testDB.ReplaceCandidates(ctx, day2, nil)
		assert.ErrorIs(t, err, ErrEmptyCandidates)

		got, err := testDB.GetLatestCandidates(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"AAA", "BBB", "CCC"}, []string{got[0].Symbol, got[1].Symbol, got[2].Symbol})
	})

	t.Run("ReplacePortfolioSnapshot replaces the date", func(t *testing.T) {
		testDB.TruncateAll(t)

		positions := []models.PortfolioPosition{
			{Symbol: "AAPL", Quantity: decimal.NewFromInt(10), AvgEntryPrice: decimal.NewFromInt(100),
				CurrentPrice: decimal.NewFromInt(150), MarketValue: decimal.NewFromInt(1500),
				UnrealizedPL: decimal.NewFromInt(500), UnrealizedReturnPct: decimal.NewFromInt(50)},
			{Symbol: "MSFT", Quantity: decimal.NewFromInt(1), AvgEntryPrice: decimal.NewFromInt(400),
				CurrentPrice: decimal.NewFromInt(380), MarketValue: decimal.NewFromInt(380),
				UnrealizedPL: decimal.NewFromInt(-20), UnrealizedReturnPct: decimal.NewFromInt(-5)},
		}
		require.NoError(t, testDB.ReplacePortfolioSnapshot(ctx, day1, positions))
		assert.NotZero(t, positions[0].ID)

		require.NoError(t, testDB.ReplacePortfolioSnapshot(ctx, day1, positions[:1]))

		got, err := testDB.GetLatestPortfolio(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "AAPL", got[0].Symbol)
		assert.True(t, decimal.NewFromInt(50).Equal(got[0].UnrealizedReturnPct))
	})

	t.Run("SaveRun upserts and GetLatestRun reads back", func(t *testing.T) {
		testDB.TruncateAll(t)

		started := time.Date(2025, 11, 4, 21, 30, 0, 0, time.UTC)
		report := models.NewRunReport(uuid.NewString(), day2, started)
		report.UniverseSize = 3
		require.NoError(t, testDB.SaveRun(ctx, report))

		worst := decimal.NewFromFloat(-42.5)
		report.Status = models.RunStatusPartial
		report.FinishedAt = started.Add(5 * time.Minute)
		report.Succeeded = 2
		report.Skipped[models.SkipNoData] = 1
		report.WorstDrawdownPct = &worst
		report.BestCandidate = "AAA"
		require.NoError(t, testDB.SaveRun(ctx, report))

		got, err := testDB.GetLatestRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, report.ID, got.ID)
		assert.Equal(t, models.RunStatusPartial, got.Status)
		assert.Equal(t, 1, got.Skipped[models.SkipNoData])
		require.NotNil(t, got.WorstDrawdownPct)
		assert.Equal(t, "-42.5", got.WorstDrawdownPct.String())
		assert.Equal(t, "AAA", got.BestCandidate)
		assert.Empty(t, got.Error)
		assert.Equal(t, 5*time.Minute, got.Duration())
	})

	t.Run("GetLatestRun with no runs", func(t *testing.T) {
		testDB.TruncateAll(t)

		_, err := testDB.GetLatestRun(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
