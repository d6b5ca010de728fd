package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/trogers1052/drawdown-screener/internal/database"
	"github.com/trogers1052/drawdown-screener/internal/models"
	"github.com/trogers1052/drawdown-screener/internal/scheduler"
)

var day = time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)

type fakeReader struct {
	candidates []models.RankedCandidate
	snapshots  map[string]*models.DrawdownSnapshot
	portfolio  []models.PortfolioPosition
	run        *models.RunReport
	bars       map[string]*models.Bar
	barCount   int64
	symCount   int64
	countErr   error
	err        error
	limit      int
}

func (f *fakeReader) GetLatestCandidates(ctx context.Context, limit int) ([]models.RankedCandidate, error) {
	f.limit = limit
	return f.candidates, f.err
}

func (f *fakeReader) GetLatestSnapshot(ctx context.Context, symbol string) (*models.DrawdownSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.snapshots[symbol]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no snapshot for %s: %w", symbol, database.ErrNotFound)
}

func (f *fakeReader) GetLatestPortfolio(ctx context.Context) ([]models.PortfolioPosition, error) {
	return f.portfolio, f.err
}

func (f *fakeReader) GetLatestRun(ctx context.Context) (*models.RunReport, error) {
	if f.run == nil {
		return nil, fmt.Errorf("no pipeline runs recorded: %w", database.ErrNotFound)
	}
	return f.run, nil
}

func (f *fakeReader) GetLatestBar(ctx context.Context, symbol string) (*models.Bar, error) {
	if b, ok := f.bars[symbol]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("no price data found for %s: %w", symbol, database.ErrNotFound)
}

func (f *fakeReader) CountBars(ctx context.Context) (int64, int64, error) {
	return f.barCount, f.symCount, f.countErr
}

type fakeBroker struct {
	positions []models.PortfolioPosition
	account   *models.Account
	err       error
}

func (f *fakeBroker) ListPositions(ctx context.Context) ([]models.PortfolioPosition, error) {
	return f.positions, f.err
}

func (f *fakeBroker) GetAccount(ctx context.Context) (*models.Account, error) {
	return f.account, f.err
}

type fakeTrigger struct {
	err   error
	calls int
}

func (f *fakeTrigger) TriggerAsync() error {
	f.calls++
	return f.err
}

func position(symbol string, pct float64) models.PortfolioPosition {
	return models.PortfolioPosition{
		Symbol:              symbol,
		Quantity:            decimal.NewFromInt(10),
		UnrealizedReturnPct: decimal.NewFromFloat(pct),
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		name string
		args []string
	}{
		{"/screen", "/screen", []string{}},
		{"/SCREEN@drawdown_bot", "/screen", []string{}},
		{"  /drawdown aapl  ", "/drawdown", []string{"aapl"}},
		{"/Drawdown@bot msft extra", "/drawdown", []string{"msft", "extra"}},
		{"hello", "", nil},
		{"", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args := parseCommand(tt.text)
			assert.Equal(t, tt.name, name)
			if tt.args == nil {
				assert.Nil(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

func TestHandle_HelpAndUnknown(t *testing.T) {
	c := NewCommands(&fakeReader{}, nil, nil, 10)

	assert.Equal(t, helpText, c.Handle(context.Background(), "/start"))
	assert.Equal(t, helpText, c.Handle(context.Background(), "/HELP"))
	assert.Contains(t, c.Handle(context.Background(), "/buy AAPL"), "Unknown command /buy")
	assert.Empty(t, c.Handle(context.Background(), "just chatting"))
}

func TestHandle_Screen(t *testing.T) {
	reader := &fakeReader{candidates: []models.RankedCandidate{
		{RunDate: day, Rank: 1, Symbol: "CCC", DrawdownPct: decimal.NewFromFloat(-50), CurrentPrice: decimal.NewFromInt(50), PeakPrice: decimal.NewFromInt(100), DaysSincePeak: 12},
		{RunDate: day, Rank: 2, Symbol: "AAA", DrawdownPct: decimal.NewFromFloat(-20.5)},
	}}
	c := NewCommands(reader, nil, nil, 5)

	reply := c.Handle(context.Background(), "/screen")
	assert.Equal(t, 5, reader.limit)
	assert.Contains(t, reply, "Top 2 drawdowns")
	assert.Contains(t, reply, "2025-11-04")
	assert.Contains(t, reply, "1. <b>CCC</b> -50.00%")
	assert.Contains(t, reply, "$50.00 from peak $100.00, 12 days")
	assert.Contains(t, reply, "2. <b>AAA</b> -20.50%")
}

func TestHandle_ScreenEmptyAndError(t *testing.T) {
	c := NewCommands(&fakeReader{}, nil, nil, 10)
	assert.Contains(t, c.Handle(context.Background(), "/screen"), "No candidates yet")

	c = NewCommands(&fakeReader{err: errors.New("db <down>")}, nil, nil, 10)
	reply := c.Handle(context.Background(), "/screen")
	assert.Contains(t, reply, "Failed to load candidates")
	assert.Contains(t, reply, "db &lt;down&gt;")
}

func TestHandle_Drawdown(t *testing.T) {
	reader := &fakeReader{snapshots: map[string]*models.DrawdownSnapshot{
		"AAPL": {
			Symbol: "AAPL", RunDate: day, DrawdownPct: decimal.NewFromFloat(-15.45),
			CurrentPrice: decimal.NewFromInt(93), PeakPrice: decimal.NewFromInt(110),
			PeakDate: day.AddDate(0, 0, -3), DaysSincePeak: 3, BarsSincePeak: 3, Rank: 4,
			ObservationCount: 35, FirstDate: day.AddDate(0, 0, -34), LastDate: day,
		},
	}}
	c := NewCommands(reader, nil, nil, 10)

	reply := c.Handle(context.Background(), "/drawdown aapl")
	assert.Contains(t, reply, "<b>AAPL</b>")
	assert.Contains(t, reply, "Drawdown: -15.45%")
	assert.Contains(t, reply, "Rank: #4")
	assert.Contains(t, reply, "Peak: $110.00 on 2025-11-01")

	assert.Equal(t, "No drawdown snapshot for ZZZ.", c.Handle(context.Background(), "/drawdown zzz"))
	assert.Equal(t, "Usage: /drawdown SYMBOL", c.Handle(context.Background(), "/drawdown"))
}

func TestHandle_DrawdownFallsBackToLatestBar(t *testing.T) {
	reader := &fakeReader{bars: map[string]*models.Bar{
		"NEWCO": {Symbol: "NEWCO", Date: day, Close: decimal.NewFromFloat(12.5)},
	}}
	c := NewCommands(reader, nil, nil, 10)

	reply := c.Handle(context.Background(), "/drawdown newco")
	assert.Equal(t, "No drawdown snapshot for NEWCO.\nLast stored close: $12.50 on 2025-11-04\n", reply)
	assert.Equal(t, "No drawdown snapshot for ZZZ.", c.Handle(context.Background(), "/drawdown zzz"))
}

func TestHandle_PortfolioPrefersLive(t *testing.T) {
	reader := &fakeReader{portfolio: []models.PortfolioPosition{position("OLD", 1)}}
	broker := &fakeBroker{positions: []models.PortfolioPosition{position("NEW", 2)}}
	c := NewCommands(reader, broker, nil, 10)

	reply := c.Handle(context.Background(), "/portfolio")
	assert.Contains(t, reply, "NEW")
	assert.NotContains(t, reply, "OLD")

	broker.err = errors.New("unavailable")
	reply = c.Handle(context.Background(), "/portfolio")
	assert.Contains(t, reply, "OLD")
}

func TestHandle_Monitor(t *testing.T) {
	broker := &fakeBroker{positions: []models.PortfolioPosition{
		position("A", 150), position("B", 120), position("C", 110),
		position("D", 100), position("E", 90), position("F", -10),
	}}
	c := NewCommands(&fakeReader{}, broker, nil, 10)

	reply := c.Handle(context.Background(), "/monitor")
	assert.Contains(t, reply, "reached")
	assert.NotContains(t, reply, "not reached")
	assert.Contains(t, reply, "Average of best 5: 114.00%")
	assert.NotContains(t, reply, "F -10.00%")

	broker.positions = broker.positions[:3]
	assert.Equal(t, "Profit target needs at least 5 positions, found 3.", c.Handle(context.Background(), "/monitor"))
}

func TestHandle_Account(t *testing.T) {
	c := NewCommands(&fakeReader{}, nil, nil, 10)
	assert.Equal(t, "Brokerage account is not configured.", c.Handle(context.Background(), "/account"))

	broker := &fakeBroker{account: &models.Account{Status: "ACTIVE", Equity: decimal.NewFromInt(12500)}}
	c = NewCommands(&fakeReader{}, broker, nil, 10)
	reply := c.Handle(context.Background(), "/account")
	assert.Contains(t, reply, "Status: ACTIVE")
	assert.Contains(t, reply, "Equity: $12500.00")
}

func TestHandle_Health(t *testing.T) {
	reader := &fakeReader{}
	c := NewCommands(reader, nil, nil, 10)
	assert.Equal(t, "No screening runs recorded yet.", c.Handle(context.Background(), "/health"))

	worst := decimal.NewFromFloat(-62.1)
	report := models.NewRunReport("r1", day, day.Add(21*time.Hour))
	report.Status = models.RunStatusPartial
	report.FinishedAt = report.StartedAt.Add(95 * time.Second)
	report.UniverseSize = 727
	report.Succeeded = 700
	report.Failed = 20
	report.Skipped[models.SkipVendorError] = 20
	report.Skipped[models.SkipInsufficientHistory] = 7
	report.BestCandidate = "XYZ"
	report.WorstDrawdownPct = &worst
	reader.run = report

	reply := c.Handle(context.Background(), "/health")
	assert.Contains(t, reply, "Last run partial")
	assert.Contains(t, reply, "Duration: 1m35s")
	assert.Contains(t, reply, "Universe: 727, computed: 700, failed: 20")
	assert.Contains(t, reply, "insufficient_history: 7")
	assert.Contains(t, reply, "Deepest: XYZ -62.10%")

	reader.barCount, reader.symCount = 182000, 727
	reply = c.Handle(context.Background(), "/health")
	assert.Contains(t, reply, "Stored: 182000 bars across 727 symbols")

	reader.countErr = errors.New("timeout")
	assert.NotContains(t, c.Handle(context.Background(), "/health"), "Stored:")
}

func TestHandle_Run(t *testing.T) {
	c := NewCommands(&fakeReader{}, nil, nil, 10)
	assert.Equal(t, "Manual runs are not enabled.", c.Handle(context.Background(), "/run"))

	trigger := &fakeTrigger{}
	c = NewCommands(&fakeReader{}, nil, trigger, 10)
	assert.Contains(t, c.Handle(context.Background(), "/run"), "Screening run started")
	assert.Equal(t, 1, trigger.calls)

	trigger.err = scheduler.ErrBusy
	assert.Equal(t, "A screening run is already in progress.", c.Handle(context.Background(), "/run"))
}
