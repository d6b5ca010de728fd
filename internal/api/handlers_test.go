package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/drawdown-screener/internal/database"
	"github.com/trogers1052/drawdown-screener/internal/models"
	"github.com/trogers1052/drawdown-screener/internal/scheduler"
)

var runDate = time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)

// MockStore serves canned data
type MockStore struct {
	pingErr    error
	candidates []models.RankedCandidate
	snapshots  []models.DrawdownSnapshot
	portfolio  []models.PortfolioPosition
	run        *models.RunReport
	bars       []models.Bar
	err        error
	lastLimit  int
	lastRange  [2]time.Time
	countErr   error
}

func (m *MockStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *MockStore) GetLatestCandidates(ctx context.Context, limit int) ([]models.RankedCandidate, error) {
	m.lastLimit = limit
	return m.candidates, m.err
}

func (m *MockStore) GetSnapshots(ctx context.Context, limit int) ([]models.DrawdownSnapshot, error) {
	m.lastLimit = limit
	return m.snapshots, m.err
}

func (m *MockStore) GetLatestSnapshot(ctx context.Context, symbol string) (*models.DrawdownSnapshot, error) {
	for i := range m.snapshots {
		if m.snapshots[i].Symbol == symbol {
			return &m.snapshots[i], nil
		}
	}
	return nil, fmt.Errorf("no snapshot for %s: %w", symbol, database.ErrNotFound)
}

func (m *MockStore) GetLatestPortfolio(ctx context.Context) ([]models.PortfolioPosition, error) {
	return m.portfolio, m.err
}

func (m *MockStore) GetLatestRun(ctx context.Context) (*models.RunReport, error) {
	if m.run == nil {
		return nil, fmt.Errorf("no pipeline runs recorded: %w", database.ErrNotFound)
	}
	return m.run, nil
}

func (m *MockStore) ListRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	m.lastLimit = limit
	if m.run == nil {
		return nil, m.err
	}
	return []models.RunReport{*m.run}, m.err
}

func (m *MockStore) GetSeriesRange(ctx context.Context, symbol string, startDate, endDate time.Time) ([]models.Bar, error) {
	m.lastRange = [2]time.Time{startDate, endDate}
	var out []models.Bar
	for _, b := range m.bars {
		if b.Symbol == symbol && !b.Date.Before(startDate) && !b.Date.After(endDate) {
			out = append(out, b)
		}
	}
	return out, m.err
}

func (m *MockStore) CountBars(ctx context.Context) (int64, int64, error) {
	if m.countErr != nil {
		return 0, 0, m.countErr
	}
	symbols := map[string]bool{}
	for _, b := range m.bars {
		symbols[b.Symbol] = true
	}
	return int64(len(m.bars)), int64(len(symbols)), nil
}

type mockTrigger struct {
	err     error
	running bool
	calls   int
}

func (m *mockTrigger) TriggerAsync() error {
	m.calls++
	return m.err
}

func (m *mockTrigger) Running() bool { return m.running }

func serve(t *testing.T, router http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetCandidates(t *testing.T) {
	store := &MockStore{candidates: []models.RankedCandidate{
		{RunDate: runDate, Rank: 1, Symbol: "CCC", DrawdownPct: decimal.NewFromFloat(-50)},
	}}
	router := SetupRoutes(NewHandler(store, nil), nil, nil)

	rec := serve(t, router, "GET", "/api/v1/candidates")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, defaultLimit, store.lastLimit)

	var got []models.RankedCandidate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "CCC", got[0].Symbol)
	assert.True(t, got[0].DrawdownPct.Equal(decimal.NewFromInt(-50)))

	serve(t, router, "GET", "/api/v1/candidates?limit=3")
	assert.Equal(t, 3, store.lastLimit)

	rec = serve(t, router, "GET", "/api/v1/candidates?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestGetCandidates_EmptyIsArray(t *testing.T) {
	router := SetupRoutes(NewHandler(&MockStore{}, nil), nil, nil)
	rec := serve(t, router, "GET", "/api/v1/candidates")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestGetSnapshot(t *testing.T) {
	store := &MockStore{snapshots: []models.DrawdownSnapshot{{Symbol: "AAPL", DrawdownPct: decimal.NewFromFloat(-15.45)}}}
	router := SetupRoutes(NewHandler(store, nil), nil, nil)

	rec := serve(t, router, "GET", "/api/v1/snapshots/aapl")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.DrawdownSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "AAPL", got.Symbol)

	rec = serve(t, router, "GET", "/api/v1/snapshots/ZZZ")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, router, "GET", "/api/v1/snapshots")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxLimit, store.lastLimit)
}

func TestGetBars(t *testing.T) {
	store := &MockStore{}
	for i := 0; i < 5; i++ {
		store.bars = append(store.bars, models.Bar{
			Symbol: "AAPL", Date: runDate.AddDate(0, 0, -i), Close: decimal.NewFromInt(int64(100 + i)),
		})
	}
	handler := NewHandler(store, nil)
	handler.now = func() time.Time { return runDate.Add(15 * time.Hour) }
	router := SetupRoutes(handler, nil, nil)

	rec := serve(t, router, "GET", "/api/v1/bars/aapl?from=2025-11-01&to=2025-11-03")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []models.Bar
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "AAPL", got[0].Symbol)

	rec = serve(t, router, "GET", "/api/v1/bars/AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, runDate.Equal(store.lastRange[1]))
	assert.True(t, runDate.AddDate(0, 0, -defaultBarsDays).Equal(store.lastRange[0]))

	rec = serve(t, router, "GET", "/api/v1/bars/ZZZ")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	assert.Equal(t, http.StatusBadRequest, serve(t, router, "GET", "/api/v1/bars/AAPL?from=11/01/2025").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, router, "GET", "/api/v1/bars/AAPL?from=2025-11-04&to=2025-11-01").Code)
}

func TestGetPortfolio_StoreError(t *testing.T) {
	router := SetupRoutes(NewHandler(&MockStore{err: errors.New("connection refused")}, nil), nil, nil)
	rec := serve(t, router, "GET", "/api/v1/portfolio")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestGetLatestRun(t *testing.T) {
	store := &MockStore{}
	router := SetupRoutes(NewHandler(store, nil), nil, nil)

	rec := serve(t, router, "GET", "/api/v1/runs/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store.run = models.NewRunReport("run-1", runDate, runDate)
	store.run.Status = models.RunStatusSucceeded
	rec = serve(t, router, "GET", "/api/v1/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"succeeded"`)
}

func TestTriggerRun(t *testing.T) {
	router := SetupRoutes(NewHandler(&MockStore{}, nil), nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, router, "POST", "/api/v1/runs").Code)

	trigger := &mockTrigger{}
	router = SetupRoutes(NewHandler(&MockStore{}, trigger), nil, nil)
	assert.Equal(t, http.StatusAccepted, serve(t, router, "POST", "/api/v1/runs").Code)

	trigger.err = scheduler.ErrBusy
	assert.Equal(t, http.StatusConflict, serve(t, router, "POST", "/api/v1/runs").Code)
	assert.Equal(t, 2, trigger.calls)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, router, "DELETE", "/api/v1/runs").Code)
}

func TestListRuns(t *testing.T) {
	store := &MockStore{}
	router := SetupRoutes(NewHandler(store, nil), nil, nil)

	rec := serve(t, router, "GET", "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, 20, store.lastLimit)

	store.run = models.NewRunReport("run-7", runDate, runDate)
	rec = serve(t, router, "GET", "/api/v1/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.lastLimit)
	var got []models.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "run-7", got[0].ID)
}

func TestHealthCheck(t *testing.T) {
	store := &MockStore{bars: []models.Bar{
		{Symbol: "AAA", Date: runDate}, {Symbol: "AAA", Date: runDate.AddDate(0, 0, -1)}, {Symbol: "BBB", Date: runDate},
	}}
	trigger := &mockTrigger{running: true}
	router := SetupRoutes(NewHandler(store, trigger), nil, nil)

	rec := serve(t, router, "GET", "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["run_in_progress"])
	assert.Equal(t, float64(3), body["stored_bars"])
	assert.Equal(t, float64(2), body["stored_symbols"])

	store.countErr = errors.New("timeout")
	rec = serve(t, router, "GET", "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "stored_bars")

	store.pingErr = errors.New("db down")
	rec = serve(t, router, "GET", "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestOptionalRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("metrics")) })
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	router := SetupRoutes(NewHandler(&MockStore{}, nil), metrics, webhook)
	rec := serve(t, router, "GET", "/metrics")
	assert.Equal(t, "metrics", rec.Body.String())
	assert.Equal(t, http.StatusOK, serve(t, router, "POST", "/telegram/webhook").Code)

	router = SetupRoutes(NewHandler(&MockStore{}, nil), nil, nil)
	assert.Equal(t, http.StatusNotFound, serve(t, router, "GET", "/metrics").Code)
}
