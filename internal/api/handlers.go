package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/trogers1052/drawdown-screener/internal/database"
	"github.com/trogers1052/drawdown-screener/internal/models"
	"github.com/trogers1052/drawdown-screener/internal/scheduler"
)

const (
	defaultLimit    = 10
	maxLimit        = 1000
	defaultBarsDays = 180
)

// Store is the read side of the reporting store
type Store interface {
	Ping(ctx context.Context) error
	GetLatestCandidates(ctx context.Context, limit int) ([]models.RankedCandidate, error)
	GetSnapshots(ctx context.Context, limit int) ([]models.DrawdownSnapshot, error)
	GetLatestSnapshot(ctx context.Context, symbol string) (*models.DrawdownSnapshot, error)
	GetLatestPortfolio(ctx context.Context) ([]models.PortfolioPosition, error)
	GetLatestRun(ctx context.Context) (*models.RunReport, error)
	ListRuns(ctx context.Context, limit int) ([]models.RunReport, error)
	GetSeriesRange(ctx context.Context, symbol string, startDate, endDate time.Time) ([]models.Bar, error)
	CountBars(ctx context.Context) (bars int64, symbols int64, err error)
}

// Trigger starts a screening run in the background
type Trigger interface {
	TriggerAsync() error
	Running() bool
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store   Store
	trigger Trigger
	now     func() time.Time
}

// NewHandler creates a new Handler. trigger may be nil.
func NewHandler(store Store, trigger Trigger) *Handler {
	return &Handler{
		store:   store,
		trigger: trigger,
		now:     time.Now,
	}
}

// GetCandidates handles GET /candidates
func (h *Handler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidates, err := h.store.GetLatestCandidates(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if candidates == nil {
		candidates = []models.RankedCandidate{}
	}

	respondJSON(w, http.StatusOK, candidates)
}

// GetSnapshots handles GET /snapshots
func (h *Handler) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, maxLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshots, err := h.store.GetSnapshots(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snapshots == nil {
		snapshots = []models.DrawdownSnapshot{}
	}

	respondJSON(w, http.StatusOK, snapshots)
}

// GetSnapshot handles GET /snapshots/{symbol}
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := strings.ToUpper(vars["symbol"])

	snapshot, err := h.store.GetLatestSnapshot(r.Context(), symbol)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}

// GetBars handles GET /bars/{symbol}. from and to are YYYY-MM-DD and default
// to the last 180 days.
func (h *Handler) GetBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	to := models.TradeDate(h.now().UTC())
	from := to.AddDate(0, 0, -defaultBarsDays)
	var err error
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse("2006-01-02", v); err != nil {
			respondError(w, http.StatusBadRequest, "to must be a YYYY-MM-DD date")
			return
		}
		from = to.AddDate(0, 0, -defaultBarsDays)
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			respondError(w, http.StatusBadRequest, "from must be a YYYY-MM-DD date")
			return
		}
	}
	if from.After(to) {
		respondError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	bars, err := h.store.GetSeriesRange(r.Context(), symbol, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if bars == nil {
		bars = []models.Bar{}
	}

	respondJSON(w, http.StatusOK, bars)
}

// GetPortfolio handles GET /portfolio
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	positions, err := h.store.GetLatestPortfolio(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if positions == nil {
		positions = []models.PortfolioPosition{}
	}

	respondJSON(w, http.StatusOK, positions)
}

// GetLatestRun handles GET /runs/latest
func (h *Handler) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetLatestRun(r.Context())
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// ListRuns handles GET /runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 20)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.RunReport{}
	}

	respondJSON(w, http.StatusOK, runs)
}

// TriggerRun handles POST /runs
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		respondError(w, http.StatusServiceUnavailable, "manual runs are not enabled")
		return
	}

	if err := h.trigger.TriggerAsync(); err != nil {
		if errors.Is(err, scheduler.ErrBusy) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("remote", r.RemoteAddr).Msg("screening run triggered over http")
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "healthy"}
	if h.trigger != nil {
		body["run_in_progress"] = h.trigger.Running()
	}

	if err := h.store.Ping(r.Context()); err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	if run, err := h.store.GetLatestRun(r.Context()); err == nil {
		body["last_run"] = map[string]interface{}{
			"id":       run.ID,
			"run_date": models.DateKey(run.RunDate),
			"status":   run.Status,
		}
	}

	if bars, symbols, err := h.store.CountBars(r.Context()); err == nil {
		body["stored_bars"] = bars
		body["stored_symbols"] = symbols
	} else {
		log.Warn().Err(err).Msg("failed to count stored bars")
	}

	respondJSON(w, http.StatusOK, body)
}

func parseLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
