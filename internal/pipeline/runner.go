// Package pipeline runs one drawdown screening pass over the universe:
// fetch bars in rate-limited batches, merge them into the stored series,
// compute and rank drawdowns, and persist the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/drawdown-screener/internal/brokerage"
	"github.com/trogers1052/drawdown-screener/internal/drawdown"
	"github.com/trogers1052/drawdown-screener/internal/lock"
	"github.com/trogers1052/drawdown-screener/internal/marketdata"
	"github.com/trogers1052/drawdown-screener/internal/metrics"
	"github.com/trogers1052/drawdown-screener/internal/models"
	"github.com/trogers1052/drawdown-screener/internal/secrets"
	"github.com/trogers1052/drawdown-screener/internal/universe"
)

// ErrRunInProgress is returned when another run holds the run lock
var ErrRunInProgress = errors.New("a screening run is already in progress")

// persistTimeout bounds the final run report write after cancellation
const persistTimeout = 10 * time.Second

var profitTarget = decimal.NewFromInt(brokerage.ProfitTargetPct)

// Store is the slice of the reporting store a run writes to
type Store interface {
	GetSeries(ctx context.Context, symbol string) ([]models.Bar, error)
	UpsertBars(ctx context.Context, bars []models.Bar) error
	ReplaceSnapshots(ctx context.Context, runDate time.Time, snapshots []models.DrawdownSnapshot) error
	ReplaceCandidates(ctx context.Context, runDate time.Time, candidates []models.RankedCandidate) error
	ReplacePortfolioSnapshot(ctx context.Context, date time.Time, positions []models.PortfolioPosition) error
	SaveRun(ctx context.Context, r *models.RunReport) error
}

// Publisher announces finished runs
type Publisher interface {
	PublishRunCompleted(ctx context.Context, report *models.RunReport) error
	PublishCandidatesUpdated(ctx context.Context, runID string, runDate time.Time, candidates []models.RankedCandidate) error
}

// Options tunes a run
type Options struct {
	Vendor           string
	BatchSize        int
	TopN             int
	HistoryDays      int
	RateLimitBackoff time.Duration
	MinObservations  int
	LookbackDays     int
}

// Deps are the collaborators of a Runner. Locker, Publisher, Metrics and
// NewPortfolio are optional.
type Deps struct {
	Universe     *universe.Universe
	Store        Store
	Secrets      secrets.Provider
	Requirements secrets.Requirements
	NewFetcher   FetcherFactory
	NewPortfolio PortfolioFactory
	Locker       lock.Locker
	Publisher    Publisher
	Metrics      *metrics.Registry
}

// Request parameterizes a single run
type Request struct {
	// RunDate defaults to today (UTC)
	RunDate time.Time
	// BackfillDays widens the fetch window beyond the configured history
	BackfillDays int
}

// Runner executes screening runs
type Runner struct {
	deps  Deps
	opts  Options
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewRunner creates a Runner
func NewRunner(deps Deps, opts Options) *Runner {
	if deps.Locker == nil {
		deps.Locker = lock.Noop{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.TopN <= 0 {
		opts.TopN = drawdown.DefaultTopN
	}
	if opts.RateLimitBackoff <= 0 {
		opts.RateLimitBackoff = 30 * time.Second
	}
	if opts.MinObservations <= 0 {
		opts.MinObservations = drawdown.DefaultMinObservations
	}
	return &Runner{
		deps:  deps,
		opts:  opts,
		now:   time.Now,
		sleep: sleepCtx,
		newID: uuid.NewString,
	}
}

// Run executes one screening pass. The returned report is non-nil whenever
// the run got past the lock, including failed runs.
func (r *Runner) Run(ctx context.Context, req Request) (*models.RunReport, error) {
	started := r.now().UTC()
	runDate := models.TradeDate(req.RunDate)
	if req.RunDate.IsZero() {
		runDate = models.TradeDate(started)
	}
	report := models.NewRunReport(r.newID(), runDate, started)
	report.UniverseSize = r.deps.Universe.Len()

	logger := log.With().Str("run_id", report.ID).Str("run_date", models.DateKey(runDate)).Logger()

	lease, err := r.deps.Locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			logger.Warn().Msg("run lock held elsewhere, skipping run")
			return nil, ErrRunInProgress
		}
		lockErr := fmt.Errorf("failed to acquire run lock: %w", err)
		r.finish(report, lockErr)
		r.record(ctx, report, nil)
		return report, lockErr
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("failed to release run lock")
		}
	}()

	if m := r.deps.Metrics; m != nil {
		m.RunInProgress.Set(1)
		defer m.RunInProgress.Set(0)
	}

	logger.Info().Int("universe", report.UniverseSize).Int("backfill_days", req.BackfillDays).Msg("starting screening run")

	candidates, runErr := r.execute(ctx, report, req)
	r.finish(report, runErr)
	r.record(ctx, report, candidates)

	ev := logger.Info()
	if report.Status == models.RunStatusFailed {
		ev = logger.Error().Str("error", report.Error)
	}
	ev.Str("status", string(report.Status)).
		Int("succeeded", report.Succeeded).
		Int("skipped", report.TotalSkipped()).
		Int("failed", report.Failed).
		Int("rate_limit_pauses", report.RateLimitPauses).
		Str("best_candidate", report.BestCandidate).
		Dur("duration", report.Duration()).
		Msg("screening run finished")

	return report, runErr
}

// record persists the report, publishes events and updates metrics. It runs
// detached from ctx so a cancelled run still leaves a row behind.
func (r *Runner) record(ctx context.Context, report *models.RunReport, candidates []models.RankedCandidate) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.deps.Store.SaveRun(persistCtx, report); err != nil {
		log.Error().Err(err).Str("run_id", report.ID).Msg("failed to record run report")
	}
	r.publish(persistCtx, report, candidates)
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveRun(report)
	}
}

func (r *Runner) execute(ctx context.Context, report *models.RunReport, req Request) ([]models.RankedCandidate, error) {
	creds, err := secrets.Resolve(ctx, r.deps.Secrets, r.deps.Requirements)
	if err != nil {
		return nil, err
	}
	fetcher, err := r.deps.NewFetcher(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to build market data client: %w", err)
	}

	results, err := r.collect(ctx, fetcher, report, req)
	if err != nil {
		return nil, err
	}

	ranked := drawdown.Rank(drawdown.Snapshots(results))
	report.Ranked = len(ranked)

	var candidates []models.RankedCandidate
	if len(ranked) > 0 {
		if err := r.deps.Store.ReplaceSnapshots(ctx, report.RunDate, ranked); err != nil {
			return nil, err
		}
		candidates = drawdown.Top(ranked, r.opts.TopN)
		if err := r.deps.Store.ReplaceCandidates(ctx, report.RunDate, candidates); err != nil {
			return nil, err
		}
		report.CandidatesWritten = len(candidates)
		worst := ranked[0].DrawdownPct
		report.WorstDrawdownPct = &worst
		report.BestCandidate = ranked[0].Symbol
	} else {
		log.Warn().Str("run_id", report.ID).Msg("no snapshots produced, keeping previous candidates")
	}

	r.snapshotPortfolio(ctx, creds, report)
	return candidates, nil
}

// collect walks the universe batch by batch. Symbols a fetch settled are
// processed at once. A rate limit pauses and retries the symbols of the batch
// still unsettled; any other error fails those symbols.
func (r *Runner) collect(ctx context.Context, fetcher marketdata.Fetcher, report *models.RunReport, req Request) ([]models.SymbolResult, error) {
	historyDays := r.opts.HistoryDays
	if req.BackfillDays > historyDays {
		historyDays = req.BackfillDays
	}
	end := report.RunDate
	start := end.AddDate(0, 0, -historyDays)

	computeOpts := drawdown.Options{
		MinObservations: r.opts.MinObservations,
		LookbackDays:    r.opts.LookbackDays,
		RunDate:         report.RunDate,
		ComputedAt:      report.StartedAt,
	}

	batches := r.deps.Universe.Batches(r.opts.BatchSize)
	results := make([]models.SymbolResult, 0, report.UniverseSize)
	add := func(res models.SymbolResult) {
		if !res.OK() {
			log.Debug().Str("symbol", res.Symbol).Str("reason", string(res.Skip)).Str("detail", res.Detail).Msg("symbol skipped")
		}
		report.Record(res)
		results = append(results, res)
	}

	for i := 0; i < len(batches); {
		pending := batches[i]
		for len(pending) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("run interrupted in batch %d of %d: %w", i+1, len(batches), err)
			}

			fetchStart := r.now()
			bars, err := fetcher.FetchBars(ctx, pending, start, end)
			r.observeBatch(err, r.now().Sub(fetchStart))

			failed := map[string]error{}
			cause := err
			if be, ok := marketdata.IsBatchError(err); ok {
				failed = be.Failed
				cause = be.Cause
			}

			var unsettled []string
			for _, symbol := range pending {
				if incoming, ok := bars[symbol]; ok {
					if len(incoming) == 0 {
						add(models.SymbolResult{Symbol: symbol, Skip: models.SkipNoData, Detail: "no bars returned by vendor"})
						continue
					}
					report.Fetched++
					add(r.processSymbol(ctx, symbol, incoming, report, computeOpts))
					continue
				}
				if symErr, ok := failed[symbol]; ok {
					reason := marketdata.SkipReason(symErr)
					log.Warn().Err(symErr).Str("symbol", symbol).Str("reason", string(reason)).Msg("symbol fetch failed")
					add(models.SymbolResult{Symbol: symbol, Skip: reason, Detail: symErr.Error()})
					continue
				}
				unsettled = append(unsettled, symbol)
			}

			if rl, ok := marketdata.IsRateLimit(cause); ok {
				pause := rl.RetryAfter
				if pause <= 0 {
					pause = r.opts.RateLimitBackoff
				}
				report.RateLimitPauses++
				log.Warn().Int("batch", i+1).Int("remaining", len(unsettled)).Dur("pause", pause).
					Msg("rate limited, pausing before resuming batch")
				if err := r.sleep(ctx, pause); err != nil {
					return nil, fmt.Errorf("run interrupted during rate limit pause: %w", err)
				}
				pending = unsettled
				continue
			}

			if cause != nil && len(unsettled) > 0 {
				reason := marketdata.SkipReason(cause)
				log.Error().Err(cause).Int("batch", i+1).Str("reason", string(reason)).
					Int("symbols", len(unsettled)).Msg("batch fetch failed")
				for _, symbol := range unsettled {
					add(models.SymbolResult{Symbol: symbol, Skip: reason, Detail: cause.Error()})
				}
			} else {
				for _, symbol := range unsettled {
					add(models.SymbolResult{Symbol: symbol, Skip: models.SkipNoData, Detail: "no bars returned by vendor"})
				}
			}
			pending = nil
		}
		log.Debug().Int("batch", i+1).Int("of", len(batches)).Msg("batch processed")
		i++
	}
	return results, nil
}

// processSymbol merges fresh bars into the stored series, persists the
// changed bars and evaluates the drawdown.
func (r *Runner) processSymbol(ctx context.Context, symbol string, incoming []models.Bar, report *models.RunReport, opts drawdown.Options) models.SymbolResult {
	existing, err := r.deps.Store.GetSeries(ctx, symbol)
	if err != nil {
		return models.SymbolResult{Symbol: symbol, Skip: models.SkipStoreError, Detail: err.Error()}
	}

	merged := drawdown.Merge(existing, incoming, drawdown.MergeOptions{Symbol: symbol})
	for _, rej := range merged.Rejected {
		log.Warn().Str("symbol", symbol).Str("date", models.DateKey(rej.Bar.Date)).
			Str("reason", rej.Reason).Msg("rejected incoming bar")
	}
	report.BarsRejected += len(merged.Rejected)

	if len(merged.Series) == 0 && len(merged.Rejected) > 0 {
		return models.SymbolResult{
			Symbol: symbol,
			Skip:   models.SkipInvalidBars,
			Detail: fmt.Sprintf("all %d incoming bars rejected", len(merged.Rejected)),
		}
	}

	if merged.Changed() {
		if err := r.deps.Store.UpsertBars(ctx, merged.Changes); err != nil {
			return models.SymbolResult{Symbol: symbol, Skip: models.SkipStoreError, Detail: err.Error()}
		}
	}

	return drawdown.Evaluate(symbol, merged.Series, opts)
}

// snapshotPortfolio records the live positions. Brokerage failures are
// logged and never fail the run.
func (r *Runner) snapshotPortfolio(ctx context.Context, creds *secrets.Credentials, report *models.RunReport) {
	if r.deps.NewPortfolio == nil {
		return
	}
	client := r.deps.NewPortfolio(creds)
	if client == nil {
		return
	}

	positions, err := client.ListPositions(ctx)
	if err != nil {
		log.Warn().Err(err).Str("run_id", report.ID).Msg("failed to fetch portfolio positions")
		return
	}
	if err := r.deps.Store.ReplacePortfolioSnapshot(ctx, report.RunDate, positions); err != nil {
		log.Warn().Err(err).Str("run_id", report.ID).Msg("failed to store portfolio snapshot")
		return
	}
	report.PortfolioPositions = len(positions)

	check := brokerage.EvaluateProfitTarget(positions, brokerage.ProfitTargetPositions, profitTarget)
	if check.Reached {
		log.Info().Str("average_pct", check.AveragePct.StringFixed(2)).Msg("portfolio profit target reached")
	}
}

func (r *Runner) finish(report *models.RunReport, runErr error) {
	report.FinishedAt = r.now().UTC()
	switch {
	case runErr != nil:
		report.Status = models.RunStatusFailed
		report.Error = runErr.Error()
	case report.UniverseSize > 0 && report.Failed == report.UniverseSize:
		report.Status = models.RunStatusFailed
		report.Error = "every batch failed"
	case report.Failed > 0:
		report.Status = models.RunStatusPartial
	default:
		report.Status = models.RunStatusSucceeded
	}
}

func (r *Runner) publish(ctx context.Context, report *models.RunReport, candidates []models.RankedCandidate) {
	if r.deps.Publisher == nil {
		return
	}
	if err := r.deps.Publisher.PublishRunCompleted(ctx, report); err != nil {
		log.Warn().Err(err).Str("run_id", report.ID).Msg("failed to publish run event")
	}
	if len(candidates) == 0 {
		return
	}
	if err := r.deps.Publisher.PublishCandidatesUpdated(ctx, report.ID, report.RunDate, candidates); err != nil {
		log.Warn().Err(err).Str("run_id", report.ID).Msg("failed to publish candidates event")
	}
}

func (r *Runner) observeBatch(err error, d time.Duration) {
	if r.deps.Metrics == nil {
		return
	}
	result := "ok"
	if _, ok := marketdata.IsRateLimit(err); ok {
		result = "rate_limited"
	} else if be, ok := marketdata.IsBatchError(err); ok && be.Cause == nil {
		result = "partial"
	} else if err != nil {
		result = string(marketdata.SkipReason(err))
	}
	r.deps.Metrics.ObserveBatch(r.opts.Vendor, result, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
