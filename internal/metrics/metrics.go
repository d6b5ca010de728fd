// Package metrics exposes Prometheus instrumentation for pipeline runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

// Registry holds the screener metrics on a private registry
type Registry struct {
	reg *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	SymbolsTotal     *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
	RateLimitPauses  prometheus.Counter
	BarsRejected     prometheus.Counter
	WorstDrawdown    prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
	RunInProgress    prometheus.Gauge
}

// NewRegistry creates and registers all screener metrics
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screener_runs_total",
				Help: "Pipeline runs by terminal status",
			},
			[]string{"status"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "screener_run_duration_seconds",
				Help:    "Wall-clock duration of a pipeline run",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
		),

		SymbolsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screener_symbols_total",
				Help: "Symbols processed by outcome (ok or skip reason)",
			},
			[]string{"outcome"},
		),

		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "screener_batch_fetch_duration_seconds",
				Help:    "Duration of one vendor batch fetch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"vendor", "result"},
		),

		RateLimitPauses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "screener_rate_limit_pauses_total",
				Help: "Pauses taken after a vendor rate limit response",
			},
		),

		BarsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "screener_bars_rejected_total",
				Help: "Incoming bars rejected by validation",
			},
		),

		WorstDrawdown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "screener_worst_drawdown_pct",
				Help: "Deepest drawdown in the latest successful run",
			},
		),

		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "screener_last_run_timestamp_seconds",
				Help: "Unix time the latest run finished",
			},
		),

		RunInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "screener_run_in_progress",
				Help: "1 while a pipeline run is executing",
			},
		),
	}

	r.reg.MustRegister(
		r.RunsTotal, r.RunDuration, r.SymbolsTotal, r.BatchDuration, r.RateLimitPauses,
		r.BarsRejected, r.WorstDrawdown, r.LastRunTimestamp, r.RunInProgress,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveBatch records one batch fetch
func (r *Registry) ObserveBatch(vendor, result string, d time.Duration) {
	r.BatchDuration.WithLabelValues(vendor, result).Observe(d.Seconds())
}

// ObserveRun folds a finished run report into the metrics
func (r *Registry) ObserveRun(report *models.RunReport) {
	r.RunsTotal.WithLabelValues(string(report.Status)).Inc()
	if d := report.Duration(); d > 0 {
		r.RunDuration.Observe(d.Seconds())
	}
	if report.Succeeded > 0 {
		r.SymbolsTotal.WithLabelValues("ok").Add(float64(report.Succeeded))
	}
	for reason, n := range report.Skipped {
		r.SymbolsTotal.WithLabelValues(string(reason)).Add(float64(n))
	}
	r.RateLimitPauses.Add(float64(report.RateLimitPauses))
	r.BarsRejected.Add(float64(report.BarsRejected))
	if report.WorstDrawdownPct != nil {
		r.WorstDrawdown.Set(report.WorstDrawdownPct.InexactFloat64())
	}
	if !report.FinishedAt.IsZero() {
		r.LastRunTimestamp.Set(float64(report.FinishedAt.Unix()))
	}
}
