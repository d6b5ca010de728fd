package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

// BreakerSettings tunes the vendor circuit breaker
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	Timeout             time.Duration
	OnStateChange       func(name string, from, to gobreaker.State)
}

// DefaultBreakerSettings trips after five consecutive failed batches and
// lets one batch through again after a minute.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:                name,
		ConsecutiveFailures: 5,
		Timeout:             time.Minute,
	}
}

// BreakerFetcher guards a Fetcher with a circuit breaker
type BreakerFetcher struct {
	next Fetcher
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerFetcher wraps next. Rate limits and not-found responses do not
// count as failures: the vendor is healthy, just busy or unaware of a symbol.
func NewBreakerFetcher(next Fetcher, s BreakerSettings) *BreakerFetcher {
	onChange := s.OnStateChange
	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("market data circuit breaker state changed")
			if onChange != nil {
				onChange(name, from, to)
			}
		},
		IsSuccessful: vendorHealthy,
	}
	return &BreakerFetcher{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// vendorHealthy decides whether a fetch outcome counts as a breaker success.
// A partly failed batch is healthy while the vendor still serves symbols.
func vendorHealthy(err error) bool {
	if err == nil {
		return true
	}
	if be, ok := IsBatchError(err); ok {
		if be.Cause != nil {
			return vendorHealthy(be.Cause)
		}
		return be.Served > 0
	}
	if _, ok := IsRateLimit(err); ok {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.NotFound() {
		return true
	}
	// the caller gave up, not the vendor
	return errors.Is(err, context.Canceled)
}

// FetchBars implements Fetcher. Partial results of a failed call are passed
// through with the error.
func (f *BreakerFetcher) FetchBars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]models.Bar, error) {
	res, err := f.cb.Execute(func() (interface{}, error) {
		return f.next.FetchBars(ctx, symbols, start, end)
	})
	bars, _ := res.(map[string][]models.Bar)
	if err != nil {
		return bars, breakerError(err)
	}
	return bars, nil
}

// State exposes the breaker state for health reporting
func (f *BreakerFetcher) State() gobreaker.State {
	return f.cb.State()
}
