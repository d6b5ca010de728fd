package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

var (
	// ErrTimeout is returned when a vendor request exceeds its deadline
	ErrTimeout = errors.New("market data request timed out")
	// ErrCircuitOpen is returned while the vendor breaker rejects calls
	ErrCircuitOpen = errors.New("market data circuit open")
)

// APIError represents an error-class response from a vendor
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("market data API error %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// NotFound reports whether the vendor does not know the requested resource
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// RateLimitError is returned on HTTP 429. RetryAfter is zero when the vendor
// did not say how long to wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// IsRateLimit reports whether err carries a RateLimitError
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// BatchError reports symbols that failed inside a batch whose other symbols
// were served. Cause is set when the batch stopped early, for example on a
// rate limit; symbols neither served nor in Failed were not attempted.
type BatchError struct {
	Failed map[string]error
	Served int
	Cause  error
}

func (e *BatchError) Error() string {
	msg := fmt.Sprintf("%d of %d symbols failed", len(e.Failed), len(e.Failed)+e.Served)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BatchError) Unwrap() error {
	return e.Cause
}

// IsBatchError reports whether err carries a BatchError
func IsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// batchResult folds per-symbol failures and an early stop into one error
func batchResult(failed map[string]error, served int, cause error) error {
	if len(failed) == 0 {
		return cause
	}
	return &BatchError{Failed: failed, Served: served, Cause: cause}
}

// SkipReason classifies a batch-level fetch error for the run report
func SkipReason(err error) models.SkipReason {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return models.SkipTimeout
	case errors.Is(err, ErrCircuitOpen):
		return models.SkipCircuitOpen
	}
	return models.SkipVendorError
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// transportError normalizes client.Do failures so timeouts are recognizable
func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("failed to execute request: %w", err)
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}
