// Package marketdata fetches daily bars from market data vendors and
// normalizes them into models.Bar.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/trogers1052/drawdown-screener/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the per-request HTTP timeout
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is requests per second, under Alpaca's 200 req/min
	DefaultRateLimit = 2.5

	// DefaultAdjustment adjusts bars for splits and dividends so a split
	// does not read as a drawdown
	DefaultAdjustment = "all"
)

// Fetcher retrieves daily bars for a batch of symbols. Symbols the vendor
// has no data for are absent from the result map or map to no bars.
// Per-symbol failures come back as a BatchError next to the served bars.
type Fetcher interface {
	FetchBars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]models.Bar, error)
}

// ClientOption configures a vendor client
type ClientOption func(*httpClient)

// WithBaseURL sets a custom base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *httpClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *httpClient) {
		c.client = client
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *httpClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithRateLimit sets the request pacing in requests per second
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *httpClient) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
		}
	}
}

// WithAdjustment selects the corporate action adjustment of the bars:
// raw, split, dividend or all. Polygon only distinguishes raw from adjusted.
func WithAdjustment(adjustment string) ClientOption {
	return func(c *httpClient) {
		if adjustment != "" {
			c.adjustment = adjustment
		}
	}
}

// httpClient holds the transport shared by the vendor clients
type httpClient struct {
	name       string
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	headers    http.Header
	adjustment string
}

func newHTTPClient(name, baseURL string, opts []ClientOption) *httpClient {
	c := &httpClient{
		name:       name,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		headers:    make(http.Header),
		adjustment: DefaultAdjustment,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getJSON issues a paced GET and decodes a 200 response into result
func (c *httpClient) getJSON(ctx context.Context, path, rawQuery string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.baseURL + path
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("vendor", c.name).Str("path", path).Msg("market data request")

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return &RateLimitError{RetryAfter: retryAfter(resp.Header)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
