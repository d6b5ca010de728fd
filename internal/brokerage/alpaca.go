// Package brokerage reads live positions and the account summary from the
// Alpaca trading API. It never places orders.
package brokerage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

// DefaultTimeout is the per-request timeout for the trading API
const DefaultTimeout = 10 * time.Second

// ErrUnavailable is returned while the breaker rejects calls
var ErrUnavailable = errors.New("brokerage unavailable")

// Client is the read-only portfolio feed
type Client interface {
	ListPositions(ctx context.Context) ([]models.PortfolioPosition, error)
	GetAccount(ctx context.Context) (*models.Account, error)
}

// APIError is a non-200 response from the trading API
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brokerage API error %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// AlpacaClient talks to /v2/positions and /v2/account
type AlpacaClient struct {
	baseURL   string
	keyID     string
	secretKey string
	client    *http.Client
	cb        *gobreaker.CircuitBreaker
	now       func() time.Time
}

// Option configures an AlpacaClient
type Option func(*AlpacaClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(a *AlpacaClient) {
		a.client = c
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(a *AlpacaClient) {
		if d > 0 {
			a.client.Timeout = d
		}
	}
}

// WithClock overrides the snapshot date source
func WithClock(now func() time.Time) Option {
	return func(a *AlpacaClient) {
		a.now = now
	}
}

// NewAlpacaClient creates a trading API client. baseURL is the paper or live
// trading endpoint.
func NewAlpacaClient(baseURL, keyID, secretKey string, opts ...Option) *AlpacaClient {
	a := &AlpacaClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		secretKey: secretKey,
		client:    &http.Client{Timeout: DefaultTimeout},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alpaca-trading",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("brokerage circuit breaker state changed")
		},
	})
	return a
}

type alpacaPosition struct {
	Symbol        string              `json:"symbol"`
	Qty           decimal.Decimal     `json:"qty"`
	AvgEntryPrice decimal.Decimal     `json:"avg_entry_price"`
	CurrentPrice  decimal.NullDecimal `json:"current_price"`
	MarketValue   decimal.NullDecimal `json:"market_value"`
	UnrealizedPL  decimal.NullDecimal `json:"unrealized_pl"`
}

type alpacaAccount struct {
	Status      string          `json:"status"`
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	Cash        decimal.Decimal `json:"cash"`
}

// ListPositions returns the open positions sorted by symbol. A position
// without a current price is valued at its entry price.
func (a *AlpacaClient) ListPositions(ctx context.Context) ([]models.PortfolioPosition, error) {
	var raw []alpacaPosition
	if err := a.get(ctx, "/v2/positions", &raw); err != nil {
		return nil, err
	}

	date := models.TradeDate(a.now().UTC())
	positions := make([]models.PortfolioPosition, 0, len(raw))
	for _, p := range raw {
		current := p.AvgEntryPrice
		if p.CurrentPrice.Valid {
			current = p.CurrentPrice.Decimal
		}
		marketValue := current.Mul(p.Qty)
		if p.MarketValue.Valid {
			marketValue = p.MarketValue.Decimal
		}
		pl := current.Sub(p.AvgEntryPrice).Mul(p.Qty)
		if p.UnrealizedPL.Valid {
			pl = p.UnrealizedPL.Decimal
		}
		positions = append(positions, models.PortfolioPosition{
			SnapshotDate:        date,
			Symbol:              strings.ToUpper(p.Symbol),
			Quantity:            p.Qty,
			AvgEntryPrice:       p.AvgEntryPrice,
			CurrentPrice:        current,
			MarketValue:         marketValue,
			UnrealizedPL:        pl,
			UnrealizedReturnPct: models.ReturnPct(p.AvgEntryPrice, current),
		})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, nil
}

// GetAccount returns the live account summary
func (a *AlpacaClient) GetAccount(ctx context.Context) (*models.Account, error) {
	var raw alpacaAccount
	if err := a.get(ctx, "/v2/account", &raw); err != nil {
		return nil, err
	}
	return &models.Account{
		Status:      raw.Status,
		Equity:      raw.Equity,
		BuyingPower: raw.BuyingPower,
		Cash:        raw.Cash,
	}, nil
}

func (a *AlpacaClient) get(ctx context.Context, path string, result interface{}) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		return nil, a.do(ctx, path, result)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (a *AlpacaClient) do(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", a.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", a.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: string(body), Endpoint: path}
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
