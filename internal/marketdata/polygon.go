package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

// DefaultPolygonURL is the Polygon REST API
const DefaultPolygonURL = "https://api.polygon.io"

// PolygonClient fetches daily aggregates one symbol at a time
type PolygonClient struct {
	http   *httpClient
	apiKey string
}

// NewPolygonClient creates a client for the Polygon aggregates endpoint
func NewPolygonClient(apiKey string, opts ...ClientOption) *PolygonClient {
	return &PolygonClient{
		http:   newHTTPClient("polygon", DefaultPolygonURL, opts),
		apiKey: apiKey,
	}
}

type polygonAgg struct {
	Timestamp int64           `json:"t"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Close     decimal.Decimal `json:"c"`
	Volume    float64         `json:"v"`
	VWAP      decimal.Decimal `json:"vw"`
}

type polygonAggsResponse struct {
	Ticker       string       `json:"ticker"`
	Status       string       `json:"status"`
	ResultsCount int          `json:"resultsCount"`
	Results      []polygonAgg `json:"results"`
}

// FetchBars implements Fetcher. Every answered symbol has a key in the
// result, empty for unknown tickers. A failing symbol is reported in a
// BatchError and the rest of the batch is still fetched. On a rate limit the
// bars fetched so far are returned with the RateLimitError so the caller can
// resume from the throttled symbol.
func (c *PolygonClient) FetchBars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]models.Bar, error) {
	out := make(map[string][]models.Bar, len(symbols))
	failed := make(map[string]error)
	for _, symbol := range symbols {
		bars, err := c.fetchSymbol(ctx, symbol, start, end)
		if err == nil {
			out[symbol] = bars
			continue
		}

		var apiErr *APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.NotFound():
			log.Debug().Str("symbol", symbol).Msg("polygon has no aggregates for symbol")
			out[symbol] = nil
		case isRateLimited(err):
			return out, batchResult(failed, len(out), err)
		case ctx.Err() != nil:
			return out, batchResult(failed, len(out), ctx.Err())
		default:
			log.Warn().Err(err).Str("symbol", symbol).Msg("polygon aggregates request failed")
			failed[symbol] = err
		}
	}
	return out, batchResult(failed, len(out), nil)
}

func isRateLimited(err error) bool {
	_, ok := IsRateLimit(err)
	return ok
}

func (c *PolygonClient) fetchSymbol(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	symbol = strings.ToUpper(symbol)
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s",
		url.PathEscape(symbol), start.Format("2006-01-02"), end.Format("2006-01-02"))

	params := url.Values{}
	params.Set("adjusted", strconv.FormatBool(c.http.adjustment != "raw"))
	params.Set("sort", "asc")
	params.Set("limit", "50000")
	params.Set("apiKey", c.apiKey)

	var resp polygonAggsResponse
	if err := c.http.getJSON(ctx, path, params.Encode(), &resp); err != nil {
		return nil, err
	}

	bars := make([]models.Bar, 0, len(resp.Results))
	for _, a := range resp.Results {
		bars = append(bars, models.Bar{
			Symbol: symbol,
			Date:   models.TradeDate(time.UnixMilli(a.Timestamp).UTC()),
			Open:   a.Open,
			High:   a.High,
			Low:    a.Low,
			Close:  a.Close,
			Volume: int64(a.Volume),
			VWAP:   a.VWAP,
		})
	}
	return bars, nil
}
