package marketdata

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

const (
	// DefaultAlpacaDataURL is the Alpaca market data API
	DefaultAlpacaDataURL = "https://data.alpaca.markets"

	alpacaBarsPath  = "/v2/stocks/bars"
	alpacaPageLimit = 10000
)

// AlpacaClient fetches multi-symbol daily bars from the Alpaca data API
type AlpacaClient struct {
	http *httpClient
	feed string
}

// NewAlpacaClient creates a client authenticated with an API key pair.
// feed selects the data feed ("iex" or "sip").
func NewAlpacaClient(keyID, secretKey, feed string, opts ...ClientOption) *AlpacaClient {
	c := newHTTPClient("alpaca", DefaultAlpacaDataURL, opts)
	c.headers.Set("APCA-API-KEY-ID", keyID)
	c.headers.Set("APCA-API-SECRET-KEY", secretKey)
	if feed == "" {
		feed = "iex"
	}
	return &AlpacaClient{http: c, feed: feed}
}

type alpacaBar struct {
	Timestamp time.Time       `json:"t"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Close     decimal.Decimal `json:"c"`
	Volume    int64           `json:"v"`
	VWAP      decimal.Decimal `json:"vw"`
}

type alpacaBarsResponse struct {
	Bars          map[string][]alpacaBar `json:"bars"`
	NextPageToken *string                `json:"next_page_token"`
}

// FetchBars implements Fetcher. Pages are followed until the vendor stops
// returning a next page token.
func (c *AlpacaClient) FetchBars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]models.Bar, error) {
	out := make(map[string][]models.Bar, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	params.Set("timeframe", "1Day")
	params.Set("start", start.Format("2006-01-02"))
	params.Set("end", end.Format("2006-01-02"))
	params.Set("adjustment", c.http.adjustment)
	params.Set("feed", c.feed)
	params.Set("limit", strconv.Itoa(alpacaPageLimit))

	for {
		var resp alpacaBarsResponse
		if err := c.http.getJSON(ctx, alpacaBarsPath, params.Encode(), &resp); err != nil {
			return nil, err
		}
		for symbol, bars := range resp.Bars {
			symbol = strings.ToUpper(symbol)
			for _, b := range bars {
				out[symbol] = append(out[symbol], models.Bar{
					Symbol: symbol,
					Date:   models.TradeDate(b.Timestamp),
					Open:   b.Open,
					High:   b.High,
					Low:    b.Low,
					Close:  b.Close,
					Volume: b.Volume,
					VWAP:   b.VWAP,
				})
			}
		}
		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		params.Set("page_token", *resp.NextPageToken)
	}
	return out, nil
}
