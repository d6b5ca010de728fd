package pipeline

import (
	"fmt"

	"github.com/trogers1052/drawdown-screener/internal/brokerage"
	"github.com/trogers1052/drawdown-screener/internal/config"
	"github.com/trogers1052/drawdown-screener/internal/marketdata"
	"github.com/trogers1052/drawdown-screener/internal/secrets"
)

// FetcherFactory builds the bar vendor client from freshly resolved credentials
type FetcherFactory func(creds *secrets.Credentials) (marketdata.Fetcher, error)

// PortfolioFactory builds the brokerage client. It returns nil when the
// credentials do not allow a portfolio snapshot.
type PortfolioFactory func(creds *secrets.Credentials) brokerage.Client

// Requirements derives which secrets a run cannot proceed without
func Requirements(cfg *config.Config) secrets.Requirements {
	return secrets.Requirements{
		Alpaca:  cfg.MarketData.Provider == "alpaca" || cfg.Brokerage.Enabled,
		Polygon: cfg.MarketData.Provider == "polygon",
	}
}

// NewFetcherFactory returns a factory for the configured vendor. Every
// fetcher it builds sits behind its own circuit breaker.
func NewFetcherFactory(cfg config.MarketDataConfig) FetcherFactory {
	return func(creds *secrets.Credentials) (marketdata.Fetcher, error) {
		var f marketdata.Fetcher
		switch cfg.Provider {
		case "alpaca":
			if !creds.HasAlpaca() {
				return nil, fmt.Errorf("alpaca market data requires api key and secret")
			}
			f = marketdata.NewAlpacaClient(creds.AlpacaKeyID, creds.AlpacaSecretKey, cfg.Feed,
				marketdata.WithBaseURL(cfg.AlpacaDataURL),
				marketdata.WithTimeout(cfg.Timeout),
				marketdata.WithRateLimit(cfg.RequestsPerSecond),
				marketdata.WithAdjustment(cfg.Adjustment),
			)
		case "polygon":
			if creds.PolygonAPIKey == "" {
				return nil, fmt.Errorf("polygon market data requires an api key")
			}
			f = marketdata.NewPolygonClient(creds.PolygonAPIKey,
				marketdata.WithBaseURL(cfg.PolygonURL),
				marketdata.WithTimeout(cfg.Timeout),
				marketdata.WithRateLimit(cfg.RequestsPerSecond),
				marketdata.WithAdjustment(cfg.Adjustment),
			)
		default:
			return nil, fmt.Errorf("unknown market data provider %q", cfg.Provider)
		}
		return marketdata.NewBreakerFetcher(f, marketdata.DefaultBreakerSettings(cfg.Provider)), nil
	}
}

// NewPortfolioFactory returns a factory for the Alpaca trading API, or nil
// when the portfolio feed is disabled.
func NewPortfolioFactory(cfg config.BrokerageConfig) PortfolioFactory {
	if !cfg.Enabled {
		return nil
	}
	return func(creds *secrets.Credentials) brokerage.Client {
		if !creds.HasAlpaca() {
			return nil
		}
		return brokerage.NewAlpacaClient(creds.AlpacaBaseURL, creds.AlpacaKeyID, creds.AlpacaSecretKey,
			brokerage.WithTimeout(cfg.Timeout))
	}
}
