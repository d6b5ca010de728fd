// Package secrets resolves vendor credentials from a secret store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Secret names as laid out in the parameter store
const (
	AlpacaAPIKey     = "/screener/alpaca/api_key"
	AlpacaSecretKey  = "/screener/alpaca/secret_key"
	AlpacaBaseURL    = "/screener/alpaca/base_url"
	PolygonAPIKey    = "/screener/polygon/api_key"
	TelegramBotToken = "/screener/telegram/bot_token"
)

// DefaultAlpacaBaseURL is the paper trading endpoint
const DefaultAlpacaBaseURL = "https://paper-api.alpaca.markets"

var ErrSecretNotFound = errors.New("secret not found")

// Provider fetches a secret value by name
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvProvider reads secrets from environment variables. A name such as
// /screener/alpaca/api_key maps to SCREENER_ALPACA_API_KEY.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider returns a provider backed by the process environment
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// GetSecret implements Provider
func (p *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	key := EnvName(name)
	if v, ok := p.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	return "", fmt.Errorf("%w: %s (env %s)", ErrSecretNotFound, name, key)
}

// EnvName converts a secret path to its environment variable name
func EnvName(name string) string {
	name = strings.Trim(name, "/")
	name = strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name)
	return strings.ToUpper(name)
}

// StaticProvider serves secrets from a fixed map
type StaticProvider map[string]string

// GetSecret implements Provider
func (p StaticProvider) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := p[name]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// Chain tries each provider in order and returns the first hit
type Chain []Provider

// GetSecret implements Provider
func (c Chain) GetSecret(ctx context.Context, name string) (string, error) {
	var lastErr error
	for _, p := range c {
		v, err := p.GetSecret(ctx, name)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return "", lastErr
}

// Credentials is the resolved set of vendor secrets for one run
type Credentials struct {
	AlpacaKeyID      string
	AlpacaSecretKey  string
	AlpacaBaseURL    string
	PolygonAPIKey    string
	TelegramBotToken string
}

// Requirements lists which credentials a run cannot proceed without
type Requirements struct {
	Alpaca   bool
	Polygon  bool
	Telegram bool
}

// Resolve fetches all credentials once. A missing required secret fails the
// whole resolution; optional ones are left empty.
func Resolve(ctx context.Context, p Provider, req Requirements) (*Credentials, error) {
	creds := &Credentials{}

	fields := []struct {
		name     string
		dst      *string
		required bool
	}{
		{AlpacaAPIKey, &creds.AlpacaKeyID, req.Alpaca},
		{AlpacaSecretKey, &creds.AlpacaSecretKey, req.Alpaca},
		{AlpacaBaseURL, &creds.AlpacaBaseURL, false},
		{PolygonAPIKey, &creds.PolygonAPIKey, req.Polygon},
		{TelegramBotToken, &creds.TelegramBotToken, req.Telegram},
	}

	for _, f := range fields {
		v, err := p.GetSecret(ctx, f.name)
		if err != nil {
			if f.required {
				return nil, fmt.Errorf("failed to resolve secret %s: %w", f.name, err)
			}
			continue
		}
		*f.dst = v
	}

	if creds.AlpacaBaseURL == "" {
		creds.AlpacaBaseURL = DefaultAlpacaBaseURL
	}
	creds.AlpacaBaseURL = strings.TrimRight(creds.AlpacaBaseURL, "/")
	return creds, nil
}

// HasAlpaca reports whether trading API keys are present
func (c *Credentials) HasAlpaca() bool {
	return c.AlpacaKeyID != "" && c.AlpacaSecretKey != ""
}

// Redact masks a secret for logging, keeping the last four characters
func Redact(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
