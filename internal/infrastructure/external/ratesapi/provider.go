package ratesapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout  = 3 * time.Second
	maxResponseSize = 1 << 20
)

// Config holds rate provider configuration
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Provider implements port.RateProvider against an exchangerate-api style endpoint:
// GET {BaseURL}/{BASE} -> {"base": "USD", "rates": {"EUR": 0.92, ...}}
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// ratesResponse is the upstream payload
type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// NewProvider creates a new rate provider
func NewProvider(cfg Config, logger *zap.Logger) (*Provider, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid rates provider url %q: %w", cfg.BaseURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// FetchRates retrieves the full rate table for base
func (p *Provider) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	endpoint := p.baseURL + "/" + url.PathEscape(base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("Rate provider request failed",
			zap.String("base", base),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to fetch rates for %s: %w", base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read rates response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate provider returned status %d for %s", resp.StatusCode, base)
	}

	var payload ratesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode rates response: %w", err)
	}
	if payload.Base != "" && !strings.EqualFold(payload.Base, base) {
		return nil, fmt.Errorf("rate provider answered base %s, asked for %s", payload.Base, base)
	}

	rates := make(map[string]decimal.Decimal, len(payload.Rates))
	for code, r := range payload.Rates {
		if !r.IsPositive() {
			continue
		}
		rates[strings.ToUpper(code)] = r
	}

	p.logger.Debug("Fetched exchange rates",
		zap.String("base", base),
		zap.Int("currencies", len(rates)),
		zap.Duration("elapsed", time.Since(start)))

	return rates, nil
}

// Verify interface compliance
var _ port.RateProvider = (*Provider)(nil)
