package ratesapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, cfg Config) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL + "/latest/"
	p, err := NewProvider(cfg, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestProvider_FetchRates(t *testing.T) {
	var gotPath, gotAuth string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":0.92,"jpy":149.5,"USD":1,"BAD":0}}`))
	}, Config{APIKey: "secret"})

	rates, err := p.FetchRates(context.Background(), "USD")
	require.NoError(t, err)

	assert.Equal(t, "/latest/USD", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "0.92", rates["EUR"].String())
	assert.Equal(t, "149.5", rates["JPY"].String())
	assert.NotContains(t, rates, "BAD")
	assert.Len(t, rates, 3)
}

func TestProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: http.StatusBadGateway, body: `{}`, wantErr: "status 502"},
		{name: "malformed body", status: http.StatusOK, body: `{"rates":`, wantErr: "decode"},
		{name: "wrong base", status: http.StatusOK, body: `{"base":"EUR","rates":{"USD":1.08}}`, wantErr: "asked for USD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, Config{})

			_, err := p.FetchRates(context.Background(), "USD")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProvider_Timeout(t *testing.T) {
	release := make(chan struct{})
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Config{Timeout: 50 * time.Millisecond})
	defer close(release)

	start := time.Now()
	_, err := p.FetchRates(context.Background(), "USD")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProvider_RateLimited(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":0.9}}`))
	}, Config{RequestsPerSecond: 0.001, Burst: 1})

	_, err := p.FetchRates(context.Background(), "USD")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.FetchRates(ctx, "USD")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewProvider_InvalidURL(t *testing.T) {
	_, err := NewProvider(Config{BaseURL: "not a url"}, zap.NewNop())
	assert.Error(t, err)
}
