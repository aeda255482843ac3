package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/garyjia/expense-approval/internal/application/ratecache"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider serves a fixed table for every base and counts fetches per base
type countingProvider struct {
	mu     sync.Mutex
	calls  map[string]int
	tables map[string]map[string]decimal.Decimal
	total  atomic.Int32
}

func (p *countingProvider) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	p.total.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[base]++
	table, ok := p.tables[base]
	if !ok {
		return nil, fmt.Errorf("no table for %s", base)
	}
	return table, nil
}

// countingSource wraps a rate source and counts cache round-trips
type countingSource struct {
	inner RateSource
	calls atomic.Int32
}

func (s *countingSource) GetRates(ctx context.Context, base string) (*ratecache.Snapshot, error) {
	s.calls.Add(1)
	return s.inner.GetRates(ctx, base)
}

type failingSource struct{}

func (failingSource) GetRates(ctx context.Context, base string) (*ratecache.Snapshot, error) {
	return nil, errors.New("cache unavailable")
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newCurrencyFixture() (*countingProvider, *countingSource, CurrencyService) {
	provider := &countingProvider{tables: map[string]map[string]decimal.Decimal{
		"EUR": {"USD": d("1.10"), "INR": d("90")},
		"GBP": {"USD": d("1.25")},
		"JPY": {"USD": d("0.0067")},
		"INR": {"EUR": d("0.011")},
	}}
	source := &countingSource{inner: ratecache.New(provider, ratecache.Options{})}
	return provider, source, NewCurrencyService(source, nopLogger{})
}

func TestConvert_SameCurrencySkipsLookup(t *testing.T) {
	_, source, svc := newCurrencyFixture()

	got := svc.Convert(context.Background(), d("42.10"), "usd", "USD")
	assert.True(t, got.Equal(d("42.10")))
	assert.Equal(t, int32(0), source.calls.Load())
}

func TestConvert(t *testing.T) {
	_, _, svc := newCurrencyFixture()

	got := svc.Convert(context.Background(), d("100"), "EUR", "USD")
	assert.Equal(t, "110", got.String())
}

func TestConvert_MissingRateReturnsAmount(t *testing.T) {
	_, _, svc := newCurrencyFixture()

	got := svc.Convert(context.Background(), d("100"), "GBP", "CHF")
	assert.True(t, got.Equal(d("100")))
}

func TestConvert_SourceErrorReturnsAmount(t *testing.T) {
	svc := NewCurrencyService(failingSource{}, nopLogger{})

	got := svc.Convert(context.Background(), d("7.5"), "EUR", "USD")
	assert.True(t, got.Equal(d("7.5")))

	out := svc.ConvertBatch(context.Background(), []entity.MoneyItem{{Amount: d("3"), Currency: "EUR"}}, "USD")
	require.Len(t, out, 1)
	assert.True(t, out[0].ConvertedAmount.Equal(d("3")))
}

func TestConvertBatch_FetchesOncePerDistinctCurrency(t *testing.T) {
	provider, source, svc := newCurrencyFixture()

	currencies := []string{"EUR", "GBP", "JPY"}
	items := make([]entity.MoneyItem, 100)
	for i := range items {
		items[i] = entity.MoneyItem{
			Key:      fmt.Sprintf("item-%d", i),
			Amount:   decimal.NewFromInt(int64(i + 1)),
			Currency: currencies[i%3],
		}
	}

	out := svc.ConvertBatch(context.Background(), items, "USD")

	require.Len(t, out, 100)
	assert.LessOrEqual(t, source.calls.Load(), int32(3))
	assert.LessOrEqual(t, provider.total.Load(), int32(3))

	for i, item := range out {
		assert.Equal(t, items[i].Key, item.Key, "order preserved")
		assert.Equal(t, "USD", item.TargetCurrency)
	}
	assert.Equal(t, "1.1", out[0].ConvertedAmount.String())    // 1 EUR
	assert.Equal(t, "2.5", out[1].ConvertedAmount.String())    // 2 GBP
	assert.Equal(t, "0.0201", out[2].ConvertedAmount.String()) // 3 JPY
}

func TestConvertBatch_TargetCurrencyItemsUntouched(t *testing.T) {
	_, source, svc := newCurrencyFixture()

	out := svc.ConvertBatch(context.Background(), []entity.MoneyItem{
		{Amount: d("10"), Currency: "usd"},
		{Amount: d("20"), Currency: "USD"},
	}, "USD")

	require.Len(t, out, 2)
	assert.True(t, out[0].ConvertedAmount.Equal(d("10")))
	assert.True(t, out[1].ConvertedAmount.Equal(d("20")))
	assert.Equal(t, int32(0), source.calls.Load())
}

func TestConvertBatch_Empty(t *testing.T) {
	_, _, svc := newCurrencyFixture()
	assert.Empty(t, svc.ConvertBatch(context.Background(), nil, "USD"))
}
