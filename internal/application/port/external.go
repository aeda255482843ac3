package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateProvider fetches a full rate table for a base currency from an upstream source
type RateProvider interface {
	FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}
