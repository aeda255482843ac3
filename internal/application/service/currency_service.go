package service

import (
	"context"
	"sync"

	"github.com/garyjia/expense-approval/internal/application/ratecache"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// RateSource serves rate tables per base currency
type RateSource interface {
	GetRates(ctx context.Context, base string) (*ratecache.Snapshot, error)
}

// CurrencyService converts amounts between currencies on a best-effort basis.
// Conversion never fails: when no rate is available the original amount is returned.
type CurrencyService interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal
	ConvertBatch(ctx context.Context, items []entity.MoneyItem, target string) []entity.ConvertedItem
}

type currencyServiceImpl struct {
	rates  RateSource
	logger Logger
}

// NewCurrencyService creates a new CurrencyService
func NewCurrencyService(rates RateSource, logger Logger) CurrencyService {
	return &currencyServiceImpl{rates: rates, logger: logger}
}

// Convert returns amount expressed in to
func (s *currencyServiceImpl) Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	from, to = normalizeCode(from), normalizeCode(to)
	if from == to {
		return amount
	}

	snap, err := s.rates.GetRates(ctx, from)
	if err != nil {
		s.logger.Warn("Currency conversion skipped", "from", from, "to", to, "error", err)
		return amount
	}
	return applyRate(snap, amount, to)
}

// ConvertBatch converts every item into target, fetching each distinct source
// currency's table once no matter how many items share it
func (s *currencyServiceImpl) ConvertBatch(ctx context.Context, items []entity.MoneyItem, target string) []entity.ConvertedItem {
	target = normalizeCode(target)

	distinct := make(map[string]struct{})
	for _, item := range items {
		if code := normalizeCode(item.Currency); code != target {
			distinct[code] = struct{}{}
		}
	}

	var mu sync.Mutex
	tables := make(map[string]*ratecache.Snapshot, len(distinct))

	g, gctx := errgroup.WithContext(ctx)
	for code := range distinct {
		code := code
		g.Go(func() error {
			snap, err := s.rates.GetRates(gctx, code)
			if err != nil {
				s.logger.Warn("Rate lookup failed, amounts left unconverted", "base", code, "error", err)
				return nil
			}
			mu.Lock()
			tables[code] = snap
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]entity.ConvertedItem, len(items))
	for i, item := range items {
		converted := item.Amount
		if code := normalizeCode(item.Currency); code != target {
			if snap := tables[code]; snap != nil {
				converted = applyRate(snap, item.Amount, target)
			}
		}
		out[i] = entity.ConvertedItem{
			MoneyItem:       item,
			ConvertedAmount: converted,
			TargetCurrency:  target,
		}
	}
	return out
}

func applyRate(snap *ratecache.Snapshot, amount decimal.Decimal, to string) decimal.Decimal {
	rate, ok := snap.Rate(to)
	if !ok {
		return amount
	}
	return amount.Mul(rate)
}

// normalizeCode upper-cases valid ISO codes and leaves anything else as given
func normalizeCode(code string) string {
	if normalized, ok := entity.NormalizeCurrency(code); ok {
		return normalized
	}
	return code
}
