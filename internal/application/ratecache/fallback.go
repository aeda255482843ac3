package ratecache

import (
	"time"

	"github.com/shopspring/decimal"
)

// usdFallback holds approximate USD-relative rates used when nothing better is available
var usdFallback = map[string]decimal.Decimal{
	"USD": decimal.RequireFromString("1"),
	"EUR": decimal.RequireFromString("0.92"),
	"GBP": decimal.RequireFromString("0.79"),
	"INR": decimal.RequireFromString("83.12"),
	"JPY": decimal.RequireFromString("149.50"),
	"AUD": decimal.RequireFromString("1.52"),
	"CAD": decimal.RequireFromString("1.36"),
	"CHF": decimal.RequireFromString("0.88"),
	"CNY": decimal.RequireFromString("7.24"),
	"AED": decimal.RequireFromString("3.67"),
}

// fallbackSnapshot rebases the static table onto base. Unknown bases only quote themselves.
func fallbackSnapshot(base string, now time.Time) *Snapshot {
	baseRate, ok := usdFallback[base]
	if !ok {
		return newSnapshot(base, nil, now, SourceFallback)
	}

	rates := make(map[string]decimal.Decimal, len(usdFallback))
	for code, r := range usdFallback {
		rates[code] = r.Div(baseRate)
	}
	return newSnapshot(base, rates, now, SourceFallback)
}
