package ratecache

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot sources
const (
	SourceProvider = "provider"
	SourceStale    = "stale"
	SourceFallback = "fallback"
)

// Snapshot is an immutable rate table for one base currency.
// The rate map is never mutated after construction, so snapshots may be shared freely.
type Snapshot struct {
	Base      string    `json:"base"`
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
	rates     map[string]decimal.Decimal
}

func newSnapshot(base string, rates map[string]decimal.Decimal, fetchedAt time.Time, source string) *Snapshot {
	copied := make(map[string]decimal.Decimal, len(rates)+1)
	for code, r := range rates {
		copied[code] = r
	}
	copied[base] = decimal.NewFromInt(1)
	return &Snapshot{Base: base, FetchedAt: fetchedAt, Source: source, rates: copied}
}

// withSource returns a view of the same table labelled with another source
func (s *Snapshot) withSource(source string) *Snapshot {
	cp := *s
	cp.Source = source
	return &cp
}

// Rate returns the multiplier converting one unit of Base into code
func (s *Snapshot) Rate(code string) (decimal.Decimal, bool) {
	r, ok := s.rates[code]
	return r, ok
}

// Currencies returns the quoted currency codes in sorted order
func (s *Snapshot) Currencies() []string {
	codes := make([]string, 0, len(s.rates))
	for code := range s.rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Rates returns a copy of the rate table
func (s *Snapshot) Rates() map[string]decimal.Decimal {
	copied := make(map[string]decimal.Decimal, len(s.rates))
	for code, r := range s.rates {
		copied[code] = r
	}
	return copied
}

// Len returns the number of quoted currencies
func (s *Snapshot) Len() int {
	return len(s.rates)
}

// SnapshotStatus is a read-only diagnostic view of one cached base
type SnapshotStatus struct {
	Base          string        `json:"base"`
	FetchedAt     time.Time     `json:"fetched_at"`
	Age           time.Duration `json:"age"`
	Stale         bool          `json:"stale"`
	CurrencyCount int           `json:"currency_count"`
}
