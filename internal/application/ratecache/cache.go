// Package ratecache serves exchange-rate tables with a freshness window,
// collapsing concurrent refreshes and degrading to stale or static data
// when the upstream provider fails.
package ratecache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/pkg/clock"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL          = time.Hour
	DefaultFetchTimeout = 3 * time.Second
)

// ErrInvalidCurrency is returned for a base that is not an ISO 4217 code
var ErrInvalidCurrency = errors.New("invalid currency code")

var errEmptyTable = errors.New("provider returned an empty rate table")

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Publisher receives degradation events
type Publisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// Options configures a Cache
type Options struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Clock        clock.Clock
	Logger       Logger
	Publisher    Publisher
}

// Cache holds one snapshot per base currency
type Cache struct {
	provider     port.RateProvider
	store        *gocache.Cache
	group        singleflight.Group
	ttl          time.Duration
	fetchTimeout time.Duration
	clock        clock.Clock
	logger       Logger
	publisher    Publisher
}

// New creates a rate cache in front of provider
func New(provider port.RateProvider, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}

	return &Cache{
		provider: provider,
		// Entries never expire in the store; freshness is judged against FetchedAt
		// so expired snapshots stay available as a stale fallback.
		store:        gocache.New(gocache.NoExpiration, 0),
		ttl:          opts.TTL,
		fetchTimeout: opts.FetchTimeout,
		clock:        opts.Clock,
		logger:       opts.Logger,
		publisher:    opts.Publisher,
	}
}

// GetRates returns the rate table for base. Provider failures never surface here:
// the caller gets a stale snapshot or the static fallback instead. The only errors
// are an invalid base and cancellation of ctx.
func (c *Cache) GetRates(ctx context.Context, base string) (*Snapshot, error) {
	code, ok := entity.NormalizeCurrency(base)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCurrency, base)
	}

	if snap, ok := c.lookup(code); ok && c.isFresh(snap) {
		return snap, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(code, func() (interface{}, error) {
		return c.refresh(fetchCtx, code), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val.(*Snapshot), nil
	}
}

// Invalidate drops every cached snapshot
func (c *Cache) Invalidate() {
	c.store.Flush()
	if c.logger != nil {
		c.logger.Info("Exchange rate cache cleared")
	}
}

// Status reports the cached bases sorted by code
func (c *Cache) Status() []SnapshotStatus {
	now := c.clock.Now()
	items := c.store.Items()

	statuses := make([]SnapshotStatus, 0, len(items))
	for _, item := range items {
		snap, ok := item.Object.(*Snapshot)
		if !ok {
			continue
		}
		age := now.Sub(snap.FetchedAt)
		statuses = append(statuses, SnapshotStatus{
			Base:          snap.Base,
			FetchedAt:     snap.FetchedAt,
			Age:           age,
			Stale:         age >= c.ttl,
			CurrencyCount: snap.Len(),
		})
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Base < statuses[j].Base })
	return statuses
}

func (c *Cache) lookup(base string) (*Snapshot, bool) {
	v, ok := c.store.Get(base)
	if !ok {
		return nil, false
	}
	snap, ok := v.(*Snapshot)
	return snap, ok
}

func (c *Cache) isFresh(snap *Snapshot) bool {
	return c.clock.Now().Sub(snap.FetchedAt) < c.ttl
}

// refresh runs at most once per base at a time
func (c *Cache) refresh(ctx context.Context, base string) *Snapshot {
	// A flight that finished just before this one may already have refreshed base
	if snap, ok := c.lookup(base); ok && c.isFresh(snap) {
		return snap
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	rates, err := c.provider.FetchRates(fetchCtx, base)
	if err == nil && len(rates) == 0 {
		err = errEmptyTable
	}
	if err == nil {
		snap := newSnapshot(base, rates, c.clock.Now(), SourceProvider)
		c.store.Set(base, snap, gocache.NoExpiration)
		if c.logger != nil {
			c.logger.Info("Exchange rates refreshed", "base", base, "currencies", snap.Len())
		}
		return snap
	}

	var snap *Snapshot
	if stale, ok := c.lookup(base); ok {
		snap = stale.withSource(SourceStale)
	} else {
		snap = fallbackSnapshot(base, c.clock.Now())
	}
	c.degraded(ctx, base, snap.Source, err)
	return snap
}

func (c *Cache) degraded(ctx context.Context, base, source string, cause error) {
	if c.logger != nil {
		c.logger.Warn("Rate provider unavailable, serving degraded rates",
			"base", base,
			"source", source,
			"error", cause,
		)
	}
	if c.publisher != nil {
		c.publisher.DispatchAsync(ctx, event.NewEvent(event.TypeRatesDegraded, "", map[string]interface{}{
			event.KeyBase:   base,
			event.KeySource: source,
			event.KeyError:  cause.Error(),
		}))
	}
}
