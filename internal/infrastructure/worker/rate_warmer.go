package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/expense-approval/internal/application/ratecache"
	"go.uber.org/zap"
)

// RateSource is the slice of the rate cache the warmer needs
type RateSource interface {
	GetRates(ctx context.Context, base string) (*ratecache.Snapshot, error)
}

// RateWarmerConfig holds configuration for the rate warmer
type RateWarmerConfig struct {
	Interval time.Duration
	Bases    []string
	// Timeout bounds one pass over all bases
	Timeout time.Duration
}

// DefaultRateWarmerConfig returns default configuration
func DefaultRateWarmerConfig() RateWarmerConfig {
	return RateWarmerConfig{
		Interval: 30 * time.Minute,
		Bases:    []string{"USD", "EUR"},
		Timeout:  10 * time.Second,
	}
}

// RateWarmerStats is a point-in-time view of the warmer's progress
type RateWarmerStats struct {
	Passes     int       `json:"passes"`
	Warmed     int       `json:"warmed"`
	Degraded   int       `json:"degraded"`
	LastPassAt time.Time `json:"last_pass_at"`
}

// RateWarmer keeps frequently used bases fresh so request paths rarely wait on the provider
type RateWarmer struct {
	config RateWarmerConfig
	rates  RateSource
	logger *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	stats     RateWarmerStats
}

// NewRateWarmer creates a new rate warmer
func NewRateWarmer(config RateWarmerConfig, rates RateSource, logger *zap.Logger) *RateWarmer {
	if config.Interval <= 0 {
		config.Interval = DefaultRateWarmerConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRateWarmerConfig().Timeout
	}
	return &RateWarmer{
		config: config,
		rates:  rates,
		logger: logger,
	}
}

// Start warms every base once and then again on each tick
func (w *RateWarmer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("rate warmer already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true
	done := w.done
	w.mu.Unlock()

	w.logger.Info("RateWarmer started",
		zap.Duration("interval", w.config.Interval),
		zap.Strings("bases", w.config.Bases))

	go w.loop(runCtx, done)
	return nil
}

// Stop terminates the loop and waits for an in-flight pass to finish
func (w *RateWarmer) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.Stats()
	w.logger.Info("RateWarmer stopped",
		zap.Int("passes", stats.Passes),
		zap.Int("warmed", stats.Warmed),
		zap.Int("degraded", stats.Degraded))
	return nil
}

// Name returns the worker name for identification
func (w *RateWarmer) Name() string {
	return "RateWarmer"
}

// Stats returns a copy of the warmer's counters
func (w *RateWarmer) Stats() RateWarmerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *RateWarmer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	w.warm(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Rate warmer context cancelled")
			return
		case <-ticker.C:
			w.warm(ctx)
		}
	}
}

// warm runs one pass over the configured bases
func (w *RateWarmer) warm(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	warmed, degraded := 0, 0
	for _, base := range w.config.Bases {
		if passCtx.Err() != nil {
			break
		}

		snap, err := w.rates.GetRates(passCtx, base)
		if err != nil {
			w.logger.Warn("Failed to warm rates", zap.String("base", base), zap.Error(err))
			degraded++
			continue
		}
		if snap.Source != ratecache.SourceProvider {
			degraded++
			continue
		}
		warmed++
	}

	w.mu.Lock()
	w.stats.Passes++
	w.stats.Warmed += warmed
	w.stats.Degraded += degraded
	w.stats.LastPassAt = time.Now()
	w.mu.Unlock()

	w.logger.Debug("Rate warm pass completed",
		zap.Int("warmed", warmed),
		zap.Int("degraded", degraded))
}
