package marketdata

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/candles"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

// RetryConfig bounds the fetch retry loop.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig suits a 30s cycle: three retries inside a few
// seconds, never sleeping past the next cycle.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

// RetryingProvider wraps a Provider with bounded retries and a
// last-good cache. Each retry narrows the window to the most recent
// half, since a flaky feed is likelier to serve a small request. When
// every attempt fails the cached window is served and the provider
// reports itself degraded; the runner skips entries while degraded but
// keeps monitoring exits.
type RetryingProvider struct {
	inner  Provider
	logger *log.Logger
	config RetryConfig

	mu       sync.Mutex
	lastGood map[string][]models.Candle
	degraded bool
}

// Ensure RetryingProvider implements Provider at compile time.
var _ Provider = (*RetryingProvider)(nil)

// NewRetryingProvider wraps inner with DefaultRetryConfig unless a
// config is supplied.
func NewRetryingProvider(inner Provider, logger *log.Logger, config ...RetryConfig) *RetryingProvider {
	cfg := DefaultRetryConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &RetryingProvider{
		inner:    inner,
		logger:   logger,
		config:   cfg,
		lastGood: make(map[string][]models.Candle),
	}
}

// Degraded reports whether the most recent Fetch1h was served from cache.
func (r *RetryingProvider) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// Fetch1h retries the wrapped fetch, narrowing the window each attempt,
// and falls back to the cached last-good result when the feed stays down.
func (r *RetryingProvider) Fetch1h(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	var lastErr error
	backoff := r.config.InitialBackoff
	window := from

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
		}

		cs, err := r.inner.Fetch1h(ctx, symbol, window, to)
		if err == nil {
			r.mu.Lock()
			r.lastGood[symbol] = append([]models.Candle(nil), cs...)
			r.degraded = false
			r.mu.Unlock()
			return cs, nil
		}

		lastErr = err
		r.logger.Printf("Fetch attempt %d/%d for %s failed: %v", attempt+1, r.config.MaxRetries+1, symbol, err)

		if !isTransientError(err) || attempt == r.config.MaxRetries {
			break
		}

		// Halve the window: ask for the recent portion only.
		window = window.Add(to.Sub(window) / 2)

		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, r.config.MaxBackoff)
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch canceled during backoff: %w", ctx.Err())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.lastGood[symbol]; ok && len(cached) > 0 {
		r.degraded = true
		r.logger.Printf("Feed down for %s, serving %d cached candles: %v", symbol, len(cached), lastErr)
		return append([]models.Candle(nil), cached...), nil
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", r.config.MaxRetries+1, lastErr)
}

// SpotSnapshot passes through without retries: a stale snapshot only
// affects the forming bar, which detection ignores anyway.
func (r *RetryingProvider) SpotSnapshot(symbol string) (candles.Snapshot, error) {
	return r.inner.SpotSnapshot(symbol)
}

func nextBackoff(current, max time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > max {
		backoff = max
	}
	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
