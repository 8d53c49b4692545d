package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cardpay-pipeline/internal/config"
)

// Cache serves rate quotes with a TTL. At most one refresh per pair is in
// flight at a time; concurrent callers during a refresh share its result.
type Cache struct {
	feed         Feed
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger

	mu     sync.RWMutex
	quotes map[string]Quote
	group  singleflight.Group
}

func NewCache(logger *slog.Logger, cfg *config.OracleConfig, feed Feed) *Cache {
	return &Cache{
		feed:         feed,
		ttl:          cfg.TTL,
		fetchTimeout: cfg.FetchTimeout,
		logger:       logger,
		quotes:       make(map[string]Quote),
	}
}

// GetRate returns the cached quote when fresh, otherwise refreshes from the
// feed. A failed refresh falls back to the last known quote with Stale set;
// with no last known quote the error is returned.
func (c *Cache) GetRate(ctx context.Context, pair string) (Quote, error) {
	if quote, ok := c.lookup(pair); ok && c.fresh(quote) {
		return quote, nil
	}

	result, err, _ := c.group.Do(pair, func() (interface{}, error) {
		// A caller that queued behind the refresh sees its result here
		if quote, ok := c.lookup(pair); ok && c.fresh(quote) {
			return quote, nil
		}

		// Detached from the caller's context: the refresh outcome is shared
		// by every waiter, so one caller's cancellation must not abort it
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
		defer cancel()

		rate, fetchErr := c.feed.Fetch(fetchCtx, pair)
		if fetchErr != nil {
			if last, ok := c.lookup(pair); ok {
				c.logger.Warn("Rate refresh failed, serving last known quote as stale",
					"pair", pair,
					"fetched_at", last.FetchedAt,
					"error", fetchErr,
				)
				last.Stale = true
				return last, nil
			}
			return Quote{}, fmt.Errorf("failed to refresh rate for %s: %w", pair, fetchErr)
		}

		quote := Quote{Pair: pair, Rate: rate, FetchedAt: time.Now()}
		c.store(quote)
		return quote, nil
	})
	if err != nil {
		return Quote{}, err
	}
	if ctx.Err() != nil {
		return Quote{}, ctx.Err()
	}
	return result.(Quote), nil
}

func (c *Cache) lookup(pair string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	quote, ok := c.quotes[pair]
	return quote, ok
}

func (c *Cache) store(quote Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[quote.Pair] = quote
}

func (c *Cache) fresh(quote Quote) bool {
	return time.Since(quote.FetchedAt) < c.ttl
}
