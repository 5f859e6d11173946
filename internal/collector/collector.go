// Package collector runs one poll cycle over the watchlist.
//
// Apps are fetched in watchlist order. A shared token-bucket limiter spaces
// app fetches at least ItemDelay apart, across workers and across cycles.
// A failed detail fetch drops that app from the cycle and never cancels
// its siblings; a failed player-count fetch only leaves the count null.
package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/steamwatch/internal/logger"
	"github.com/rewired-gh/steamwatch/internal/models"
	"github.com/rewired-gh/steamwatch/internal/normalizer"
	"github.com/rewired-gh/steamwatch/internal/steam"
)

// Fetcher is the catalog client surface the collector needs.
type Fetcher interface {
	FetchAppDetails(ctx context.Context, appID int) (steam.RawDetail, bool)
	FetchPlayerCount(ctx context.Context, appID int) (int, bool)
}

// Config holds collector configuration.
type Config struct {
	ItemDelay   time.Duration // Minimum spacing between app fetches (default: 2s)
	Concurrency int           // Max concurrent app fetches (default: 1)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ItemDelay:   2 * time.Second,
		Concurrency: 1,
	}
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock overrides the capture-time source used for each record.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// Collector produces a models.CycleResult from a watchlist.
type Collector struct {
	cfg     Config
	fetcher Fetcher
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates a new Collector.
func New(cfg Config, fetcher Fetcher, opts ...Option) *Collector {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	limit := rate.Inf
	if cfg.ItemDelay > 0 {
		limit = rate.Every(cfg.ItemDelay)
	}

	c := &Collector{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type outcome struct {
	attempted bool
	game      *models.Game
}

// Collect fetches and normalizes every app in the watchlist. Duplicate IDs
// are fetched once, at the position of their first occurrence. When ctx is
// cancelled no new fetch is started; in-flight fetches run to completion or
// to their own timeout and the result is marked Interrupted.
func (c *Collector) Collect(ctx context.Context, w models.Watchlist) models.CycleResult {
	start := c.now()
	ids, duplicates := w.Unique()
	for _, id := range duplicates {
		logger.Warn("App %s listed more than once, fetching it once", w.Label(id))
	}

	result := models.CycleResult{
		ID:        uuid.New().String(),
		StartedAt: start,
		Watched:   len(ids),
	}

	outcomes := make([]outcome, len(ids))
	jobs := make(chan int)
	var wg sync.WaitGroup
	var skipped atomic.Bool

	workers := c.cfg.Concurrency
	if workers > len(ids) {
		workers = len(ids)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					skipped.Store(true)
					continue
				}
				appID := ids[idx]
				outcomes[idx] = outcome{
					attempted: true,
					game:      c.collectOne(ctx, appID, w.Label(appID)),
				}
			}
		}()
	}

feed:
	for idx := range ids {
		if err := c.limiter.Wait(ctx); err != nil || ctx.Err() != nil {
			result.Interrupted = true
			break
		}
		select {
		case jobs <- idx:
		case <-ctx.Done():
			result.Interrupted = true
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if skipped.Load() {
		result.Interrupted = true
	}

	for idx, o := range outcomes {
		switch {
		case o.game != nil:
			result.Games = append(result.Games, *o.game)
		case o.attempted:
			result.Failed = append(result.Failed, ids[idx])
		}
	}

	logger.Info("Poll cycle complete (cycle: %s, apps: %d, fetched: %d, failed: %d, interrupted: %v, duration: %v)",
		result.ID, len(ids), len(result.Games), len(result.Failed), result.Interrupted, time.Since(start).Round(time.Millisecond))

	return result
}

// collectOne fetches and normalizes a single app. It returns nil when the
// detail fetch failed. The fetches ignore cancellation of ctx so an
// in-flight item completes within the client's own timeout.
func (c *Collector) collectOne(ctx context.Context, appID int, label string) *models.Game {
	fetchCtx := context.WithoutCancel(ctx)

	logger.Debug("Fetching data for app %s", label)
	raw, ok := c.fetcher.FetchAppDetails(fetchCtx, appID)
	if !ok {
		logger.Warn("Skipping app %s: details unavailable", label)
		return nil
	}

	var players *int
	if n, ok := c.fetcher.FetchPlayerCount(fetchCtx, appID); ok {
		players = &n
	}

	game := normalizer.Normalize(appID, raw, players, c.now())
	if err := game.Validate(); err != nil {
		logger.Debug("Record for app %s is inconsistent: %v", label, err)
	}

	if game.CurrentPlayers != nil {
		logger.Info("Fetched %s: %s, price %.2f %s (discount: %d%%), players: %s",
			label, game.Name, game.FinalPrice, game.Currency, game.DiscountPercent, humanize.Comma(int64(*game.CurrentPlayers)))
	} else {
		logger.Info("Fetched %s: %s, price %.2f %s (discount: %d%%)",
			label, game.Name, game.FinalPrice, game.Currency, game.DiscountPercent)
	}

	return &game
}
