// Package cache maps audio fingerprints to previously computed
// transcriptions. Lookup is two-tier: a fast in-memory tier backed by a
// durable Postgres tier that survives restarts. The cache is a pure
// performance optimization; absence or failure never blocks correctness,
// it only costs a fresh provider call.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"interview-transcription-service/internal/models"
	"interview-transcription-service/internal/observability/logging"
	"interview-transcription-service/internal/observability/metrics"
)

// ErrCacheUnavailable indicates a tier failure. Callers degrade to the
// cache-miss path; this error is never fatal.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Entry is one cached transcription with its usage bookkeeping.
type Entry struct {
	Payload   models.CachedTranscription
	HitCount  int64
	LastUsed  time.Time
	ExpiresAt time.Time
}

// Tier is one storage level of the cache. Get returns (nil, nil) on a clean
// miss; a Get also counts as a hit, incrementing the hit counter and
// refreshing the last-used time.
type Tier interface {
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Set(ctx context.Context, fingerprint string, payload models.CachedTranscription, ttl time.Duration) error

	// Invalidate removes entries whose fingerprint matches the glob-style
	// pattern, returning the number removed.
	Invalidate(ctx context.Context, pattern string) (int, error)

	// Sweep removes entries last used before the cutoff, sparing entries at
	// or above minHits so frequently reused audio survives the retention
	// window.
	Sweep(ctx context.Context, cutoff time.Time, minHits int64) (int, error)
}

// TwoTier is the production cache: fast tier consulted first, durable tier
// second, with a durable hit repopulating the fast tier.
type TwoTier struct {
	fast    Tier
	durable Tier // may be nil when Postgres is disabled
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a two-tier cache. durable may be nil, leaving a single-tier
// in-memory cache.
func New(fast, durable Tier, ttl time.Duration) *TwoTier {
	return &TwoTier{
		fast:    fast,
		durable: durable,
		ttl:     ttl,
		logger:  logging.WithComponent("cache"),
		metrics: metrics.DefaultMetrics,
	}
}

// Get looks up a fingerprint. Tier errors are absorbed and logged: a broken
// tier reads as a miss.
func (c *TwoTier) Get(ctx context.Context, fingerprint string) (*models.CachedTranscription, bool) {
	entry, err := c.fast.Get(ctx, fingerprint)
	if err != nil {
		c.metrics.RecordCacheError("fast")
		c.logger.Warn().Err(err).Msg("fast tier read failed, degrading to miss")
	} else if entry != nil {
		c.metrics.RecordCacheHit("fast")
		return &entry.Payload, true
	}

	if c.durable == nil {
		c.metrics.RecordCacheMiss()
		return nil, false
	}

	entry, err = c.durable.Get(ctx, fingerprint)
	if err != nil {
		c.metrics.RecordCacheError("durable")
		c.logger.Warn().Err(err).Msg("durable tier read failed, degrading to miss")
		c.metrics.RecordCacheMiss()
		return nil, false
	}
	if entry == nil {
		c.metrics.RecordCacheMiss()
		return nil, false
	}

	c.metrics.RecordCacheHit("durable")

	// Repopulate the fast tier off the caller's critical path.
	payload := entry.Payload
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.fast.Set(ctx, fingerprint, payload, c.ttl); err != nil {
			c.logger.Warn().Err(err).Msg("fast tier repopulation failed")
		}
	}()

	return &entry.Payload, true
}

// Set stores a transcription under its fingerprint. The fast tier is written
// synchronously; the durable write happens in the background so provider
// results are never delayed by storage latency.
func (c *TwoTier) Set(ctx context.Context, fingerprint string, payload models.CachedTranscription) {
	if err := c.fast.Set(ctx, fingerprint, payload, c.ttl); err != nil {
		c.metrics.RecordCacheError("fast")
		c.logger.Warn().Err(err).Msg("fast tier write failed")
	}

	if c.durable == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.durable.Set(ctx, fingerprint, payload, c.ttl); err != nil {
			c.metrics.RecordCacheError("durable")
			c.logger.Warn().Err(err).Msg("durable tier write failed")
		}
	}()
}

// Invalidate removes matching entries from every tier, returning the total
// removed. Used for operational bulk removal.
func (c *TwoTier) Invalidate(ctx context.Context, pattern string) (int, error) {
	removed, err := c.fast.Invalidate(ctx, pattern)
	if err != nil {
		return removed, err
	}
	if c.durable != nil {
		n, err := c.durable.Invalidate(ctx, pattern)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// RunSweeper periodically removes durable entries older than the retention
// window and below the use-count threshold. Blocks until ctx is done.
func (c *TwoTier) RunSweeper(ctx context.Context, interval, retention time.Duration, minHits int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			tiers := []struct {
				tier Tier
				name string
			}{{c.fast, "fast"}, {c.durable, "durable"}}
			for _, tt := range tiers {
				if tt.tier == nil {
					continue
				}
				n, err := tt.tier.Sweep(ctx, cutoff, minHits)
				if err != nil {
					c.logger.Warn().Err(err).Str("tier", tt.name).Msg("cache sweep failed")
					continue
				}
				if n > 0 {
					c.logger.Info().Str("tier", tt.name).Int("removed", n).Msg("cache sweep removed entries")
				}
			}
		}
	}
}
