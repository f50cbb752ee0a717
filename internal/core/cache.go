package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gwi.com/shopping-assistant/internal/metrics"
	"gwi.com/shopping-assistant/internal/store"
)

const DefaultCacheTTL = time.Hour

// CacheStore is the persistence the cache needs. *store.SQLiteStore
// satisfies it.
type CacheStore interface {
	FindCacheEntry(ctx context.Context, key store.CacheKey, now time.Time) (*store.RecommendationCacheEntry, error)
	UpsertCacheEntry(ctx context.Context, entry *store.RecommendationCacheEntry) error
	DeleteCacheEntries(ctx context.Context, identities ...store.Identity) (int64, error)
}

// RecommendationCache is a read-through, fail-open cache of computed lists.
// Read and write errors are logged and treated as a miss or a no-op.
type RecommendationCache struct {
	store  CacheStore
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewRecommendationCache(s CacheStore, ttl time.Duration, logger zerolog.Logger) *RecommendationCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RecommendationCache{
		store:  s,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "recommendation_cache").Logger(),
	}
}

// Get returns the live entry for key. ok is false on a miss, an expired
// entry, or a store error.
func (c *RecommendationCache) Get(ctx context.Context, key store.CacheKey) (items []store.RecommendationItem, ok bool) {
	tier := string(key.Tier)
	entry, err := c.store.FindCacheEntry(ctx, key, c.now())
	if err != nil {
		metrics.RecommendationCacheLookups.WithLabelValues(tier, "error").Inc()
		c.logger.Warn().Err(err).Str("identity", key.Identity.String()).Str("tier", tier).Msg("cache read failed, treating as miss")
		return nil, false
	}
	if entry == nil {
		metrics.RecommendationCacheLookups.WithLabelValues(tier, "miss").Inc()
		return nil, false
	}
	metrics.RecommendationCacheLookups.WithLabelValues(tier, "hit").Inc()
	return entry.Items, true
}

// Put replaces whatever is stored under key. A ttl <= 0 uses the cache
// default.
func (c *RecommendationCache) Put(ctx context.Context, key store.CacheKey, items []store.RecommendationItem, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	tier := string(key.Tier)
	err := c.store.UpsertCacheEntry(ctx, &store.RecommendationCacheEntry{
		Key:       key,
		Items:     items,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	})
	if err != nil {
		metrics.RecommendationCacheWrites.WithLabelValues(tier, "error").Inc()
		c.logger.Warn().Err(err).Str("identity", key.Identity.String()).Str("tier", tier).Msg("cache write failed")
		return
	}
	metrics.RecommendationCacheWrites.WithLabelValues(tier, "ok").Inc()
}

// Invalidate drops every tier cached for the given identities.
func (c *RecommendationCache) Invalidate(ctx context.Context, identities ...store.Identity) (int64, error) {
	return c.store.DeleteCacheEntries(ctx, identities...)
}
