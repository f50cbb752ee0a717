package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gwi.com/shopping-assistant/internal/metrics"
	"gwi.com/shopping-assistant/internal/store"
)

var (
	ErrInvalidLimit    = errors.New("limit must be positive")
	ErrInvalidCategory = errors.New("category is required")
	ErrNoIdentity      = errors.New("a user id or an email is required")
)

const (
	DefaultTrendingWindow = 48 * time.Hour
	trendingClickScan     = 1000
)

// RecommendationService composes cache, interest extraction, query planning
// and aggregation into the personalized, trending, default and category
// tiers.
type RecommendationService struct {
	cache          *RecommendationCache
	interests      *InterestExtractor
	planner        *QueryPlanner
	aggregator     *Aggregator
	clicks         ClickHistory
	trendingWindow time.Duration
	now            func() time.Time
	logger         zerolog.Logger
}

func NewRecommendationService(
	cache *RecommendationCache,
	interests *InterestExtractor,
	planner *QueryPlanner,
	aggregator *Aggregator,
	clicks ClickHistory,
	trendingWindow time.Duration,
	logger zerolog.Logger,
) *RecommendationService {
	if trendingWindow <= 0 {
		trendingWindow = DefaultTrendingWindow
	}
	return &RecommendationService{
		cache:          cache,
		interests:      interests,
		planner:        planner,
		aggregator:     aggregator,
		clicks:         clicks,
		trendingWindow: trendingWindow,
		now:            time.Now,
		logger:         logger.With().Str("component", "recommendation_service").Logger(),
	}
}

// IdentityFor picks the identity a request is cached under: user id, then
// email, then anonymous.
func IdentityFor(userID, email string) store.Identity {
	switch {
	case userID != "":
		return store.UserIdentity(userID)
	case email != "":
		return store.EmailIdentity(normalizeEmail(email))
	default:
		return store.AnonymousIdentity()
	}
}

// GetRecommendations returns personalized items, degrading to the default
// tier when there are no signals or the provider is exhausted.
func (s *RecommendationService) GetRecommendations(ctx context.Context, userID, email string, limit int) ([]store.RecommendationItem, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	defer observeDuration(store.TierPersonalized, time.Now())

	email = normalizeEmail(email)
	identity := IdentityFor(userID, email)
	key := store.CacheKey{Identity: identity, Tier: store.TierPersonalized}
	if items, ok := s.cache.Get(ctx, key); ok {
		return head(items, limit), nil
	}

	if identity.Kind == store.IdentityAnonymous {
		return s.defaultTier(ctx, limit)
	}

	var (
		chatSignals []string
		clicks      *ClickAnalysis
	)
	var g errgroup.Group
	if email != "" {
		g.Go(func() error {
			chatSignals = s.interests.FromChats(ctx, email)
			return nil
		})
	}
	g.Go(func() error {
		clicks = s.interests.FromClicks(ctx, identity)
		return nil
	})
	g.Wait()

	log := s.logger.With().Str("identity", identity.String()).Logger()
	if len(chatSignals) == 0 && clicks.Empty() {
		log.Debug().Msg("no interest signals, serving defaults")
		metrics.RecommendationFallbacks.WithLabelValues("personalized", "default", "no_signals").Inc()
		return s.defaultTier(ctx, limit)
	}

	queries := s.planner.PersonalizedQueries(chatSignals, clicks)
	if len(queries) == 0 {
		metrics.RecommendationFallbacks.WithLabelValues("personalized", "default", "no_queries").Inc()
		return s.defaultTier(ctx, limit)
	}
	log.Debug().Strs("queries", queries).Msg("planned personalized queries")

	items, err := s.aggregator.FetchAndAssemble(ctx, queries, limit, userID)
	if err != nil {
		if errors.Is(err, ErrProviderExhausted) {
			log.Warn().Err(err).Msg("personalized tier exhausted, falling back to defaults")
			metrics.RecommendationFallbacks.WithLabelValues("personalized", "default", "provider_exhausted").Inc()
			return s.exhaustedFallback(ctx, limit)
		}
		return nil, err
	}

	s.cache.Put(ctx, key, items, 0)
	return items, nil
}

// GetDefaultRecommendations computes the generic list. It is never cached.
func (s *RecommendationService) GetDefaultRecommendations(ctx context.Context, limit int) ([]store.RecommendationItem, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	defer observeDuration(store.TierDefault, time.Now())
	return s.aggregator.DefaultItems(ctx, limit, "")
}

// defaultTier computes the default list and caches it under the anonymous
// identity.
func (s *RecommendationService) defaultTier(ctx context.Context, limit int) ([]store.RecommendationItem, error) {
	items, err := s.aggregator.DefaultItems(ctx, limit, "")
	if err != nil {
		return nil, err
	}
	key := store.CacheKey{Identity: store.AnonymousIdentity(), Tier: store.TierDefault}
	s.cache.Put(ctx, key, items, 0)
	return items, nil
}

// exhaustedFallback serves the cached default entry after a tier ran out of
// provider results. An entry shorter than limit is recomputed.
func (s *RecommendationService) exhaustedFallback(ctx context.Context, limit int) ([]store.RecommendationItem, error) {
	key := store.CacheKey{Identity: store.AnonymousIdentity(), Tier: store.TierDefault}
	if items, ok := s.cache.Get(ctx, key); ok && len(items) >= limit {
		return head(items, limit), nil
	}
	return s.defaultTier(ctx, limit)
}

// GetTrendingProducts builds queries from the recent click window shared
// by all users.
func (s *RecommendationService) GetTrendingProducts(ctx context.Context, limit int) ([]store.RecommendationItem, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	defer observeDuration(store.TierTrending, time.Now())

	key := store.CacheKey{Identity: store.GlobalIdentity(), Tier: store.TierTrending}
	if items, ok := s.cache.Get(ctx, key); ok {
		return head(items, limit), nil
	}

	now := s.now()
	clicks, err := s.clicks.FindClickLogsSince(ctx, now.Add(-s.trendingWindow), trendingClickScan)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load recent clicks, using default trending queries")
		clicks = nil
	}
	queries := s.planner.TrendingQueries(clicks, now, s.trendingWindow)

	items, err := s.aggregator.FetchAndAssemble(ctx, queries, limit, "")
	if err != nil {
		if errors.Is(err, ErrProviderExhausted) {
			s.logger.Warn().Err(err).Msg("trending tier exhausted, falling back to defaults")
			metrics.RecommendationFallbacks.WithLabelValues("trending", "default", "provider_exhausted").Inc()
			return s.exhaustedFallback(ctx, limit)
		}
		return nil, err
	}

	s.cache.Put(ctx, key, items, 0)
	return items, nil
}

// GetCategoryRecommendations runs a single "best <category>" query. The
// cache key includes the normalized category. ErrProviderExhausted is
// returned to the caller.
func (s *RecommendationService) GetCategoryRecommendations(ctx context.Context, category string, limit int) ([]store.RecommendationItem, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	category = NormalizeCategory(category)
	if category == "" {
		return nil, ErrInvalidCategory
	}
	defer observeDuration(store.TierCategory, time.Now())

	key := store.CacheKey{Identity: store.GlobalIdentity(), Tier: store.TierCategory, Category: category}
	if items, ok := s.cache.Get(ctx, key); ok {
		return head(items, limit), nil
	}

	items, err := s.aggregator.FetchAndAssemble(ctx, []string{"best " + category}, limit, "")
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, key, items, 0)
	return items, nil
}

// Refresh drops every cached tier for the user id and the email.
func (s *RecommendationService) Refresh(ctx context.Context, userID, email string) (int64, error) {
	var ids []store.Identity
	if userID != "" {
		ids = append(ids, store.UserIdentity(userID))
	}
	if email = normalizeEmail(email); email != "" {
		ids = append(ids, store.EmailIdentity(email))
	}
	if len(ids) == 0 {
		return 0, ErrNoIdentity
	}
	n, err := s.cache.Invalidate(ctx, ids...)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("user_id", userID).Str("email", email).Int64("entries", n).Msg("recommendation cache refreshed")
	return n, nil
}

// NormalizeCategory lower-cases and collapses whitespace.
func NormalizeCategory(c string) string {
	return strings.Join(strings.Fields(strings.ToLower(c)), " ")
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func head(items []store.RecommendationItem, limit int) []store.RecommendationItem {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func observeDuration(tier store.Tier, start time.Time) {
	metrics.RecommendationDuration.WithLabelValues(string(tier)).Observe(time.Since(start).Seconds())
}
