package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gwi.com/shopping-assistant/internal/store"
)

func TestNoHistoryServesCachedDefaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	items, err := h.svc.GetRecommendations(ctx, "u-new", "", 10)
	require.NoError(t, err)

	defaults, err := h.svc.GetDefaultRecommendations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, len(defaults))

	entry, err := h.store.FindCacheEntry(ctx, store.CacheKey{Identity: store.AnonymousIdentity(), Tier: store.TierDefault}, time.Now())
	require.NoError(t, err)
	require.NotNil(t, entry)

	personal, err := h.store.FindCacheEntry(ctx, store.CacheKey{Identity: store.UserIdentity("u-new"), Tier: store.TierPersonalized}, time.Now())
	require.NoError(t, err)
	require.Nil(t, personal)
}

func TestAnonymousComputesAndCachesDefaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.GetRecommendations(ctx, "", "", 5)
	require.NoError(t, err)
	calls := len(h.provider.Calls())
	require.Equal(t, len(DefaultQueries), calls)

	entry, err := h.store.FindCacheEntry(ctx, store.CacheKey{Identity: store.AnonymousIdentity(), Tier: store.TierDefault}, time.Now())
	require.NoError(t, err)
	require.NotNil(t, entry)

	// Each request computes the default list again.
	_, err = h.svc.GetRecommendations(ctx, "", "", 5)
	require.NoError(t, err)
	require.Len(t, h.provider.Calls(), 2*calls)
}

func TestDefaultCountIgnoresEarlierSmallerRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	small, err := h.svc.GetRecommendations(ctx, "", "", 2)
	require.NoError(t, err)
	require.Len(t, small, 2)

	items, err := h.svc.GetRecommendations(ctx, "u-new", "", 10)
	require.NoError(t, err)
	defaults, err := h.svc.GetDefaultRecommendations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, defaults, 10)
	require.Len(t, items, len(defaults))
}

func TestPersonalizedFromChats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.extractor.keywords = []string{"laptop", "laptop", "phone"}
	seedChat(t, h.store, "u1", "e1@example.com", "looking for a laptop")

	items, err := h.svc.GetRecommendations(ctx, "u1", "e1@example.com", 10)
	require.NoError(t, err)
	require.Len(t, items, 10)
	require.ElementsMatch(t, []string{
		"best laptops under $500", "popular laptops", "best smartphones", "popular smartphones",
	}, h.provider.Calls())

	// The user id travels inside every token.
	for _, it := range items {
		p, ok := h.redirects.codec.Decode(it.URL)
		require.True(t, ok)
		require.Equal(t, "u1", p.UserID)
	}

	// Second call is a cache hit.
	again, err := h.svc.GetRecommendations(ctx, "u1", "e1@example.com", 3)
	require.NoError(t, err)
	require.Equal(t, items[:3], again)
	require.Len(t, h.provider.Calls(), 4)
}

func TestRefreshForcesRecompute(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.extractor.keywords = []string{"camera"}
	seedChat(t, h.store, "u1", "e1@example.com", "which camera should I buy")

	_, err := h.svc.GetRecommendations(ctx, "u1", "e1@example.com", 10)
	require.NoError(t, err)
	before := len(h.provider.Calls())

	n, err := h.svc.Refresh(ctx, "u1", "e1@example.com")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = h.svc.GetRecommendations(ctx, "u1", "e1@example.com", 10)
	require.NoError(t, err)
	require.Greater(t, len(h.provider.Calls()), before)

	_, err = h.svc.Refresh(ctx, "", "")
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestRefreshWithoutSignalsRecomputes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.GetRecommendations(ctx, "u1", "e1@example.com", 10)
	require.NoError(t, err)
	before := len(h.provider.Calls())
	require.Equal(t, len(DefaultQueries), before)

	_, err = h.svc.Refresh(ctx, "u1", "e1@example.com")
	require.NoError(t, err)

	_, err = h.svc.GetRecommendations(ctx, "u1", "e1@example.com", 10)
	require.NoError(t, err)
	require.Len(t, h.provider.Calls(), 2*before)
}

func TestPersonalizedFallsBackOnExhaustion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.extractor.keywords = []string{"kayak"}
	h.provider.fail["best kayak"] = true
	seedChat(t, h.store, "u1", "e1@example.com", "kayak ideas")

	items, err := h.svc.GetRecommendations(ctx, "u1", "e1@example.com", 4)
	require.NoError(t, err)
	require.Len(t, items, 4)

	personal, err := h.store.FindCacheEntry(ctx, store.CacheKey{Identity: store.UserIdentity("u1"), Tier: store.TierPersonalized}, time.Now())
	require.NoError(t, err)
	require.Nil(t, personal)
}

func TestExhaustionReusesCachedDefaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.GetRecommendations(ctx, "", "", 4)
	require.NoError(t, err)
	before := len(h.provider.Calls())

	h.extractor.keywords = []string{"kayak"}
	h.provider.fail["best kayak"] = true
	seedChat(t, h.store, "u1", "e1@example.com", "kayak ideas")

	items, err := h.svc.GetRecommendations(ctx, "u1", "e1@example.com", 4)
	require.NoError(t, err)
	require.Len(t, items, 4)
	require.Equal(t, []string{"best kayak"}, h.provider.Calls()[before:])

	// A larger request than the cached entry holds is recomputed.
	items, err = h.svc.GetRecommendations(ctx, "u1", "e1@example.com", 8)
	require.NoError(t, err)
	require.Len(t, items, 8)
	require.Len(t, h.provider.Calls(), before+2+len(DefaultQueries))
}

func TestEverythingDownIsAnError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.provider.failAll = true

	_, err := h.svc.GetRecommendations(ctx, "", "", 4)
	require.ErrorIs(t, err, ErrProviderExhausted)
	_, err = h.svc.GetTrendingProducts(ctx, 4)
	require.ErrorIs(t, err, ErrProviderExhausted)
	_, err = h.svc.GetCategoryRecommendations(ctx, "laptops", 4)
	require.ErrorIs(t, err, ErrProviderExhausted)
}

func TestTrendingIsCached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, title := range []string{"Apple MacBook Air Laptop", "Dell Laptop", "Samsung Galaxy Phone"} {
		require.NoError(t, h.store.InsertClickLog(ctx, &store.ClickLogEntry{
			OriginalURL: "https://seller.example/x",
			Token:       "/redirect/x",
			Params:      map[string]string{"title": title},
			RedirectURL: "https://seller.example/x",
		}))
	}

	first, err := h.svc.GetTrendingProducts(ctx, 5)
	require.NoError(t, err)
	require.Len(t, first, 5)
	calls := h.provider.Calls()
	require.Contains(t, calls, "trending laptops")
	require.Contains(t, calls, "apple products")

	second, err := h.svc.GetTrendingProducts(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, h.provider.Calls(), len(calls))
}

func TestCategoryCacheKeyIncludesCategory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	laptops, err := h.svc.GetCategoryRecommendations(ctx, "Laptops", 3)
	require.NoError(t, err)
	phones, err := h.svc.GetCategoryRecommendations(ctx, "phones", 3)
	require.NoError(t, err)
	require.NotEqual(t, laptops, phones)
	require.Equal(t, []string{"best laptops", "best phones"}, h.provider.Calls())

	again, err := h.svc.GetCategoryRecommendations(ctx, "  LAPTOPS ", 3)
	require.NoError(t, err)
	require.Equal(t, laptops, again)
	require.Len(t, h.provider.Calls(), 2)

	_, err = h.svc.GetCategoryRecommendations(ctx, " ", 3)
	require.ErrorIs(t, err, ErrInvalidCategory)
}

func TestInvalidLimits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.GetRecommendations(ctx, "u1", "", 0)
	require.ErrorIs(t, err, ErrInvalidLimit)
	_, err = h.svc.GetDefaultRecommendations(ctx, -1)
	require.ErrorIs(t, err, ErrInvalidLimit)
	_, err = h.svc.GetTrendingProducts(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidLimit)
}

func TestIdentityFor(t *testing.T) {
	require.Equal(t, store.UserIdentity("u1"), IdentityFor("u1", "a@b.c"))
	require.Equal(t, store.EmailIdentity("a@b.c"), IdentityFor("", " A@B.c "))
	require.Equal(t, store.AnonymousIdentity(), IdentityFor("", ""))
}
