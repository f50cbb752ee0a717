package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gwi.com/shopping-assistant/internal/redirect"
	"gwi.com/shopping-assistant/internal/search"
)

func TestFetchIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.provider.fail["bad"] = true

	got, err := h.agg.Fetch(context.Background(), []string{"bad", "good"}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, l := range got {
		require.True(t, strings.HasPrefix(l.ID, "good-"))
	}
	require.ElementsMatch(t, []string{"bad", "good"}, h.provider.Calls())
}

func TestFetchAllFailedIsExhaustion(t *testing.T) {
	h := newHarness(t)
	h.provider.failAll = true

	_, err := h.agg.Fetch(context.Background(), []string{"a", "b"}, 3)
	require.ErrorIs(t, err, ErrProviderExhausted)

	_, err = h.agg.FetchAndAssemble(context.Background(), []string{"a"}, 5, "")
	require.ErrorIs(t, err, ErrProviderExhausted)
}

func TestFetchDeduplicates(t *testing.T) {
	h := newHarness(t)
	shared := search.ProductListing{ID: "same", Title: "Same", Link: "https://seller.example/same"}
	noID := search.ProductListing{Title: "No id", Link: "https://seller.example/noid"}
	h.provider.results["a"] = []search.ProductListing{shared, noID}
	h.provider.results["b"] = []search.ProductListing{shared, noID, {Title: "Title only"}, {Title: "Title only"}}

	got, err := h.agg.Fetch(context.Background(), []string{"a", "b"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestFetchAndAssembleCapsPerQuery(t *testing.T) {
	h := newHarness(t)

	items, err := h.agg.FetchAndAssemble(context.Background(), []string{"a", "b", "c"}, 4, "")
	require.NoError(t, err)
	require.Len(t, items, 4)

	// ceil(4/3) = 2 listings per query, 6 in total, truncated to 4; no padding.
	require.ElementsMatch(t, []string{"a", "b", "c"}, h.provider.Calls())
}

func TestFetchAndAssemblePadsShortfall(t *testing.T) {
	h := newHarness(t)
	h.provider.results["rare"] = syntheticListings("rare", 1)

	items, err := h.agg.FetchAndAssemble(context.Background(), []string{"rare"}, 6, "")
	require.NoError(t, err)
	require.Len(t, items, 6)
	require.Equal(t, "rare-0", items[0].ID)

	calls := h.provider.Calls()
	for _, q := range DefaultQueries {
		require.Contains(t, calls, q)
	}
}

func TestFetchAndAssemblePaddingFailureIsSoft(t *testing.T) {
	h := newHarness(t)
	h.provider.results["rare"] = syntheticListings("rare", 1)
	for _, q := range DefaultQueries {
		h.provider.fail[q] = true
	}

	items, err := h.agg.FetchAndAssemble(context.Background(), []string{"rare"}, 6, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestTransformWrapsLinks(t *testing.T) {
	h := newHarness(t)
	listings := []search.ProductListing{
		{ID: "p1", Source: "Best Buy", Title: "Acer Aspire", Thumbnail: "https://img/1", Price: 449.99, Link: "https://seller.example/acer", Rating: 4.2, Reviews: 12},
		{ID: "p2", Title: "No link"},
	}

	items := h.agg.Transform(listings, "u-1")
	require.Len(t, items, 2)

	first := items[0]
	require.Equal(t, "p1", first.ID)
	require.Equal(t, "https://img/1", first.Image)
	require.True(t, strings.HasPrefix(first.URL, "https://shop.test/redirect/"))
	require.NotContains(t, first.URL, "seller.example/acer")

	p, ok := redirect.NewCodec("").Decode(first.URL)
	require.True(t, ok)
	require.Equal(t, "https://seller.example/acer", p.OriginalURL)
	require.Equal(t, map[string]string{
		"product_id": "p1",
		"source":     "Best Buy",
		"title":      "Acer Aspire",
		"price":      "449.99",
	}, p.Params)
	require.Equal(t, "u-1", p.UserID)

	require.Empty(t, items[1].URL)
}

func TestListingIDIsStable(t *testing.T) {
	l := search.ProductListing{Title: "x", Link: "https://seller.example/x"}
	require.Equal(t, listingID(l), listingID(l))
	require.NotEmpty(t, listingID(search.ProductListing{Title: "y"}))
}

func TestInvalidLimit(t *testing.T) {
	h := newHarness(t)
	_, err := h.agg.FetchAndAssemble(context.Background(), []string{"a"}, 0, "")
	require.ErrorIs(t, err, ErrInvalidLimit)
	require.Empty(t, h.provider.Calls())
}
