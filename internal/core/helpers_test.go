package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gwi.com/shopping-assistant/internal/redirect"
	"gwi.com/shopping-assistant/internal/search"
	"gwi.com/shopping-assistant/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeProvider returns five synthetic listings per query unless the query
// has canned results or is marked as failing.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []string
	results map[string][]search.ProductListing
	fail    map[string]bool
	failAll bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{results: map[string][]search.ProductListing{}, fail: map[string]bool{}}
}

func (f *fakeProvider) Search(ctx context.Context, q search.Query) ([]search.ProductListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, q.Text)
	if f.failAll || f.fail[q.Text] {
		return nil, errors.New("provider unavailable")
	}
	if r, ok := f.results[q.Text]; ok {
		return slices.Clone(r), nil
	}
	return syntheticListings(q.Text, 5), nil
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func syntheticListings(query string, n int) []search.ProductListing {
	slug := strings.ReplaceAll(query, " ", "-")
	out := make([]search.ProductListing, n)
	for i := range out {
		out[i] = search.ProductListing{
			ID:        fmt.Sprintf("%s-%d", slug, i),
			Source:    "Store",
			Title:     fmt.Sprintf("%s item %d", query, i),
			Thumbnail: "https://img.example/" + slug,
			Price:     float64(100 + i),
			Link:      fmt.Sprintf("https://seller.example/%s/%d", slug, i),
			Rating:    4.5,
			Reviews:   10 * i,
		}
	}
	return out
}

type fakeExtractor struct {
	mu           sync.Mutex
	keywords     []string
	signals      ClickSignals
	err          error
	keywordCalls int
	clickCalls   int
	lastTexts    []string
}

func (f *fakeExtractor) ExtractKeywords(ctx context.Context, texts []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keywordCalls++
	f.lastTexts = texts
	return f.keywords, f.err
}

func (f *fakeExtractor) ExtractClickSignals(ctx context.Context, clicks []store.ClickLogEntry) (ClickSignals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clickCalls++
	return f.signals, f.err
}

type harness struct {
	svc       *RecommendationService
	store     *store.SQLiteStore
	provider  *fakeProvider
	extractor *fakeExtractor
	redirects *RedirectService
	agg       *Aggregator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	nop := zerolog.Nop()
	st := newTestStore(t)
	p := newFakeProvider()
	ext := &fakeExtractor{}
	rs := NewRedirectService(redirect.NewCodec("https://shop.test"), st, nop)
	agg := NewAggregator(p, rs, AggregatorConfig{Device: search.DeviceDesktop, QueryTimeout: time.Second}, nop)
	agg.shuffle = func([]search.ProductListing) {}

	svc := NewRecommendationService(
		NewRecommendationCache(st, time.Hour, nop),
		NewInterestExtractor(st, st, ext, time.Second, nop),
		NewQueryPlanner(DefaultPlannerConfig()),
		agg,
		st,
		48*time.Hour,
		nop,
	)
	return &harness{svc: svc, store: st, provider: p, extractor: ext, redirects: rs, agg: agg}
}

// seedChat stores a user with one chat holding the given user messages.
func seedChat(t *testing.T, st *store.SQLiteStore, userID, email string, contents ...string) {
	t.Helper()
	ctx := context.Background()
	user, err := st.GetOrCreateUser(ctx, userID, email)
	require.NoError(t, err)
	chat, err := st.CreateChat(ctx, user.ID, nil)
	require.NoError(t, err)
	for _, c := range contents {
		require.NoError(t, st.CreateMessage(ctx, &store.Message{ChatID: chat.ID, Sender: "user", Content: c}))
	}
}
