package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gwi.com/shopping-assistant/internal/search"
	"gwi.com/shopping-assistant/internal/store"
)

// ErrProviderExhausted means every query issued for a tier failed.
var ErrProviderExhausted = errors.New("search provider exhausted: every query failed")

// DefaultQueries back the default tier and the padding of short results.
var DefaultQueries = []string{
	"best selling laptops",
	"popular smartphones",
	"trending headphones",
	"best gaming accessories",
	"popular home appliances",
}

const defaultListingsPerQuery = 2

// LinkEncoder wraps a seller link in a redirect token.
type LinkEncoder interface {
	Encode(destination string, params map[string]string, userID string) (string, error)
}

type AggregatorConfig struct {
	Device         search.Device
	Location       string
	QueryTimeout   time.Duration
	MaxConcurrency int
	DefaultQueries []string
}

// Aggregator fans planned queries out to the search provider and assembles
// the results into client-facing items.
type Aggregator struct {
	provider search.Provider
	links    LinkEncoder
	cfg      AggregatorConfig
	shuffle  func([]search.ProductListing)
	logger   zerolog.Logger
}

func NewAggregator(provider search.Provider, links LinkEncoder, cfg AggregatorConfig, logger zerolog.Logger) *Aggregator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if len(cfg.DefaultQueries) == 0 {
		cfg.DefaultQueries = DefaultQueries
	}
	return &Aggregator{
		provider: provider,
		links:    links,
		cfg:      cfg,
		shuffle: func(l []search.ProductListing) {
			rand.Shuffle(len(l), func(i, j int) { l[i], l[j] = l[j], l[i] })
		},
		logger: logger.With().Str("component", "aggregator").Logger(),
	}
}

// Fetch runs every query concurrently and keeps at most perQuery listings
// from each. A failing query contributes nothing; only when all of them fail
// is ErrProviderExhausted returned. Results keep query order and are
// deduplicated.
func (a *Aggregator) Fetch(ctx context.Context, queries []string, perQuery int) ([]search.ProductListing, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrency)

	results := make([][]search.ProductListing, len(queries))
	errs := make([]error, len(queries))
	for i, q := range queries {
		g.Go(func() error {
			qctx, cancel := a.queryContext(ctx)
			defer cancel()

			listings, err := a.provider.Search(qctx, search.Query{
				Text:     q,
				Device:   a.cfg.Device,
				Location: a.cfg.Location,
				Num:      perQuery,
			})
			if err != nil {
				errs[i] = err
				a.logger.Warn().Err(err).Str("query", q).Msg("search query failed, skipping")
				return nil
			}
			if perQuery > 0 && len(listings) > perQuery {
				listings = listings[:perQuery]
			}
			results[i] = listings
			return nil
		})
	}
	g.Wait()

	failed := 0
	var lastErr error
	for _, err := range errs {
		if err != nil {
			failed++
			lastErr = err
		}
	}
	if failed == len(queries) {
		return nil, fmt.Errorf("%w (%d queries, last error: %v)", ErrProviderExhausted, failed, lastErr)
	}

	var flat []search.ProductListing
	for _, r := range results {
		flat = append(flat, r...)
	}
	return dedupeListings(flat), nil
}

// FetchAndAssemble runs queries, shuffles, truncates to limit and pads any
// shortfall from the default queries. userID, when set, is embedded in
// every redirect token.
func (a *Aggregator) FetchAndAssemble(ctx context.Context, queries []string, limit int, userID string) ([]store.RecommendationItem, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if len(queries) == 0 {
		return a.DefaultItems(ctx, limit, userID)
	}

	perQuery := (limit + len(queries) - 1) / len(queries)
	listings, err := a.Fetch(ctx, queries, perQuery)
	if err != nil {
		return nil, err
	}
	a.shuffle(listings)
	if len(listings) > limit {
		listings = listings[:limit]
	}

	if short := limit - len(listings); short > 0 {
		pad, err := a.DefaultListings(ctx, limit)
		if err != nil {
			a.logger.Warn().Err(err).Int("shortfall", short).Msg("could not pad results with defaults")
		} else {
			listings = appendMissing(listings, pad, limit)
		}
	}
	return a.Transform(listings, userID), nil
}

// DefaultListings fetches the default query set, two listings per query,
// shuffled and truncated to limit.
func (a *Aggregator) DefaultListings(ctx context.Context, limit int) ([]search.ProductListing, error) {
	listings, err := a.Fetch(ctx, a.cfg.DefaultQueries, defaultListingsPerQuery)
	if err != nil {
		return nil, err
	}
	a.shuffle(listings)
	if len(listings) > limit {
		listings = listings[:limit]
	}
	return listings, nil
}

func (a *Aggregator) DefaultItems(ctx context.Context, limit int, userID string) ([]store.RecommendationItem, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	listings, err := a.DefaultListings(ctx, limit)
	if err != nil {
		return nil, err
	}
	return a.Transform(listings, userID), nil
}

// Transform converts listings to items, wrapping each seller link in a
// redirect token. Listings without a link get an empty URL.
func (a *Aggregator) Transform(listings []search.ProductListing, userID string) []store.RecommendationItem {
	items := make([]store.RecommendationItem, 0, len(listings))
	for _, l := range listings {
		item := store.RecommendationItem{
			ID:      listingID(l),
			Source:  l.Source,
			Title:   l.Title,
			Image:   l.Thumbnail,
			Price:   l.Price,
			Rating:  l.Rating,
			Reviews: l.Reviews,
		}
		if l.Link != "" {
			token, err := a.links.Encode(l.Link, map[string]string{
				"product_id": item.ID,
				"source":     l.Source,
				"title":      l.Title,
				"price":      strconv.FormatFloat(l.Price, 'f', -1, 64),
			}, userID)
			if err != nil {
				a.logger.Warn().Err(err).Str("product_id", item.ID).Msg("failed to build redirect token")
			} else {
				item.URL = token
			}
		}
		items = append(items, item)
	}
	return items
}

func (a *Aggregator) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.QueryTimeout)
}

// listingID prefers the provider id and otherwise derives a stable one from
// the link or title.
func listingID(l search.ProductListing) string {
	if l.ID != "" {
		return l.ID
	}
	name := l.Link
	if name == "" {
		name = l.Source + "|" + l.Title
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func dedupeKey(l search.ProductListing) string {
	switch {
	case l.ID != "":
		return "id:" + l.ID
	case l.Link != "":
		return "link:" + l.Link
	default:
		return "title:" + l.Title
	}
}

func dedupeListings(in []search.ProductListing) []search.ProductListing {
	seen := make(map[string]bool, len(in))
	out := make([]search.ProductListing, 0, len(in))
	for _, l := range in {
		k := dedupeKey(l)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, l)
	}
	return out
}

func appendMissing(dst, extra []search.ProductListing, limit int) []search.ProductListing {
	seen := make(map[string]bool, len(dst))
	for _, l := range dst {
		seen[dedupeKey(l)] = true
	}
	for _, l := range extra {
		if len(dst) >= limit {
			break
		}
		if k := dedupeKey(l); !seen[k] {
			seen[k] = true
			dst = append(dst, l)
		}
	}
	return dst
}
