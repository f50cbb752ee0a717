package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"gwi.com/shopping-assistant/internal/metrics"
)

const DefaultEndpoint = "https://serpapi.com/search.json"

var ErrMissingAPIKey = errors.New("search: api key is required")

type SerpAPIConfig struct {
	APIKey       string
	Endpoint     string
	RatePerSec   float64
	Burst        int
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
}

// SerpAPIClient queries the SerpApi google_shopping engine.
type SerpAPIClient struct {
	cfg     SerpAPIConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewSerpAPIClient(cfg SerpAPIConfig, logger zerolog.Logger) (*SerpAPIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}

	return &SerpAPIClient{
		cfg:     cfg,
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		logger:  logger.With().Str("component", "serpapi").Logger(),
	}, nil
}

type shoppingResponse struct {
	Error           string           `json:"error"`
	ShoppingResults []shoppingResult `json:"shopping_results"`
}

type shoppingResult struct {
	ProductID      string   `json:"product_id"`
	Title          string   `json:"title"`
	Source         string   `json:"source"`
	Thumbnail      string   `json:"thumbnail"`
	Price          string   `json:"price"`
	ExtractedPrice *float64 `json:"extracted_price"`
	Link           string   `json:"link"`
	ProductLink    string   `json:"product_link"`
	Rating         *float64 `json:"rating"`
	Reviews        *int     `json:"reviews"`
}

func (c *SerpAPIClient) Search(ctx context.Context, q Query) ([]ProductListing, error) {
	start := time.Now()
	listings, err := c.search(ctx, q)
	metrics.SearchQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchQueries.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.SearchQueries.WithLabelValues("success").Inc()
	return listings, nil
}

func (c *SerpAPIClient) search(ctx context.Context, q Query) ([]ProductListing, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{
		"engine":  {"google_shopping"},
		"q":       {q.Text},
		"api_key": {c.cfg.APIKey},
		"device":  {string(ParseDevice(string(q.Device)))},
	}
	if q.Location != "" {
		params.Set("location", q.Location)
	}
	if q.Num > 0 {
		params.Set("num", strconv.Itoa(q.Num))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := doWithRetry(ctx, c.http, req, c.cfg.MaxRetries, c.cfg.RetryBackoff)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Text, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("search %q: read body: %w", q.Text, err)
	}

	var parsed shoppingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("search %q: status %d", q.Text, resp.StatusCode)
		}
		return nil, fmt.Errorf("search %q: decode response: %w", q.Text, err)
	}
	// SerpApi reports "no results" through the error field with a 200.
	if parsed.Error != "" {
		if strings.Contains(strings.ToLower(parsed.Error), "hasn't returned any results") {
			return []ProductListing{}, nil
		}
		return nil, fmt.Errorf("search %q: provider error: %s", q.Text, parsed.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search %q: status %d", q.Text, resp.StatusCode)
	}

	listings := make([]ProductListing, 0, len(parsed.ShoppingResults))
	for _, r := range parsed.ShoppingResults {
		listings = append(listings, r.toListing())
	}
	c.logger.Debug().Str("query", q.Text).Int("results", len(listings)).Msg("search completed")
	return listings, nil
}

func (r shoppingResult) toListing() ProductListing {
	l := ProductListing{
		ID:        r.ProductID,
		Source:    r.Source,
		Title:     r.Title,
		Thumbnail: r.Thumbnail,
		Link:      r.Link,
	}
	if l.Link == "" {
		l.Link = r.ProductLink
	}
	switch {
	case r.ExtractedPrice != nil:
		l.Price = *r.ExtractedPrice
	case r.Price != "":
		l.Price = parsePrice(r.Price)
	}
	if r.Rating != nil {
		l.Rating = *r.Rating
	}
	if r.Reviews != nil {
		l.Reviews = *r.Reviews
	}
	return l
}

// parsePrice reads strings like "$1,299.99" or "1299 USD". Unparseable
// input yields 0.
func parsePrice(s string) float64 {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		} else if b.Len() > 0 && r != ',' {
			break
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return v
}
