package core

import (
	"slices"
	"sort"
	"strings"
	"time"
	"unicode"

	"gwi.com/shopping-assistant/internal/store"
)

// QueryRule maps any signal containing one of Keywords to Queries.
type QueryRule struct {
	Keywords []string
	Queries  []string
}

// TrendingCategory classifies a clicked title by substring. Label is the
// plural used in generated queries ("trending <Label>").
type TrendingCategory struct {
	Label    string
	Keywords []string
}

// PlannerConfig is the lookup data behind the QueryPlanner. Rules and
// trending categories are matched in order, first match wins.
type PlannerConfig struct {
	Rules              []QueryRule
	Brands             []string
	TrendingCategories []TrendingCategory
	DefaultTrending    []string

	MaxSignals         int
	MaxBrandQueries    int
	TopTrendCategories int
	TopTrendBrands     int
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Rules: []QueryRule{
			// headphones before phones: "headphones" contains "phone".
			{Keywords: []string{"headphone", "earbud", "earphone"}, Queries: []string{"best wireless headphones", "popular earbuds"}},
			{Keywords: []string{"laptop", "computer", "notebook", "macbook"}, Queries: []string{"best laptops under $500", "popular laptops"}},
			{Keywords: []string{"phone", "smartphone", "iphone"}, Queries: []string{"best smartphones", "popular smartphones"}},
			{Keywords: []string{"gaming", "console", "playstation", "xbox"}, Queries: []string{"best gaming accessories", "popular gaming consoles"}},
			{Keywords: []string{"home", "appliance", "kitchen"}, Queries: []string{"best home appliances", "popular kitchen appliances"}},
			{Keywords: []string{"tablet", "ipad"}, Queries: []string{"best tablets"}},
			{Keywords: []string{"smartwatch", "watch"}, Queries: []string{"best smartwatches"}},
			{Keywords: []string{"camera"}, Queries: []string{"best cameras"}},
		},
		Brands: []string{
			"apple", "samsung", "sony", "dell", "hp", "lenovo", "asus", "acer", "microsoft",
			"google", "bose", "lg", "nintendo", "logitech", "razer", "xiaomi", "jbl",
		},
		TrendingCategories: []TrendingCategory{
			{Label: "headphones", Keywords: []string{"headphone", "earbud", "airpods"}},
			{Label: "laptops", Keywords: []string{"laptop", "computer", "notebook", "macbook"}},
			{Label: "smartphones", Keywords: []string{"phone", "smartphone", "iphone", "galaxy"}},
			{Label: "gaming", Keywords: []string{"gaming", "console", "playstation", "xbox", "nintendo switch"}},
		},
		DefaultTrending:    []string{"trending laptops", "popular smartphones", "best selling products"},
		MaxSignals:         3,
		MaxBrandQueries:    2,
		TopTrendCategories: 2,
		TopTrendBrands:     2,
	}
}

// QueryPlanner turns interest signals or a click window into search queries.
// It holds a private copy of its config and never mutates it.
type QueryPlanner struct {
	cfg    PlannerConfig
	brands map[string]bool
}

func NewQueryPlanner(cfg PlannerConfig) *QueryPlanner {
	c := PlannerConfig{
		Brands:             slices.Clone(cfg.Brands),
		DefaultTrending:    slices.Clone(cfg.DefaultTrending),
		MaxSignals:         cfg.MaxSignals,
		MaxBrandQueries:    cfg.MaxBrandQueries,
		TopTrendCategories: cfg.TopTrendCategories,
		TopTrendBrands:     cfg.TopTrendBrands,
	}
	for _, r := range cfg.Rules {
		c.Rules = append(c.Rules, QueryRule{Keywords: slices.Clone(r.Keywords), Queries: slices.Clone(r.Queries)})
	}
	for _, tc := range cfg.TrendingCategories {
		c.TrendingCategories = append(c.TrendingCategories, TrendingCategory{Label: tc.Label, Keywords: slices.Clone(tc.Keywords)})
	}

	brands := make(map[string]bool, len(c.Brands))
	for _, b := range c.Brands {
		brands[strings.ToLower(b)] = true
	}
	return &QueryPlanner{cfg: c, brands: brands}
}

// PersonalizedQueries ranks the merged signals by frequency (ties keep
// first-seen order) and expands the top ones into queries. Brand signals
// become "<brand> products" queries instead of going through the rules.
// An empty result means there was nothing usable.
func (p *QueryPlanner) PersonalizedQueries(signals []string, clicks *ClickAnalysis) []string {
	merged := slices.Clone(signals)
	if clicks != nil {
		merged = append(merged, clicks.Categories...)
		merged = append(merged, clicks.Brands...)
		merged = append(merged, clicks.PriceRanges...)
	}

	ranked := rankByFrequency(normalizeSignals(merged))
	var queries []string
	var brandQueries []string
	topics := 0
	for _, signal := range ranked {
		if p.brands[signal] {
			if len(brandQueries) < p.cfg.MaxBrandQueries {
				brandQueries = append(brandQueries, signal+" products")
			}
			continue
		}
		if topics >= p.cfg.MaxSignals {
			continue
		}
		topics++
		queries = append(queries, p.expand(signal)...)
	}
	return dedupeStrings(append(queries, brandQueries...))
}

func (p *QueryPlanner) expand(signal string) []string {
	for _, rule := range p.cfg.Rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(signal, kw) {
				return rule.Queries
			}
		}
	}
	return []string{"best " + signal}
}

// TrendingQueries aggregates clicks created within window before now by
// the categories and brands in their titles.
func (p *QueryPlanner) TrendingQueries(clicks []store.ClickLogEntry, now time.Time, window time.Duration) []string {
	since := now.Add(-window)
	categories := newCounter()
	brands := newCounter()

	for _, c := range clicks {
		if c.CreatedAt.Before(since) {
			continue
		}
		title := strings.ToLower(c.Params["title"])
		if title == "" {
			continue
		}
		for _, tc := range p.cfg.TrendingCategories {
			if containsAny(title, tc.Keywords) {
				categories.add(tc.Label)
				break
			}
		}
		seen := map[string]bool{}
		for _, word := range words(title) {
			if p.brands[word] && !seen[word] {
				seen[word] = true
				brands.add(word)
			}
		}
	}

	var queries []string
	for _, cat := range categories.top(p.cfg.TopTrendCategories) {
		queries = append(queries, "trending "+cat, "popular "+cat)
	}
	for _, b := range brands.top(p.cfg.TopTrendBrands) {
		queries = append(queries, b+" products")
	}
	if len(queries) == 0 {
		return slices.Clone(p.cfg.DefaultTrending)
	}
	return queries
}

// counter tallies keys and remembers first-seen order for tie breaks.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter { return &counter{counts: map[string]int{}} }

func (c *counter) add(k string) {
	if _, ok := c.counts[k]; !ok {
		c.order = append(c.order, k)
	}
	c.counts[k]++
}

func (c *counter) top(n int) []string {
	keys := slices.Clone(c.order)
	sort.SliceStable(keys, func(i, j int) bool { return c.counts[keys[i]] > c.counts[keys[j]] })
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func rankByFrequency(signals []string) []string {
	c := newCounter()
	for _, s := range signals {
		c.add(s)
	}
	return c.top(len(c.order))
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
