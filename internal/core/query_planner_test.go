package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gwi.com/shopping-assistant/internal/store"
)

func TestPersonalizedQueriesRanksByFrequency(t *testing.T) {
	p := NewQueryPlanner(DefaultPlannerConfig())

	got := p.PersonalizedQueries([]string{"laptop", "laptop", "phone"}, nil)
	require.Equal(t, []string{
		"best laptops under $500",
		"popular laptops",
		"best smartphones",
		"popular smartphones",
	}, got)
}

func TestPersonalizedQueriesTiesKeepFirstSeen(t *testing.T) {
	p := NewQueryPlanner(DefaultPlannerConfig())

	got := p.PersonalizedQueries([]string{"camera", "headphones"}, nil)
	require.Equal(t, []string{"best cameras", "best wireless headphones", "popular earbuds"}, got)
}

func TestPersonalizedQueriesMergesClicksAndBrands(t *testing.T) {
	p := NewQueryPlanner(DefaultPlannerConfig())
	clicks := &ClickAnalysis{ClickSignals: ClickSignals{
		Categories:  []string{"Gaming Laptop", "drone"},
		Brands:      []string{"Sony", "apple", "dell"},
		PriceRanges: []string{"under $500"},
	}}

	got := p.PersonalizedQueries([]string{"sony", "drone"}, clicks)
	// "drone" and "sony" appear twice. Sony is a brand and becomes a
	// brand query; brand queries are capped at two.
	require.Equal(t, []string{
		"best drone",
		"best laptops under $500",
		"popular laptops",
		"best under $500",
		"sony products",
		"apple products",
	}, got)
}

func TestPersonalizedQueriesTopThreeOnly(t *testing.T) {
	p := NewQueryPlanner(DefaultPlannerConfig())
	got := p.PersonalizedQueries([]string{"kayak", "tent", "stove", "lantern"}, nil)
	require.Equal(t, []string{"best kayak", "best tent", "best stove"}, got)
}

func TestPersonalizedQueriesEmpty(t *testing.T) {
	p := NewQueryPlanner(DefaultPlannerConfig())
	require.Empty(t, p.PersonalizedQueries(nil, nil))
	require.Empty(t, p.PersonalizedQueries([]string{" ", ""}, &ClickAnalysis{}))
}

func TestPlannerConfigIsCopied(t *testing.T) {
	cfg := DefaultPlannerConfig()
	p := NewQueryPlanner(cfg)
	cfg.Rules[1].Queries[0] = "mutated"
	cfg.DefaultTrending[0] = "mutated"

	require.Equal(t, "best laptops under $500", p.PersonalizedQueries([]string{"laptop"}, nil)[0])
	require.Equal(t, "trending laptops", p.TrendingQueries(nil, time.Now(), time.Hour)[0])
}

func click(title string, at time.Time) store.ClickLogEntry {
	return store.ClickLogEntry{Params: map[string]string{"title": title}, CreatedAt: at}
}

func TestTrendingQueries(t *testing.T) {
	p := NewQueryPlanner(DefaultPlannerConfig())
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)

	clicks := []store.ClickLogEntry{
		click("Samsung Galaxy S24 Smartphone", recent),
		click("Apple MacBook Air Laptop", recent),
		click("Dell XPS 13 Laptop", recent),
		click("Sony WH-1000XM5 Headphones", recent),
		click("Apple iPhone 15", recent),
		click("HP Pavilion Laptop", now.Add(-72*time.Hour)), // outside window
	}

	got := p.TrendingQueries(clicks, now, 48*time.Hour)
	require.Equal(t, []string{
		"trending smartphones", "popular smartphones",
		"trending laptops", "popular laptops",
		"apple products", "samsung products",
	}, got)
}

func TestTrendingQueriesHeadphonesAreNotPhones(t *testing.T) {
	p := NewQueryPlanner(DefaultPlannerConfig())
	now := time.Now()
	got := p.TrendingQueries([]store.ClickLogEntry{click("Wireless Headphones", now)}, now, time.Hour)
	require.Equal(t, []string{"trending headphones", "popular headphones"}, got)
}

func TestTrendingQueriesDefaults(t *testing.T) {
	p := NewQueryPlanner(DefaultPlannerConfig())
	now := time.Now()
	want := []string{"trending laptops", "popular smartphones", "best selling products"}

	require.Equal(t, want, p.TrendingQueries(nil, now, time.Hour))
	require.Equal(t, want, p.TrendingQueries([]store.ClickLogEntry{click("Garden Hose", now)}, now, time.Hour))
	require.Equal(t, want, p.TrendingQueries([]store.ClickLogEntry{click("Laptop", now.Add(-2*time.Hour))}, now, time.Hour))
}
