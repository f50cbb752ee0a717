package search

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"gwi.com/shopping-assistant/internal/metrics"
)

// BreakerProvider wraps a Provider with a circuit breaker. Rejected calls
// fail fast with gobreaker.ErrOpenState or gobreaker.ErrTooManyRequests and
// are treated by callers like any other per-query failure.
type BreakerProvider struct {
	next   Provider
	cb     *gobreaker.CircuitBreaker[[]ProductListing]
	name   string
	logger zerolog.Logger
}

// Opens when failure rate >= 60% over at least 10 requests in a one minute
// window; probes again after two minutes with up to 3 requests.
func NewBreakerProvider(name string, next Provider, logger zerolog.Logger) *BreakerProvider {
	logger = logger.With().Str("component", "breaker").Str("breaker", name).Logger()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]ProductListing](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logger.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("opening circuit")
			}
			return shouldTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerProvider{next: next, cb: cb, name: name, logger: logger}
}

func (b *BreakerProvider) Search(ctx context.Context, q Query) ([]ProductListing, error) {
	listings, err := b.cb.Execute(func() ([]ProductListing, error) {
		return b.next.Search(ctx, q)
	})
	if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		metrics.SearchQueries.WithLabelValues("rejected").Inc()
		b.logger.Debug().Str("query", q.Text).Err(err).Msg("search rejected by breaker")
	}
	return listings, err
}

// State is exposed for the health endpoint.
func (b *BreakerProvider) State() gobreaker.State {
	return b.cb.State()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
