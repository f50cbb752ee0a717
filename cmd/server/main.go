package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gwi.com/shopping-assistant/internal/api"
	"gwi.com/shopping-assistant/internal/auth"
	"gwi.com/shopping-assistant/internal/config"
	"gwi.com/shopping-assistant/internal/core"
	"gwi.com/shopping-assistant/internal/logging"
	"gwi.com/shopping-assistant/internal/redirect"
	"gwi.com/shopping-assistant/internal/search"
	"gwi.com/shopping-assistant/internal/store"
)

func main() {
	// Command line flag for issuing a development token
	tokenFor := flag.String("token", "", "Print a bearer token for `user_id[:email]` and exit")
	flag.Parse()

	// Load configuration
	envLoaded, cfgErr := config.LoadConfig()
	cfg := config.AppConfig

	// Setup logging
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger := logging.Logger()
	if !envLoaded {
		logger.Debug().Msg("no .env file found, using process environment")
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, 24*time.Hour)
	if *tokenFor != "" {
		userID, email, _ := strings.Cut(*tokenFor, ":")
		token, err := jwtManager.GenerateJWT(userID, email)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to issue token")
		}
		fmt.Println(token)
		return
	}

	if cfgErr != nil {
		logger.Fatal().Err(cfgErr).Msg("invalid configuration")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer dbStore.Close()

	// Initialize LLM service
	llmService, err := core.NewLLMService(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize LLM service")
	}
	defer llmService.Close()

	// Search provider: rate limited client behind a circuit breaker
	serp, err := search.NewSerpAPIClient(search.SerpAPIConfig{
		APIKey:     cfg.SerpAPIKey,
		Endpoint:   cfg.SearchEndpoint,
		RatePerSec: cfg.ProviderRatePerSec,
		Burst:      cfg.ProviderRateBurst,
		MaxRetries: 2,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize search provider")
	}
	provider := search.NewBreakerProvider("search-provider", serp, logger)

	codec := redirect.NewCodec(cfg.PublicBaseURL)
	redirectService := core.NewRedirectService(codec, dbStore, logger)

	aggregator := core.NewAggregator(provider, redirectService, core.AggregatorConfig{
		Device:         search.ParseDevice(cfg.SearchDevice),
		Location:       cfg.SearchLocation,
		QueryTimeout:   cfg.ProviderTimeout,
		MaxConcurrency: cfg.MaxConcurrentQueries,
	}, logger)

	recommendationService := core.NewRecommendationService(
		core.NewRecommendationCache(dbStore, cfg.CacheTTL, logger),
		core.NewInterestExtractor(dbStore, dbStore, llmService, cfg.LLMTimeout, logger),
		core.NewQueryPlanner(core.DefaultPlannerConfig()),
		aggregator,
		dbStore,
		cfg.TrendingWindow,
		logger,
	)
	chatService := core.NewChatService(dbStore, logger)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(api.Services{
		Recommendations: recommendationService,
		Redirects:       redirectService,
		Chats:           chatService,
		JWT:             jwtManager,
		DB:              dbStore,
		Breaker:         provider,
		TrustedProxies:  cfg.TrustedProxies,
	}, logger)
	router := api.NewRouter(apiHandler)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.CacheSweepInterval > 0 {
		go sweepCache(ctx, dbStore, cfg.CacheSweepInterval)
	}

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // fan-out to the search provider can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info().Str("addr", serverAddr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Str("addr", serverAddr).Msg("could not listen")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// llmService.Close() and dbStore.Close() will be called by their defers.
	logger.Info().Msg("server exiting gracefully")
}

// sweepCache deletes expired recommendation cache rows until ctx is done.
func sweepCache(ctx context.Context, s *store.SQLiteStore, every time.Duration) {
	log := logging.Component("cache_sweeper")
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpiredCacheEntries(ctx, time.Now())
			if err != nil {
				log.Warn().Err(err).Msg("cache sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("entries", n).Msg("purged expired cache entries")
			}
		}
	}
}
