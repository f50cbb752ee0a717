package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gwi.com/shopping-assistant/internal/redirect"
)

// Per-IP budget for creating and following redirect links.
const (
	redirectRateLimit  = 120
	redirectRateWindow = time.Minute
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(apiHandler.realIP)
	r.Use(accessLog(apiHandler.logger))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Handle("/metrics", promhttp.Handler())

	// Redirect links live outside /api so the tokens stay short.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(redirectRateLimit, redirectRateWindow))
		r.Use(apiHandler.OptionalAuthMiddleware)
		r.Get(redirect.PathPrefix+"{suffix}", apiHandler.RedirectHandler)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.OptionalAuthMiddleware)

			r.Route("/recommendations", func(r chi.Router) {
				r.Get("/", apiHandler.GetRecommendationsHandler)
				r.Get("/default", apiHandler.GetDefaultRecommendationsHandler)
				r.Get("/trending", apiHandler.GetTrendingHandler)
				r.Get("/category/{category}", apiHandler.GetCategoryHandler)
				r.Post("/refresh", apiHandler.RefreshHandler)
			})

			r.With(httprate.LimitByIP(redirectRateLimit, redirectRateWindow)).
				Post("/redirect", apiHandler.CreateRedirectHandler)

			// Chat transcripts feed the personalized tier.
			r.Group(func(r chi.Router) {
				r.Use(apiHandler.RequireUserMiddleware)

				r.Post("/chats", apiHandler.CreateChatHandler)
				r.Get("/chats", apiHandler.ListChatsHandler)
				r.Get("/chats/{chatID}", apiHandler.GetChatDetailsHandler)
				r.Post("/chats/{chatID}/messages", apiHandler.AppendMessagesHandler)
			})
		})
	})

	return r
}
