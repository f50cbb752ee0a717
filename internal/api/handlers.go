package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"gwi.com/shopping-assistant/internal/auth"
	"gwi.com/shopping-assistant/internal/core"
	"gwi.com/shopping-assistant/internal/store"
)

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStater exposes the search circuit breaker state.
type BreakerStater interface {
	State() gobreaker.State
}

type Services struct {
	Recommendations *core.RecommendationService
	Redirects       *core.RedirectService
	Chats           *core.ChatService
	JWT             *auth.JWTManager
	DB              Pinger
	Breaker         BreakerStater // optional
	TrustedProxies  []string
}

type APIHandler struct {
	recommendations *core.RecommendationService
	redirects       *core.RedirectService
	chats           *core.ChatService
	jwt             *auth.JWTManager
	db              Pinger
	breaker         BreakerStater
	trustedProxies  map[string]bool
	logger          zerolog.Logger
}

func NewAPIHandler(s Services, logger zerolog.Logger) *APIHandler {
	trusted := make(map[string]bool, len(s.TrustedProxies))
	for _, p := range s.TrustedProxies {
		trusted[p] = true
	}
	return &APIHandler{
		recommendations: s.Recommendations,
		redirects:       s.Redirects,
		chats:           s.Chats,
		jwt:             s.JWT,
		db:              s.DB,
		breaker:         s.Breaker,
		trustedProxies:  trusted,
		logger:          logger.With().Str("component", "api").Logger(),
	}
}

type recommendationsResponse struct {
	Items []store.RecommendationItem `json:"items"`
	Count int                        `json:"count"`
}

func respondItems(w http.ResponseWriter, items []store.RecommendationItem) {
	if items == nil {
		items = []store.RecommendationItem{}
	}
	writeJSON(w, http.StatusOK, recommendationsResponse{Items: items, Count: len(items)})
}

func (h *APIHandler) recommendationError(w http.ResponseWriter, r *http.Request, tier string, err error) {
	switch {
	case errors.Is(err, core.ErrProviderExhausted):
		h.logger.Error().Err(err).Str("tier", tier).Msg("recommendations unavailable")
		writeError(w, http.StatusServiceUnavailable, "recommendations are temporarily unavailable")
	case errors.Is(err, core.ErrInvalidLimit), errors.Is(err, core.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		h.logger.Error().Err(err).Str("tier", tier).Str("path", r.URL.Path).Msg("recommendation request failed")
		writeError(w, http.StatusInternalServerError, "failed to load recommendations")
	}
}

// GetRecommendationsHandler serves the personalized tier. The viewer comes
// from the bearer token; email may also be passed as a query parameter.
func (h *APIHandler) GetRecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	viewer, _ := auth.ViewerFrom(r.Context())
	email := viewer.Email
	if email == "" {
		email = r.URL.Query().Get("email")
	}

	items, err := h.recommendations.GetRecommendations(r.Context(), viewer.UserID, email, limit)
	if err != nil {
		h.recommendationError(w, r, "personalized", err)
		return
	}
	respondItems(w, items)
}

func (h *APIHandler) GetDefaultRecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	items, err := h.recommendations.GetDefaultRecommendations(r.Context(), limit)
	if err != nil {
		h.recommendationError(w, r, "default", err)
		return
	}
	respondItems(w, items)
}

func (h *APIHandler) GetTrendingHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	items, err := h.recommendations.GetTrendingProducts(r.Context(), limit)
	if err != nil {
		h.recommendationError(w, r, "trending", err)
		return
	}
	respondItems(w, items)
}

// GetCategoryHandler falls back to the default tier when the category
// queries are exhausted.
func (h *APIHandler) GetCategoryHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	category := chi.URLParam(r, "category")

	items, err := h.recommendations.GetCategoryRecommendations(r.Context(), category, limit)
	if errors.Is(err, core.ErrProviderExhausted) {
		h.logger.Warn().Err(err).Str("category", category).Msg("category tier exhausted, falling back to defaults")
		items, err = h.recommendations.GetDefaultRecommendations(r.Context(), limit)
	}
	if err != nil {
		h.recommendationError(w, r, "category", err)
		return
	}
	respondItems(w, items)
}

type RefreshRequest struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

func (h *APIHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if viewer, ok := auth.ViewerFrom(r.Context()); ok && req.UserID == "" && req.Email == "" {
		req.UserID, req.Email = viewer.UserID, viewer.Email
	}

	n, err := h.recommendations.Refresh(r.Context(), req.UserID, req.Email)
	if err != nil {
		if errors.Is(err, core.ErrNoIdentity) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("user_id", req.UserID).Msg("failed to refresh recommendations")
		writeError(w, http.StatusInternalServerError, "failed to refresh recommendations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"invalidated": n})
}

type CreateRedirectRequest struct {
	URL    string          `json:"url"`
	Params json.RawMessage `json:"params,omitempty"`
	UserID string          `json:"user_id,omitempty"`
}

type CreateRedirectResponse struct {
	RedirectURL string `json:"redirect_url"`
}

func (h *APIHandler) CreateRedirectHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRedirectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	params, err := paramsFromJSON(req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		if viewer, ok := auth.ViewerFrom(r.Context()); ok {
			req.UserID = viewer.UserID
		}
	}

	token, err := h.redirects.Encode(req.URL, params, req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, CreateRedirectResponse{RedirectURL: token})
}

// paramsFromJSON accepts a JSON object (or nothing) and flattens scalar
// values to strings.
func paramsFromJSON(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]string{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.New("params must be an object")
	}
	params := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			params[k] = val
		case float64:
			params[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			params[k] = strconv.FormatBool(val)
		case nil:
			params[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("params.%s: %w", k, err)
			}
			params[k] = string(b)
		}
	}
	return params, nil
}

// RedirectHandler resolves a token, logs the click and sends the client on.
func (h *APIHandler) RedirectHandler(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.ViewerFrom(r.Context())
	dest, ok := h.redirects.ResolveAndLog(r.Context(), r.URL.RequestURI(), core.ClickMeta{
		ViewerUserID: viewer.UserID,
		UserAgent:    r.UserAgent(),
		IPAddress:    clientIP(r),
	})
	if !ok {
		writeError(w, http.StatusNotFound, "link not found")
		return
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]string{"status": "ok"}
	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error().Err(err).Msg("database health check failed")
		resp["status"] = "degraded"
		resp["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if h.breaker != nil {
		resp["search_breaker"] = h.breaker.State().String()
	}
	writeJSON(w, status, resp)
}
