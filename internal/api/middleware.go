package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"gwi.com/shopping-assistant/internal/auth"
	"gwi.com/shopping-assistant/internal/store"
)

type userKey struct{}

// OptionalAuthMiddleware attaches the viewer when a valid bearer token is
// sent. Requests without a token pass through anonymously; a token that
// does not validate is rejected.
func (h *APIHandler) OptionalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !h.jwt.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		viewer, err := h.jwt.ValidateJWT(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithViewer(r.Context(), viewer)))
	})
}

// RequireUserMiddleware needs an authenticated viewer and resolves it to a
// stored user, creating one on first sight.
func (h *APIHandler) RequireUserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := auth.ViewerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		user, err := h.chats.GetOrCreateUser(r.Context(), viewer.UserID, viewer.Email)
		if err != nil {
			h.logger.Error().Err(err).Str("user_id", viewer.UserID).Msg("failed to resolve user")
			writeError(w, http.StatusInternalServerError, "Failed to process user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(ctx context.Context) *store.User {
	u, _ := ctx.Value(userKey{}).(*store.User)
	return u
}

// realIP rewrites RemoteAddr from X-Forwarded-For or X-Real-IP, but only
// when the peer is a trusted proxy. Everyone else is keyed and logged by
// the connection address.
func (h *APIHandler) realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.trustedProxies) > 0 && h.trustedProxies[clientIP(r)] {
			if ip := forwardedIP(r); ip != "" {
				r.RemoteAddr = net.JoinHostPort(ip, "0")
			}
		}
		next.ServeHTTP(w, r)
	})
}

func forwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return ""
}

// accessLog writes one structured line per request.
func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := logger.Info()
			if status >= http.StatusInternalServerError {
				ev = logger.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
