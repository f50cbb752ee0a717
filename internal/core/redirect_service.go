package core

import (
	"context"

	"github.com/rs/zerolog"

	"gwi.com/shopping-assistant/internal/metrics"
	"gwi.com/shopping-assistant/internal/redirect"
	"gwi.com/shopping-assistant/internal/store"
)

// ClickLogWriter appends click log entries.
type ClickLogWriter interface {
	InsertClickLog(ctx context.Context, entry *store.ClickLogEntry) error
}

// ClickMeta is what the HTTP layer knows about the viewer of a redirect.
// Every field is optional.
type ClickMeta struct {
	ViewerUserID string
	UserAgent    string
	IPAddress    string
}

type RedirectService struct {
	codec  *redirect.Codec
	clicks ClickLogWriter
	logger zerolog.Logger
}

func NewRedirectService(codec *redirect.Codec, clicks ClickLogWriter, logger zerolog.Logger) *RedirectService {
	return &RedirectService{
		codec:  codec,
		clicks: clicks,
		logger: logger.With().Str("component", "redirect_service").Logger(),
	}
}

// Encode issues a redirect token. It satisfies LinkEncoder.
func (s *RedirectService) Encode(destination string, params map[string]string, userID string) (string, error) {
	token, err := s.codec.Encode(destination, params, userID)
	if err != nil {
		return "", err
	}
	metrics.RedirectTokensIssued.Inc()
	return token, nil
}

// ResolveAndLog decodes proxyPath and appends one click log entry. ok is
// false, and nothing is written, when the token cannot be decoded. A failed
// log write is reported but does not block the redirect.
func (s *RedirectService) ResolveAndLog(ctx context.Context, proxyPath string, meta ClickMeta) (redirectURL string, ok bool) {
	payload, ok := s.codec.Decode(proxyPath)
	if !ok {
		metrics.RedirectResolutions.WithLabelValues("not_found").Inc()
		return "", false
	}

	userID := payload.UserID
	if userID == "" {
		userID = meta.ViewerUserID
	}
	entry := &store.ClickLogEntry{
		OriginalURL: payload.OriginalURL,
		Token:       proxyPath,
		Params:      payload.Params,
		RedirectURL: payload.RedirectURL,
		UserID:      userID,
		UserAgent:   meta.UserAgent,
		IPAddress:   meta.IPAddress,
	}
	if err := s.clicks.InsertClickLog(ctx, entry); err != nil {
		metrics.RedirectResolutions.WithLabelValues("log_failed").Inc()
		s.logger.Error().Err(err).Str("original_url", payload.OriginalURL).Msg("failed to write click log")
		return payload.RedirectURL, true
	}
	metrics.RedirectResolutions.WithLabelValues("resolved").Inc()
	return payload.RedirectURL, true
}
