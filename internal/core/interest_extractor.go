package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gwi.com/shopping-assistant/internal/metrics"
	"gwi.com/shopping-assistant/internal/store"
)

const (
	recentChatSessions = 10
	messagesPerChat    = 50
	recentClickWindow  = 20
)

// ChatHistory is the read side of the user/chat store.
type ChatHistory interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetRecentChatsByUserID(ctx context.Context, userID int64, n int) ([]store.Chat, error)
	GetMessagesByChatID(ctx context.Context, chatID string, limit int) ([]store.Message, error)
}

// ClickHistory is the read side of the click log.
type ClickHistory interface {
	FindClickLogsByUser(ctx context.Context, userID string, limit int) ([]store.ClickLogEntry, error)
	FindClickLogsSince(ctx context.Context, since time.Time, limit int) ([]store.ClickLogEntry, error)
}

// ClickAnalysis is the click-derived half of a user's interests.
type ClickAnalysis struct {
	ClickSignals
	RecentClicks []store.ClickLogEntry
}

// InterestExtractor turns chat and click history into interest signals.
// Every failure is soft: it is logged and yields no signals.
type InterestExtractor struct {
	chats     ChatHistory
	clicks    ClickHistory
	extractor SignalExtractor
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewInterestExtractor(chats ChatHistory, clicks ClickHistory, extractor SignalExtractor, llmTimeout time.Duration, logger zerolog.Logger) *InterestExtractor {
	return &InterestExtractor{
		chats:     chats,
		clicks:    clicks,
		extractor: extractor,
		timeout:   llmTimeout,
		logger:    logger.With().Str("component", "interest_extractor").Logger(),
	}
}

// FromChats extracts keywords from the user's most recent chat sessions.
func (e *InterestExtractor) FromChats(ctx context.Context, email string) []string {
	if email == "" {
		return nil
	}
	log := e.logger.With().Str("email", email).Logger()

	user, err := e.chats.GetUserByEmail(ctx, email)
	if err != nil {
		metrics.SignalExtractions.WithLabelValues("chats", "error").Inc()
		log.Warn().Err(err).Msg("failed to load user for chat signals")
		return nil
	}
	if user == nil {
		metrics.SignalExtractions.WithLabelValues("chats", "empty").Inc()
		return nil
	}

	chats, err := e.chats.GetRecentChatsByUserID(ctx, user.ID, recentChatSessions)
	if err != nil {
		metrics.SignalExtractions.WithLabelValues("chats", "error").Inc()
		log.Warn().Err(err).Msg("failed to load recent chats")
		return nil
	}

	var texts []string
	for _, chat := range chats {
		msgs, err := e.chats.GetMessagesByChatID(ctx, chat.ID, messagesPerChat)
		if err != nil {
			log.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to load chat messages, skipping chat")
			continue
		}
		for _, m := range msgs {
			if m.Content != "" {
				texts = append(texts, m.Content)
			}
		}
	}
	if len(texts) == 0 {
		metrics.SignalExtractions.WithLabelValues("chats", "empty").Inc()
		return nil
	}

	llmCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	keywords, err := e.extractor.ExtractKeywords(llmCtx, texts)
	if err != nil {
		metrics.SignalExtractions.WithLabelValues("chats", "error").Inc()
		log.Warn().Err(err).Int("messages", len(texts)).Msg("keyword extraction failed")
		return nil
	}
	metrics.SignalExtractions.WithLabelValues("chats", "ok").Inc()
	return keywords
}

// FromClicks analyses the identity's recent clicks. Returns nil when there
// is no identity or no click history. An email identity is resolved to the
// user's id first, since clicks are logged by user id.
func (e *InterestExtractor) FromClicks(ctx context.Context, identity store.Identity) *ClickAnalysis {
	var userID string
	switch identity.Kind {
	case store.IdentityUser:
		userID = identity.Value
	case store.IdentityEmail:
		user, err := e.chats.GetUserByEmail(ctx, identity.Value)
		if err != nil {
			metrics.SignalExtractions.WithLabelValues("clicks", "error").Inc()
			e.logger.Warn().Err(err).Str("email", identity.Value).Msg("failed to resolve user for click signals")
			return nil
		}
		if user == nil {
			return nil
		}
		userID = user.ExternalUserID
	default:
		return nil
	}
	if userID == "" {
		return nil
	}

	clicks, err := e.clicks.FindClickLogsByUser(ctx, userID, recentClickWindow)
	if err != nil {
		metrics.SignalExtractions.WithLabelValues("clicks", "error").Inc()
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to load click history")
		return nil
	}
	if len(clicks) == 0 {
		metrics.SignalExtractions.WithLabelValues("clicks", "empty").Inc()
		return nil
	}

	llmCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	signals, err := e.extractor.ExtractClickSignals(llmCtx, clicks)
	if err != nil {
		metrics.SignalExtractions.WithLabelValues("clicks", "error").Inc()
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("click signal extraction failed")
		return nil
	}
	metrics.SignalExtractions.WithLabelValues("clicks", "ok").Inc()
	return &ClickAnalysis{ClickSignals: signals, RecentClicks: clicks}
}

func (e *InterestExtractor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// Empty reports whether the analysis carries no usable signal.
func (a *ClickAnalysis) Empty() bool {
	return a == nil || len(a.Categories)+len(a.Brands)+len(a.PriceRanges) == 0
}
