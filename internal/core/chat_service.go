package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"gwi.com/shopping-assistant/internal/store"
)

var (
	ErrChatNotFound   = errors.New("chat not found")
	ErrInvalidMessage = errors.New("message sender must be user or model and content must be set")
)

const maxTitleRunes = 60

// ChatStore is the write side of the chat transcript store.
type ChatStore interface {
	GetOrCreateUser(ctx context.Context, externalUserID, email string) (*store.User, error)
	CreateChat(ctx context.Context, userID int64, title *string) (*store.Chat, error)
	GetChatByID(ctx context.Context, chatID string, userID int64) (*store.Chat, error)
	GetRecentChatsByUserID(ctx context.Context, userID int64, n int) ([]store.Chat, error)
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessagesByChatID(ctx context.Context, chatID string, limit int) ([]store.Message, error)
}

// ChatService records shopping conversations. The transcripts are what
// InterestExtractor.FromChats reads.
type ChatService struct {
	store  ChatStore
	logger zerolog.Logger
}

func NewChatService(s ChatStore, logger zerolog.Logger) *ChatService {
	return &ChatService{store: s, logger: logger.With().Str("component", "chat_service").Logger()}
}

// GetOrCreateUser ensures a user exists for the external id.
func (s *ChatService) GetOrCreateUser(ctx context.Context, externalUserID, email string) (*store.User, error) {
	return s.store.GetOrCreateUser(ctx, externalUserID, email)
}

// CreateChat opens a chat and stores the initial messages. The title is
// taken from the first user message.
func (s *ChatService) CreateChat(ctx context.Context, userID int64, messages []store.Message) (*store.Chat, []store.Message, error) {
	if err := validateMessages(messages); err != nil {
		return nil, nil, err
	}

	var title *string
	for _, m := range messages {
		if m.Sender == "user" {
			t := chatTitle(m.Content)
			title = &t
			break
		}
	}

	// This should ideally be wrapped in a transaction
	chat, err := s.store.CreateChat(ctx, userID, title)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chat in DB: %w", err)
	}
	stored, err := s.appendMessages(ctx, chat.ID, messages)
	return chat, stored, err
}

// AppendMessages adds messages to a chat owned by userID.
func (s *ChatService) AppendMessages(ctx context.Context, chatID string, userID int64, messages []store.Message) ([]store.Message, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}
	chat, err := s.store.GetChatByID(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return s.appendMessages(ctx, chatID, messages)
}

func (s *ChatService) GetChats(ctx context.Context, userID int64, n int) ([]store.Chat, error) {
	return s.store.GetRecentChatsByUserID(ctx, userID, n)
}

func (s *ChatService) GetChatDetails(ctx context.Context, chatID string, userID int64) (*store.Chat, []store.Message, error) {
	chat, err := s.store.GetChatByID(ctx, chatID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get chat: %w", err)
	}
	if chat == nil {
		return nil, nil, ErrChatNotFound
	}
	messages, err := s.store.GetMessagesByChatID(ctx, chatID, 100)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages for chat: %w", err)
	}
	return chat, messages, nil
}

func (s *ChatService) appendMessages(ctx context.Context, chatID string, messages []store.Message) ([]store.Message, error) {
	stored := make([]store.Message, 0, len(messages))
	for _, m := range messages {
		msg := store.Message{ChatID: chatID, Sender: m.Sender, Content: m.Content}
		if err := s.store.CreateMessage(ctx, &msg); err != nil {
			s.logger.Error().Err(err).Str("chat_id", chatID).Msg("failed to store message")
			return stored, fmt.Errorf("failed to store message: %w", err)
		}
		stored = append(stored, msg)
	}
	return stored, nil
}

func validateMessages(messages []store.Message) error {
	for _, m := range messages {
		if (m.Sender != "user" && m.Sender != "model") || strings.TrimSpace(m.Content) == "" {
			return ErrInvalidMessage
		}
	}
	return nil
}

func chatTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	r := []rune(content)
	if len(r) > maxTitleRunes {
		return strings.TrimSpace(string(r[:maxTitleRunes])) + "..."
	}
	return content
}
