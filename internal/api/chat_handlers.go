package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gwi.com/shopping-assistant/internal/core"
	"gwi.com/shopping-assistant/internal/store"
)

const recentChatsListed = 50

type ChatMessageInput struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type ChatMessagesRequest struct {
	Messages []ChatMessageInput `json:"messages"`
}

type ChatDetailsResponse struct {
	*store.Chat
	Messages []store.Message `json:"messages"`
}

func (req ChatMessagesRequest) toMessages() []store.Message {
	msgs := make([]store.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, store.Message{Sender: m.Sender, Content: m.Content})
	}
	return msgs
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var req ChatMessagesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	chat, messages, err := h.chats.CreateChat(r.Context(), user.ID, req.toMessages())
	if err != nil {
		if errors.Is(err, core.ErrInvalidMessage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to create chat")
		writeError(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, ChatDetailsResponse{Chat: chat, Messages: messages})
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	chats, err := h.chats.GetChats(r.Context(), user.ID, recentChatsListed)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to list chats")
		writeError(w, http.StatusInternalServerError, "Failed to list chats")
		return
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *APIHandler) GetChatDetailsHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	chatID := chi.URLParam(r, "chatID")

	chat, messages, err := h.chats.GetChatDetails(r.Context(), chatID, user.ID)
	if err != nil {
		if errors.Is(err, core.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "Chat not found")
			return
		}
		h.logger.Error().Err(err).Str("chat_id", chatID).Msg("failed to get chat details")
		writeError(w, http.StatusInternalServerError, "Failed to get chat details")
		return
	}
	writeJSON(w, http.StatusOK, ChatDetailsResponse{Chat: chat, Messages: messages})
}

func (h *APIHandler) AppendMessagesHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	chatID := chi.URLParam(r, "chatID")

	var req ChatMessagesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages cannot be empty")
		return
	}

	messages, err := h.chats.AppendMessages(r.Context(), chatID, user.ID, req.toMessages())
	if err != nil {
		switch {
		case errors.Is(err, core.ErrChatNotFound):
			writeError(w, http.StatusNotFound, "Chat not found")
		case errors.Is(err, core.ErrInvalidMessage):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error().Err(err).Str("chat_id", chatID).Msg("failed to append messages")
			writeError(w, http.StatusInternalServerError, "Failed to post messages")
		}
		return
	}
	writeJSON(w, http.StatusCreated, messages)
}
