// Package chatapp serves the message history endpoints.
package chatapp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/yebrai/dmchat/internal/application/respond"
	"github.com/yebrai/dmchat/internal/domain/chat"
	"github.com/yebrai/dmchat/internal/domain/user"
	"github.com/yebrai/dmchat/internal/infrastructure/auth"
)

// ChatService is the subset of chat.Service the handlers use.
type ChatService interface {
	Conversation(ctx context.Context, viewerID, partnerID int64) ([]*chat.Message, error)
	Conversations(ctx context.Context, userID int64) ([]*chat.Conversation, error)
}

// ChatHandler handles HTTP requests for message history.
type ChatHandler struct {
	chat   ChatService
	logger *slog.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(chat ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger.With("component", "chat_handler")}
}

// MessageView is a message as seen by one participant.
type MessageView struct {
	ID           int64     `json:"id"`
	SenderID     int64     `json:"sender_id"`
	ReceiverID   int64     `json:"receiver_id"`
	Body         string    `json:"body"`
	Timestamp    time.Time `json:"timestamp"`
	IsRead       bool      `json:"is_read"`
	SenderName   string    `json:"sender_name"`
	SenderAvatar string    `json:"sender_avatar"`
	IsOwn        bool      `json:"is_own"`
}

// GetMessages returns the conversation with the user in ?user_id= and marks
// what the caller received in it as read.
// GET /api/messages?user_id=N
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		respond.Error(w, http.StatusBadRequest, "user id required")
		return
	}
	partnerID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || partnerID <= 0 {
		respond.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	msgs, err := h.chat.Conversation(r.Context(), id.UserID, partnerID)
	if err != nil {
		h.logger.Error("failed to load conversation", "user_id", id.UserID, "partner_id", partnerID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		avatar := m.SenderAvatar
		if avatar == "" {
			avatar = user.DefaultAvatar
		}
		views = append(views, MessageView{
			ID:           m.ID,
			SenderID:     m.SenderID,
			ReceiverID:   m.ReceiverID,
			Body:         m.Body,
			Timestamp:    m.CreatedAt,
			IsRead:       m.IsRead,
			SenderName:   m.SenderName,
			SenderAvatar: avatar,
			IsOwn:        m.SenderID == id.UserID,
		})
	}
	respond.JSON(w, http.StatusOK, views)
}

// ConversationView is one entry of the conversation list.
type ConversationView struct {
	UserID          int64     `json:"user_id"`
	Username        string    `json:"username"`
	Avatar          string    `json:"avatar"`
	Status          string    `json:"status"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	UnreadCount     int       `json:"unread_count"`
}

// GetConversations lists the caller's conversation partners, newest first.
// GET /api/conversations
func (h *ChatHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	convs, err := h.chat.Conversations(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("failed to list conversations", "user_id", id.UserID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to load conversations")
		return
	}

	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		avatar := c.Avatar
		if avatar == "" {
			avatar = user.DefaultAvatar
		}
		views = append(views, ConversationView{
			UserID:          c.PartnerID,
			Username:        c.Username,
			Avatar:          avatar,
			Status:          c.Status,
			LastMessage:     c.LastMessage,
			LastMessageTime: c.LastMessageAt,
			UnreadCount:     c.UnreadCount,
		})
	}
	respond.JSON(w, http.StatusOK, views)
}
