package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yebrai/dmchat/internal/domain/user"
)

var (
	ErrEmptyBody        = errors.New("message body cannot be empty")
	ErrBodyTooLong      = errors.New("message body is too long")
	ErrUnknownRecipient = errors.New("recipient does not exist")
)

// MaxBodyLength is the maximum number of characters in a message body.
const MaxBodyLength = 2000

// UserLookup is the part of the user directory the chat service reads.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*user.User, error)
}

// Service provides business logic for direct messages.
type Service struct {
	messages MessageRepository
	users    UserLookup
	now      func() time.Time
}

// NewService creates a new chat Service.
func NewService(messages MessageRepository, users UserLookup) *Service {
	return &Service{
		messages: messages,
		users:    users,
		now:      time.Now,
	}
}

// Send validates and persists a new unread message from senderID to receiverID.
// The returned message carries the sender's display name and avatar.
func (s *Service) Send(ctx context.Context, senderID, receiverID int64, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return nil, ErrBodyTooLong
	}

	if _, err := s.users.GetUser(ctx, receiverID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, ErrUnknownRecipient
		}
		return nil, fmt.Errorf("failed to look up recipient: %w", err)
	}

	m := &Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		CreatedAt:  s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	// The message is durable at this point; a failed profile read only degrades the payload.
	m.SenderAvatar = user.DefaultAvatar
	if sender, err := s.users.GetUser(ctx, senderID); err == nil {
		m.SenderName = sender.Username
		m.SenderAvatar = sender.AvatarOrDefault()
	}
	return m, nil
}

// Conversation returns the history between viewerID and partnerID, then marks
// the messages the viewer received in that history as read. The returned
// messages carry the read flag as it was before this fetch.
func (s *Service) Conversation(ctx context.Context, viewerID, partnerID int64) ([]*Message, error) {
	msgs, err := s.messages.FindConversation(ctx, viewerID, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	var upTo int64
	for _, m := range msgs {
		if m.ReceiverID == viewerID && m.SenderID == partnerID && !m.IsRead && m.ID > upTo {
			upTo = m.ID
		}
	}
	if upTo > 0 {
		if _, err := s.messages.MarkRead(ctx, viewerID, partnerID, upTo); err != nil {
			return nil, fmt.Errorf("failed to mark conversation read: %w", err)
		}
	}
	return msgs, nil
}

// Conversations lists the partners userID has exchanged messages with.
func (s *Service) Conversations(ctx context.Context, userID int64) ([]*Conversation, error) {
	convs, err := s.messages.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}
