package chat

import "context"

// MessageRepository defines the interface for interacting with message storage.
type MessageRepository interface {
	// Create stores an unread message and fills in ID.
	Create(ctx context.Context, m *Message) error
	// FindConversation returns the messages exchanged between a and b in creation order,
	// with sender name and avatar joined in.
	FindConversation(ctx context.Context, a, b int64) ([]*Message, error)
	// MarkRead flips unread messages from senderID to receiverID with id <= upToID
	// and returns how many changed.
	MarkRead(ctx context.Context, receiverID, senderID, upToID int64) (int64, error)
	// ListConversations returns one summary per partner, most recent first.
	ListConversations(ctx context.Context, userID int64) ([]*Conversation, error)
}
