package chat

import "time"

// Message is a direct message between two users. It is immutable once created
// except for the read flag, which flips once when the receiver fetches the conversation.
type Message struct {
	ID           int64     `json:"id"`
	SenderID     int64     `json:"sender_id"`
	ReceiverID   int64     `json:"receiver_id"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"timestamp"`
	IsRead       bool      `json:"is_read"`
	SenderName   string    `json:"sender_name"`
	SenderAvatar string    `json:"sender_avatar"`
}

// Conversation summarizes the exchange between a user and one partner.
type Conversation struct {
	PartnerID     int64     `json:"user_id"`
	Username      string    `json:"username"`
	Avatar        string    `json:"avatar"`
	Status        string    `json:"status"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
}
