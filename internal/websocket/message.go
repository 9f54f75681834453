package websocket

import (
	"encoding/json"
	"time"

	"github.com/yebrai/dmchat/internal/domain/chat"
	"github.com/yebrai/dmchat/internal/domain/user"
)

// MessageType names a frame of the realtime protocol.
type MessageType string

const (
	// SendMessageType asks the server to store and deliver a direct message.
	// Direction: Client to Server (C2S).
	SendMessageType MessageType = "send_message"

	// TypingStartType tells the receiver that the sender started typing.
	// Direction: Client to Server (C2S).
	TypingStartType MessageType = "typing_start"

	// TypingStopType tells the receiver that the sender stopped typing.
	// Direction: Client to Server (C2S).
	TypingStopType MessageType = "typing_stop"

	// PresenceChangedType announces that a user came online or went offline.
	// Direction: Server to Client (S2C).
	PresenceChangedType MessageType = "presence_changed"

	// NewMessageType carries a stored direct message.
	// Direction: Server to Client (S2C).
	NewMessageType MessageType = "new_message"

	// TypingType is the forwarded form of typing_start.
	// Direction: Server to Client (S2C).
	TypingType MessageType = "typing"

	// StopTypingType is the forwarded form of typing_stop.
	// Direction: Server to Client (S2C).
	StopTypingType MessageType = "stop_typing"

	// ErrorType reports a failed inbound frame to its sender only.
	// Direction: Server to Client (S2C).
	ErrorType MessageType = "error"
)

// Error codes carried by ErrorPayload.
const (
	CodeInvalidArgument    = "invalid_argument"
	CodePersistenceFailure = "persistence_failure"
	CodeRateLimited        = "rate_limited"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Payload   any         `json:"payload,omitempty"`
}

// inboundEnvelope defers payload decoding until the type is known.
type inboundEnvelope struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// SendMessagePayload is the payload of send_message.
type SendMessagePayload struct {
	ReceiverID int64  `json:"receiver_id"`
	Body       string `json:"body"`
}

// TypingPayload is the payload of typing_start and typing_stop.
type TypingPayload struct {
	ReceiverID int64 `json:"receiver_id"`
}

// PresencePayload is the payload of presence_changed.
type PresencePayload struct {
	UserID int64       `json:"user_id"`
	Status user.Status `json:"status"`
}

// NewMessagePayload is the payload of new_message. Each recipient gets its own
// copy because IsOwn differs between the sender echo and the receiver copy.
type NewMessagePayload struct {
	ID           int64     `json:"id"`
	SenderID     int64     `json:"sender_id"`
	ReceiverID   int64     `json:"receiver_id"`
	Body         string    `json:"body"`
	Timestamp    time.Time `json:"timestamp"`
	SenderName   string    `json:"sender_name"`
	SenderAvatar string    `json:"sender_avatar"`
	IsOwn        bool      `json:"is_own"`
}

func newMessagePayload(m *chat.Message, own bool) NewMessagePayload {
	return NewMessagePayload{
		ID:           m.ID,
		SenderID:     m.SenderID,
		ReceiverID:   m.ReceiverID,
		Body:         m.Body,
		Timestamp:    m.CreatedAt,
		SenderName:   m.SenderName,
		SenderAvatar: m.SenderAvatar,
		IsOwn:        own,
	}
}

// TypingNotice is the payload of typing.
type TypingNotice struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// StopTypingNotice is the payload of stop_typing.
type StopTypingNotice struct {
	UserID int64 `json:"user_id"`
}

// ErrorPayload is the payload of error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
