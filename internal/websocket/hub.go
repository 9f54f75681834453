// Package websocket routes realtime events between connected users: presence,
// direct messages and typing indicators.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yebrai/dmchat/internal/domain/chat"
	"github.com/yebrai/dmchat/internal/domain/user"
)

// Directory persists the online status mirrored from live connections.
type Directory interface {
	SetStatus(ctx context.Context, id int64, status user.Status, lastSeen time.Time) error
}

// MessageStore validates and durably records a direct message.
type MessageStore interface {
	Send(ctx context.Context, senderID, receiverID int64, body string) (*chat.Message, error)
}

// Metrics receives hub counters.
type Metrics interface {
	SetConnections(n int)
	IncEvent(eventType string)
	IncSendFailure()
	IncSlowConsumer()
}

type nopMetrics struct{}

func (nopMetrics) SetConnections(int) {}
func (nopMetrics) IncEvent(string)    {}
func (nopMetrics) IncSendFailure()    {}
func (nopMetrics) IncSlowConsumer()   {}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics reports hub activity to m.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithInboundLimit caps inbound frames per connection. A zero limit disables it.
func WithInboundLimit(limit rate.Limit, burst int) Option {
	return func(h *Hub) {
		h.inboundRate = limit
		h.inboundBurst = burst
	}
}

// Hub maintains the set of active connections and routes events between them.
// Events from one connection are handled one at a time on that connection's
// read goroutine, so a receiver sees one sender's frames in the order sent.
type Hub struct {
	registry *Registry
	users    Directory
	messages MessageStore
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time

	inboundRate  rate.Limit
	inboundBurst int

	// Connect and Disconnect of one user hold its stripe for the whole
	// transition, broadcast included, so peers see that user's presence
	// changes in the order they were persisted.
	lifecycle [64]sync.Mutex

	// Clients with running pumps, superseded ones included.
	runMu    sync.Mutex
	running  map[*Client]struct{}
	stopping bool
	pumps    sync.WaitGroup
}

// NewHub creates a Hub with an empty presence registry.
func NewHub(users Directory, messages MessageStore, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		registry: NewRegistry(),
		users:    users,
		messages: messages,
		logger:   logger.With("component", "hub"),
		metrics:  nopMetrics{},
		now:      time.Now,
		running:  make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsOnline reports whether userID has a live connection.
func (h *Hub) IsOnline(userID int64) bool { return h.registry.IsOnline(userID) }

func (h *Hub) userLock(userID int64) *sync.Mutex {
	return &h.lifecycle[uint64(userID)%uint64(len(h.lifecycle))]
}

// Connect registers c as the live connection of its user, marks the user
// online and announces it to every connection. The newcomer also learns who
// is already online; those frames are held apart from its send buffer so a
// large roster never trips the slow consumer check. A client without an
// identity is ignored.
func (h *Hub) Connect(ctx context.Context, c *Client) bool {
	if c == nil || c.userID <= 0 {
		h.logger.Debug("connect without identity ignored")
		return false
	}

	mu := h.userLock(c.userID)
	mu.Lock()
	defer mu.Unlock()

	if prev := h.registry.Register(c.userID, c.username, c); prev != nil && prev != c {
		h.logger.Warn("connection superseded", "user_id", c.userID)
	}
	h.metrics.SetConnections(h.registry.Len())

	if err := h.users.SetStatus(ctx, c.userID, user.StatusOnline, h.now().UTC()); err != nil {
		h.logger.Error("failed to persist online status", "user_id", c.userID, "error", err)
	}

	var backlog []*Envelope
	for _, other := range h.registry.Snapshot() {
		if other == c || other.userID == c.userID {
			continue
		}
		backlog = append(backlog, presenceEnvelope(other.userID, user.StatusOnline))
	}
	c.setBacklog(backlog)
	h.broadcast(presenceEnvelope(c.userID, user.StatusOnline))

	h.logger.Info("client connected", "user_id", c.userID, "username", c.username)
	return true
}

// Disconnect closes c and, if it is still the user's live connection, removes
// the presence entry, marks the user offline and announces it. Disconnecting
// a superseded or already disconnected client only closes it.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	c.close()

	mu := h.userLock(c.userID)
	mu.Lock()
	defer mu.Unlock()

	if !h.registry.Release(c.userID, c) {
		return
	}
	h.metrics.SetConnections(h.registry.Len())

	if err := h.users.SetStatus(ctx, c.userID, user.StatusOffline, h.now().UTC()); err != nil {
		h.logger.Error("failed to persist offline status", "user_id", c.userID, "error", err)
	}
	h.broadcast(presenceEnvelope(c.userID, user.StatusOffline))

	h.logger.Info("client disconnected", "user_id", c.userID)
}

// Evict disconnects the live connection of userID, if any.
func (h *Hub) Evict(ctx context.Context, userID int64) bool {
	c, ok := h.registry.Lookup(userID)
	if !ok {
		return false
	}
	h.Disconnect(ctx, c)
	return true
}

// Shutdown disconnects every user so each is persisted offline. It then
// closes superseded connections still running and waits for all read pumps
// until ctx ends. Connections started afterwards are turned away.
func (h *Hub) Shutdown(ctx context.Context) error {
	for _, c := range h.registry.Snapshot() {
		h.Disconnect(ctx, c)
	}

	h.runMu.Lock()
	h.stopping = true
	for c := range h.running {
		c.close()
	}
	h.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}

// track reports false once Shutdown has started.
func (h *Hub) track(c *Client) bool {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.stopping {
		return false
	}
	h.running[c] = struct{}{}
	h.pumps.Add(1)
	return true
}

func (h *Hub) untrack(c *Client) {
	h.runMu.Lock()
	delete(h.running, c)
	h.runMu.Unlock()
	h.pumps.Done()
}

// Dispatch decodes one inbound frame from c and handles it.
func (h *Hub) Dispatch(ctx context.Context, c *Client, data []byte) {
	var in inboundEnvelope
	if err := json.Unmarshal(data, &in); err != nil {
		c.deliver(errorEnvelope("", CodeInvalidArgument, "malformed frame"))
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		h.logger.Warn("inbound rate exceeded", "user_id", c.userID, "type", in.Type)
		c.deliver(errorEnvelope(in.RequestID, CodeRateLimited, "too many events"))
		return
	}

	switch in.Type {
	case SendMessageType:
		var p SendMessagePayload
		if !decodePayload(c, in, &p) {
			return
		}
		h.SendMessage(ctx, c, in.RequestID, p)
	case TypingStartType:
		var p TypingPayload
		if !decodePayload(c, in, &p) {
			return
		}
		h.TypingStart(c, p.ReceiverID)
	case TypingStopType:
		var p TypingPayload
		if !decodePayload(c, in, &p) {
			return
		}
		h.TypingStop(c, p.ReceiverID)
	default:
		h.metrics.IncEvent("unknown")
		c.deliver(errorEnvelope(in.RequestID, CodeInvalidArgument, "unknown event type"))
		return
	}
	h.metrics.IncEvent(string(in.Type))
}

func decodePayload(c *Client, in inboundEnvelope, dst any) bool {
	if len(in.Payload) == 0 {
		c.deliver(errorEnvelope(in.RequestID, CodeInvalidArgument, "missing payload"))
		return false
	}
	if err := json.Unmarshal(in.Payload, dst); err != nil {
		c.deliver(errorEnvelope(in.RequestID, CodeInvalidArgument, "malformed payload"))
		return false
	}
	return true
}

// SendMessage stores a message from c and delivers it. The sender's
// connection always gets an echo; the receiver gets a copy only if online.
// Nothing is delivered unless the message was stored.
func (h *Hub) SendMessage(ctx context.Context, c *Client, requestID string, p SendMessagePayload) {
	msg, err := h.messages.Send(ctx, c.userID, p.ReceiverID, p.Body)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyBody), errors.Is(err, chat.ErrBodyTooLong), errors.Is(err, chat.ErrUnknownRecipient):
			c.deliver(errorEnvelope(requestID, CodeInvalidArgument, err.Error()))
		default:
			h.metrics.IncSendFailure()
			h.logger.Error("failed to store message",
				"sender_id", c.userID, "receiver_id", p.ReceiverID, "error", err)
			c.deliver(errorEnvelope(requestID, CodePersistenceFailure, "message could not be stored"))
		}
		return
	}
	if msg.SenderName == "" {
		msg.SenderName = c.username
	}
	if msg.SenderAvatar == "" {
		msg.SenderAvatar = user.DefaultAvatar
	}

	c.deliver(&Envelope{Type: NewMessageType, RequestID: requestID, Payload: newMessagePayload(msg, true)})
	if msg.ReceiverID == c.userID {
		return
	}
	if rc, ok := h.registry.Lookup(msg.ReceiverID); ok {
		rc.deliver(&Envelope{Type: NewMessageType, Payload: newMessagePayload(msg, false)})
	}
}

// TypingStart forwards a typing notice to receiverID if online. The notice
// carries the display name held in the presence registry.
func (h *Hub) TypingStart(c *Client, receiverID int64) {
	name, ok := h.registry.DisplayName(c.userID)
	if !ok {
		name = c.username
	}
	h.forward(c, receiverID, &Envelope{
		Type:    TypingType,
		Payload: TypingNotice{UserID: c.userID, Username: name},
	})
}

// TypingStop forwards a stop_typing notice to receiverID if online.
func (h *Hub) TypingStop(c *Client, receiverID int64) {
	h.forward(c, receiverID, &Envelope{
		Type:    StopTypingType,
		Payload: StopTypingNotice{UserID: c.userID},
	})
}

// forward is lossy: an offline receiver drops the notice.
func (h *Hub) forward(c *Client, receiverID int64, env *Envelope) {
	if receiverID == c.userID {
		return
	}
	if rc, ok := h.registry.Lookup(receiverID); ok {
		rc.deliver(env)
	}
}

// broadcast sends env to every live connection, the acting one included.
func (h *Hub) broadcast(env *Envelope) {
	for _, c := range h.registry.Snapshot() {
		c.deliver(env)
	}
}

func (h *Hub) slowConsumer(c *Client, dropped MessageType) {
	h.metrics.IncSlowConsumer()
	h.logger.Warn("outbound buffer full, closing connection", "user_id", c.userID, "dropped", dropped)
}

func presenceEnvelope(userID int64, status user.Status) *Envelope {
	return &Envelope{Type: PresenceChangedType, Payload: PresencePayload{UserID: userID, Status: status}}
}

func errorEnvelope(requestID, code, message string) *Envelope {
	return &Envelope{Type: ErrorType, RequestID: requestID, Payload: ErrorPayload{Code: code, Message: message}}
}
