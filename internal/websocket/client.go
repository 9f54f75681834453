package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 4 // 4KB
	// Outbound frames buffered per connection before it counts as a slow consumer.
	sendBufferSize = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub
	// The websocket connection. Nil for connections that never run pumps.
	conn     *websocket.Conn
	userID   int64
	username string
	limiter  *rate.Limiter

	// Buffered channel of outbound frames, closed exactly once by close.
	send   chan *Envelope
	mu     sync.Mutex
	closed bool

	// Presence of users already online when the client connected. Written
	// before the buffered frames and not counted against sendBufferSize.
	backlog []*Envelope
}

// NewClient creates a Client for an authenticated user.
func NewClient(hub *Hub, conn *websocket.Conn, userID int64, username string) *Client {
	c := &Client{
		hub:      hub,
		conn:     conn,
		userID:   userID,
		username: username,
		send:     make(chan *Envelope, sendBufferSize),
	}
	if hub != nil && hub.inboundRate > 0 {
		c.limiter = rate.NewLimiter(hub.inboundRate, hub.inboundBurst)
	}
	return c
}

// deliver queues env without blocking. A full buffer closes the client.
func (c *Client) deliver(env *Envelope) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- env:
		c.mu.Unlock()
		return true
	default:
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.hub != nil {
		c.hub.slowConsumer(c, env.Type)
	}
	return false
}

func (c *Client) setBacklog(envs []*Envelope) {
	c.mu.Lock()
	c.backlog = envs
	c.mu.Unlock()
}

func (c *Client) takeBacklog() []*Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	envs := c.backlog
	c.backlog = nil
	return envs
}

// close stops outbound delivery. The write pump then sends a close frame.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Run starts the pumps. Call it after Hub.Connect. The read pump owns the
// connection's lifetime and reports the disconnect to the hub when it ends.
func (c *Client) Run(ctx context.Context) {
	if !c.hub.track(c) {
		c.hub.Disconnect(ctx, c)
		c.conn.Close()
		return
	}
	go c.writePump()
	go c.readPump(ctx)
}

// readPump pumps frames from the websocket connection to the hub.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine. Frames are handled in arrival order.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(ctx, c)
		c.conn.Close()
		c.hub.untrack(c)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Info("websocket read failed", "user_id", c.userID, "error", err)
			}
			return
		}
		c.hub.Dispatch(ctx, c, data)
	}
}

// writePump pumps frames from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for _, env := range c.takeBacklog() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(env); err != nil {
			c.hub.logger.Debug("websocket write failed", "user_id", c.userID, "error", err)
			return
		}
	}
	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.hub.logger.Debug("websocket write failed", "user_id", c.userID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
