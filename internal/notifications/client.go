package notifications

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"intouch/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
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
	maxMessageSize = 16384

	sendBufferSize = 256
)

var wsLog = observability.NewWSLogger("gateway")

// WSHub is implemented by registries that own clients.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// frameWriter is the write half of a connection. Only WritePump uses it.
type frameWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	NextWriter(messageType int) (io.WriteCloser, error)
	Close() error
}

// Client is one WebSocket connection. ID is the connection id the gateway
// keys its chat subscriptions by.
type Client struct {
	ID     string
	UserID string
	Hub    WSHub

	// The websocket connection. Nil in tests.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// IncomingHandler receives every inbound frame that passes the rate limit.
	IncomingHandler func(*Client, []byte)

	// OnActivity runs on every inbound frame.
	OnActivity func(userID string)

	limiter *rate.Limiter

	out        frameWriter
	closeOnce  sync.Once
	closeFrame []byte
	pumping    atomic.Bool
	done       chan struct{}
}

// NewClient creates a client with a fresh connection id. A nil limiter
// disables inbound throttling.
func NewClient(hub WSHub, conn *websocket.Conn, userID string, limiter *rate.Limiter) *Client {
	c := &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		limiter: limiter,
		done:    make(chan struct{}),
	}
	if conn != nil {
		c.out = conn
	}
	return c
}

// Close ends the outbound stream: WritePump flushes what is queued, sends a
// close frame with code and text, and closes the connection. Safe to call
// more than once; only the first call counts.
func (c *Client) Close(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeFrame = websocket.FormatCloseMessage(code, text)
		close(c.Send)
	})
}

// Done is closed when WritePump has returned.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// NewLimiter allows perSecond inbound frames with a burst of twice that.
// perSecond <= 0 means unlimited.
func NewLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), perSecond*2)
}

// ReadPump pumps messages from the websocket connection to IncomingHandler
// and unregisters the client when the connection ends. The connection itself
// is closed by WritePump.
func (c *Client) ReadPump() {
	reason := "closed"
	defer func() {
		c.Hub.UnregisterClient(c)
		wsLog.LogDisconnect(context.Background(), c.UserID, c.ID, reason)
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				reason = err.Error()
			}
			return
		}
		if c.OnActivity != nil {
			c.OnActivity(c.UserID)
		}
		if !c.allow() {
			observability.WebSocketEventsTotal.WithLabelValues("rate_limited").Inc()
			c.SendEvent(ErrorEvent("", "Too many messages, slow down"))
			continue
		}
		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// WritePump pumps messages from the send buffer to the websocket connection.
// It is the only writer of the connection and returns once Send is closed or
// a write fails.
func (c *Client) WritePump() {
	c.pumping.Store(true)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.out.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.out.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Close was called.
				_ = c.out.WriteMessage(websocket.CloseMessage, c.closeFrame)
				return
			}

			w, err := c.out.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.out.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.out.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent encodes ev and queues it.
func (c *Client) SendEvent(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		wsLog.LogError(context.Background(), c.UserID, ev.ChatID, err, ev.Type)
		return
	}
	c.TrySend(data)
}

// TrySend queues a frame without blocking. A full buffer drops the frame and
// tells the client so it can re-fetch.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
		dropNotice := []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)
		select {
		case c.Send <- dropNotice:
		default:
		}
	}
}
