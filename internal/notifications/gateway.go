package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"intouch/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	maxConnsPerUser = 12
	maxTotalConns   = 10000
)

var (
	ErrUserConnLimit   = errors.New("user connection limit reached")
	ErrServerConnLimit = errors.New("server connection limit reached")
)

type connSet map[string]struct{}

// Gateway keeps the connection registry of this instance: which connections
// a user has and which chats each connection has open. The registry is kept
// apart from chat membership; handlers check membership before joining.
type Gateway struct {
	mu sync.RWMutex

	clients   map[string]*Client // connection id -> client
	userConns map[string]connSet // user id -> connection ids
	connChats map[string]connSet // connection id -> chat ids
	chatConns map[string]connSet // chat id -> connection ids

	notifier *Notifier
	presence *Presence
}

// NewGateway returns a gateway publishing through rdb. A nil rdb keeps
// delivery local to this instance.
func NewGateway(rdb *redis.Client) *Gateway {
	return &Gateway{
		clients:   make(map[string]*Client),
		userConns: make(map[string]connSet),
		connChats: make(map[string]connSet),
		chatConns: make(map[string]connSet),
		notifier:  NewNotifier(rdb),
		presence:  NewPresence(rdb),
	}
}

// Name returns a human-readable identifier for this hub.
func (g *Gateway) Name() string { return "chat gateway" }

func addTo(m map[string]connSet, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(connSet)
		m[key] = set
	}
	set[member] = struct{}{}
}

func removeFrom(m map[string]connSet, key, member string) {
	if set, ok := m[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

// OnPresenceChange installs callbacks for a user's first connection and for
// the end of the offline grace window after the last one closes.
func (g *Gateway) OnPresenceChange(onOnline, onOffline func(userID string)) {
	g.presence.SetCallbacks(onOnline, onOffline)
}

// Register adds a connection of userID and returns its client.
func (g *Gateway) Register(userID string, conn *websocket.Conn, limiter *rate.Limiter) (*Client, error) {
	g.mu.Lock()
	if len(g.clients) >= maxTotalConns {
		g.mu.Unlock()
		return nil, ErrServerConnLimit
	}
	if len(g.userConns[userID]) >= maxConnsPerUser {
		g.mu.Unlock()
		return nil, ErrUserConnLimit
	}
	client := NewClient(g, conn, userID, limiter)
	client.OnActivity = func(uid string) { g.presence.Touch(context.Background(), uid) }
	g.clients[client.ID] = client
	addTo(g.userConns, userID, client.ID)
	g.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()
	g.presence.Connect(context.Background(), userID)
	wsLog.LogConnect(context.Background(), userID, client.ID)
	return client, nil
}

// UnregisterClient drops the connection and all of its chat subscriptions.
func (g *Gateway) UnregisterClient(client *Client) {
	g.mu.Lock()
	if _, ok := g.clients[client.ID]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.clients, client.ID)
	removeFrom(g.userConns, client.UserID, client.ID)
	for chatID := range g.connChats[client.ID] {
		removeFrom(g.chatConns, chatID, client.ID)
	}
	delete(g.connChats, client.ID)
	g.mu.Unlock()

	client.Close(websocket.CloseNormalClosure, "")
	observability.WebSocketConnectionsTotal.Dec()
	g.presence.Disconnect(client.UserID)
}

// JoinGroup subscribes one connection to chatID. It reports false when the
// connection is unknown.
func (g *Gateway) JoinGroup(connectionID, chatID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[connectionID]; !ok {
		return false
	}
	addTo(g.connChats, connectionID, chatID)
	addTo(g.chatConns, chatID, connectionID)
	return true
}

// LeaveGroup unsubscribes one connection from chatID. Other connections of
// the same user keep their subscriptions.
func (g *Gateway) LeaveGroup(connectionID, chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	removeFrom(g.connChats, connectionID, chatID)
	removeFrom(g.chatConns, chatID, connectionID)
}

// JoinUser subscribes every connection of userID to chatID.
func (g *Gateway) JoinUser(userID, chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for connID := range g.userConns[userID] {
		addTo(g.connChats, connID, chatID)
		addTo(g.chatConns, chatID, connID)
	}
}

// LeaveUser unsubscribes every connection of userID from chatID.
func (g *Gateway) LeaveUser(userID, chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for connID := range g.userConns[userID] {
		removeFrom(g.connChats, connID, chatID)
		removeFrom(g.chatConns, chatID, connID)
	}
}

// ChatsOf lists the chats a connection has open.
func (g *Gateway) ChatsOf(connectionID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.connChats[connectionID]))
	for chatID := range g.connChats[connectionID] {
		out = append(out, chatID)
	}
	return out
}

// SendToGroup delivers ev to the local connections subscribed to chatID.
func (g *Gateway) SendToGroup(chatID string, ev Event) {
	ev.ChatID = chatID
	data, err := json.Marshal(ev)
	if err != nil {
		wsLog.LogError(context.Background(), "", chatID, err, ev.Type)
		return
	}
	g.deliverToChat(chatID, data)
}

func (g *Gateway) deliverToChat(chatID string, data []byte) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for connID := range g.chatConns[chatID] {
		if c, ok := g.clients[connID]; ok {
			c.TrySend(data)
		}
	}
}

// Publish delivers ev to chatID on every instance. Without Redis it falls
// back to local delivery.
func (g *Gateway) Publish(ctx context.Context, chatID string, ev Event) error {
	observability.WebSocketEventsTotal.WithLabelValues(ev.Type).Inc()
	if !g.notifier.Enabled() {
		g.SendToGroup(chatID, ev)
		return nil
	}
	ev.ChatID = chatID
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return g.notifier.PublishChat(ctx, chatID, data)
}

// StartWiring subscribes to Redis and hands every message to local
// connections until ctx is done.
func (g *Gateway) StartWiring(ctx context.Context) error {
	if err := g.notifier.Subscribe(ctx, g.dispatch); err != nil {
		return err
	}
	wsLog.LogLifecycle(ctx, "subscriber_started", map[string]interface{}{
		"redis": g.notifier.Enabled(),
	})
	return nil
}

func (g *Gateway) dispatch(channel, payload string) {
	kind, id, ok := parseChannel(channel)
	if !ok {
		return
	}
	switch kind {
	case "chat":
		g.deliverToChat(id, []byte(payload))
	case "user":
		g.deliverToUser(id, []byte(payload))
	}
}

// Shutdown tells every client the server is going away and closes it. The
// notice goes through each client's send buffer so WritePump stays the only
// writer; Shutdown then waits for the pumps to drain until ctx is done.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.presence.Stop()

	notice, _ := json.Marshal(Event{Type: EventShutdown, Payload: map[string]string{"message": "Server is shutting down"}})

	g.mu.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for _, client := range g.clients {
		client.TrySend(notice)
		client.Close(websocket.CloseGoingAway, "Server shutting down")
		clients = append(clients, client)
	}
	observability.WebSocketConnectionsTotal.Sub(float64(len(g.clients)))
	g.clients = make(map[string]*Client)
	g.userConns = make(map[string]connSet)
	g.connChats = make(map[string]connSet)
	g.chatConns = make(map[string]connSet)
	g.mu.Unlock()

	for _, client := range clients {
		if !client.pumping.Load() {
			continue
		}
		select {
		case <-client.Done():
		case <-ctx.Done():
			wsLog.LogLifecycle(ctx, "shutdown_timeout", nil)
			return ctx.Err()
		}
	}
	wsLog.LogLifecycle(ctx, "shutdown", map[string]interface{}{
		"connections": len(clients),
	})
	return nil
}
