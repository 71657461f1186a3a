package notifications

import (
	"context"
	"encoding/json"
)

// User-scoped delivery. Relation events and chat invitations go to every
// connection of a user regardless of which chats are open.

// SendToUser delivers ev to the local connections of userID.
func (g *Gateway) SendToUser(userID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		wsLog.LogError(context.Background(), userID, ev.ChatID, err, ev.Type)
		return
	}
	g.deliverToUser(userID, data)
}

// deliverToUser applies membership events to the user's subscriptions on
// this instance before handing data to each connection, so a removed member
// stops receiving the chat wherever they are connected.
func (g *Gateway) deliverToUser(userID string, data []byte) {
	var head struct {
		Type   string `json:"type"`
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(data, &head); err == nil && head.ChatID != "" {
		switch head.Type {
		case EventChatCreated, EventMemberAdded:
			g.JoinUser(userID, head.ChatID)
		case EventMemberRemoved:
			g.LeaveUser(userID, head.ChatID)
		}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for connID := range g.userConns[userID] {
		if c, ok := g.clients[connID]; ok {
			c.TrySend(data)
		}
	}
}

// NotifyUser delivers ev to userID on every instance.
func (g *Gateway) NotifyUser(ctx context.Context, userID string, ev Event) error {
	if !g.notifier.Enabled() {
		g.SendToUser(userID, ev)
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return g.notifier.PublishUser(ctx, userID, data)
}

// IsOnline reports whether userID has a live connection on any instance.
func (g *Gateway) IsOnline(ctx context.Context, userID string) bool {
	return g.presence.IsOnline(ctx, userID)
}

// ConnectionsOf lists the connection ids of userID on this instance.
func (g *Gateway) ConnectionsOf(userID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.userConns[userID]))
	for connID := range g.userConns[userID] {
		out = append(out, connID)
	}
	return out
}
