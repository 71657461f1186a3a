package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func newLocalGateway(t *testing.T) *Gateway {
	t.Helper()
	g := NewGateway(nil)
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g
}

// connectionsIn lists the connections subscribed to chatID.
func connectionsIn(g *Gateway, chatID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.chatConns[chatID]))
	for connID := range g.chatConns[chatID] {
		out = append(out, connID)
	}
	return out
}

func register(t *testing.T, g *Gateway, userID string) *Client {
	t.Helper()
	c, err := g.Register(userID, nil, nil)
	require.NoError(t, err)
	return c
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case raw := <-c.Send:
		var ev Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(testEventuallyTimeout):
		t.Fatalf("client %s received nothing", c.ID)
		return Event{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("client %s unexpectedly received %s", c.ID, raw)
	default:
	}
}

func TestGateway_RegisterAssignsConnectionIDs(t *testing.T) {
	g := newLocalGateway(t)
	a := register(t, g, "u1")
	b := register(t, g, "u1")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, g.ConnectionsOf("u1"))
	assert.True(t, g.IsOnline(context.Background(), "u1"))
}

func TestGateway_UserConnectionLimit(t *testing.T) {
	g := newLocalGateway(t)
	for i := 0; i < maxConnsPerUser; i++ {
		register(t, g, "u1")
	}
	_, err := g.Register("u1", nil, nil)
	assert.ErrorIs(t, err, ErrUserConnLimit)
}

func TestGateway_SendToGroupOnlyReachesSubscribers(t *testing.T) {
	g := newLocalGateway(t)
	member := register(t, g, "u1")
	outsider := register(t, g, "u2")

	require.True(t, g.JoinGroup(member.ID, "chat-1"))
	g.SendToGroup("chat-1", Event{Type: EventMessage, Payload: "hello"})

	ev := receive(t, member)
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "chat-1", ev.ChatID)
	assertSilent(t, outsider)
}

func TestGateway_LeaveGroupIsPerConnection(t *testing.T) {
	g := newLocalGateway(t)
	phone := register(t, g, "u1")
	laptop := register(t, g, "u1")

	g.JoinUser("u1", "chat-1")
	assert.ElementsMatch(t, []string{phone.ID, laptop.ID}, connectionsIn(g, "chat-1"))

	g.LeaveGroup(phone.ID, "chat-1")
	assert.Empty(t, g.ChatsOf(phone.ID))
	assert.Equal(t, []string{"chat-1"}, g.ChatsOf(laptop.ID))

	g.SendToGroup("chat-1", Event{Type: EventMessage})
	receive(t, laptop)
	assertSilent(t, phone)

	g.LeaveUser("u1", "chat-1")
	assert.Empty(t, connectionsIn(g, "chat-1"))
}

func TestGateway_JoinGroupUnknownConnection(t *testing.T) {
	g := newLocalGateway(t)
	assert.False(t, g.JoinGroup("missing", "chat-1"))
	assert.Empty(t, connectionsIn(g, "chat-1"))
}

func TestGateway_UnregisterDropsSubscriptions(t *testing.T) {
	g := newLocalGateway(t)
	c := register(t, g, "u1")
	g.JoinGroup(c.ID, "chat-1")
	g.JoinGroup(c.ID, "chat-2")

	g.UnregisterClient(c)
	assert.Empty(t, connectionsIn(g, "chat-1"))
	assert.Empty(t, connectionsIn(g, "chat-2"))
	assert.Empty(t, g.ChatsOf(c.ID))
	assert.Empty(t, g.ConnectionsOf("u1"))

	// Unregistering twice is harmless.
	g.UnregisterClient(c)
}

func TestGateway_PublishWithoutRedisDeliversLocally(t *testing.T) {
	g := newLocalGateway(t)
	c := register(t, g, "u1")
	g.JoinGroup(c.ID, "chat-1")

	require.NoError(t, g.Publish(context.Background(), "chat-1", Event{Type: EventMemberAdded}))
	assert.Equal(t, EventMemberAdded, receive(t, c).Type)

	require.NoError(t, g.NotifyUser(context.Background(), "u1", Event{Type: EventRelation}))
	assert.Equal(t, EventRelation, receive(t, c).Type)
}

func TestGateway_PublishThroughRedisReachesOtherInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	newInstance := func() *Gateway {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		g := NewGateway(rdb)
		t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
		return g
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := newInstance()
	receiver := newInstance()
	require.NoError(t, sender.StartWiring(ctx))
	require.NoError(t, receiver.StartWiring(ctx))

	local := register(t, sender, "u1")
	remote := register(t, receiver, "u2")
	sender.JoinGroup(local.ID, "chat-9")
	receiver.JoinGroup(remote.ID, "chat-9")

	require.NoError(t, sender.Publish(context.Background(), "chat-9", Event{Type: EventMessage, Payload: "hi"}))
	assert.Equal(t, "chat-9", receive(t, remote).ChatID)
	assert.Equal(t, "chat-9", receive(t, local).ChatID)

	require.NoError(t, sender.NotifyUser(context.Background(), "u2", Event{Type: EventRelation}))
	assert.Equal(t, EventRelation, receive(t, remote).Type)
	assertSilent(t, local)

	assert.True(t, sender.IsOnline(context.Background(), "u2"), "presence is shared through redis")
}

func TestGateway_ShutdownClearsRegistry(t *testing.T) {
	g := NewGateway(nil)
	c := register(t, g, "u1")
	g.JoinGroup(c.ID, "chat-1")

	require.NoError(t, g.Shutdown(context.Background()))
	assert.Empty(t, connectionsIn(g, "chat-1"))
	assert.Empty(t, g.ConnectionsOf("u1"))
}

func TestParseChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		channel string
		kind    string
		id      string
		ok      bool
	}{
		{ChatChannel("abc"), "chat", "abc", true},
		{UserChannel("u-1"), "user", "u-1", true},
		{"chat:", "chat", "", false},
		{"other:1", "", "", false},
	}
	for _, tt := range tests {
		kind, id, ok := parseChannel(tt.channel)
		assert.Equal(t, tt.ok, ok, tt.channel)
		if tt.ok {
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.id, id)
		}
	}
}

func TestGateway_UserMembershipEventsSyncSubscriptions(t *testing.T) {
	g := newLocalGateway(t)
	c := register(t, g, "u1")
	ctx := context.Background()

	require.NoError(t, g.NotifyUser(ctx, "u1", Event{Type: EventMemberAdded, ChatID: "chat-1"}))
	receive(t, c)
	assert.Equal(t, []string{"chat-1"}, g.ChatsOf(c.ID))

	require.NoError(t, g.NotifyUser(ctx, "u1", Event{Type: EventMemberRemoved, ChatID: "chat-1"}))
	receive(t, c)
	assert.Empty(t, g.ChatsOf(c.ID))

	g.SendToGroup("chat-1", Event{Type: EventMessage})
	assertSilent(t, c)
}
