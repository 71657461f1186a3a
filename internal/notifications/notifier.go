// Package notifications delivers realtime events to WebSocket clients and
// fans them out across instances through Redis pub/sub.
package notifications

import (
	"context"
	"runtime/debug"
	"strings"

	"intouch/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	chatChannelPrefix = "chat:"
	userChannelPrefix = "notifications:user:"
)

// ChatChannel derives the Redis channel name for a chat.
func ChatChannel(chatID string) string {
	return chatChannelPrefix + chatID
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// Notifier publishes encoded events into Redis channels. A Notifier without
// a client is a no-op and reports Enabled false.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishChat sends an encoded event to every instance subscribed to chatID.
func (n *Notifier) PublishChat(ctx context.Context, chatID string, payload []byte) error {
	return n.publish(ctx, ChatChannel(chatID), payload)
}

// PublishUser sends an encoded event to every connection of userID.
func (n *Notifier) PublishUser(ctx context.Context, userID string, payload []byte) error {
	return n.publish(ctx, UserChannel(userID), payload)
}

func (n *Notifier) publish(ctx context.Context, channel string, payload []byte) error {
	if !n.Enabled() {
		return nil
	}
	ctx, span := observability.TraceRedisOperation(ctx, "publish")
	defer span.End()
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("publish").Inc()
		return err
	}
	return nil
}

// Subscribe listens on the chat and user channel patterns until ctx is done.
// onMessage runs on the subscriber goroutine; a panic in it is logged and the
// subscription keeps going.
func (n *Notifier) Subscribe(ctx context.Context, onMessage func(channel, payload string)) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, chatChannelPrefix+"*", userChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		observability.RedisErrorRate.WithLabelValues("psubscribe").Inc()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.GlobalLogger.Error("panic in notification subscriber",
								"panic", r, "stack", string(debug.Stack()))
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()
	return nil
}

// parseChannel splits a channel name into its kind ("chat" or "user") and id.
func parseChannel(channel string) (kind, id string, ok bool) {
	switch {
	case strings.HasPrefix(channel, userChannelPrefix):
		id = strings.TrimPrefix(channel, userChannelPrefix)
		kind = "user"
	case strings.HasPrefix(channel, chatChannelPrefix):
		id = strings.TrimPrefix(channel, chatChannelPrefix)
		kind = "chat"
	default:
		return "", "", false
	}
	return kind, id, id != ""
}
