// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// GlobalLogger is the logger used by components that run outside a request,
// such as the broadcast gateway and pub/sub subscribers.
var GlobalLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetLogger replaces GlobalLogger. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		GlobalLogger = l
	}
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	component string
}

// NewWSLogger creates a new WSLogger for the given component.
func NewWSLogger(component string) *WSLogger {
	return &WSLogger{component: component}
}

func (l *WSLogger) LogConnect(ctx context.Context, userID, connectionID string) {
	GlobalLogger.InfoContext(ctx, "websocket connected",
		slog.String("component", l.component),
		slog.String("user_id", userID),
		slog.String("connection_id", connectionID),
	)
}

func (l *WSLogger) LogDisconnect(ctx context.Context, userID, connectionID, reason string) {
	GlobalLogger.InfoContext(ctx, "websocket disconnected",
		slog.String("component", l.component),
		slog.String("user_id", userID),
		slog.String("connection_id", connectionID),
		slog.String("reason", reason),
	)
}

func (l *WSLogger) LogError(ctx context.Context, userID, chatID string, err error, eventType string) {
	GlobalLogger.ErrorContext(ctx, "websocket error",
		slog.String("component", l.component),
		slog.String("user_id", userID),
		slog.String("chat_id", chatID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogLifecycle logs a gateway lifecycle event such as subscriber start or shutdown.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("component", l.component),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "websocket lifecycle", attrs...)
}
