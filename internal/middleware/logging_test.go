package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtxHandler_AddsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&ctxHandler{slog.NewJSONHandler(&buf, nil)})

	ctx := context.WithValue(WithUserID(context.Background(), "u-1"), RequestIDKey, "r-1")
	logger.InfoContext(ctx, "hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "u-1", line["user_id"])
	assert.Equal(t, "r-1", line["request_id"])
	assert.NotContains(t, line, "trace_id")
}

func TestNewLogger_Level(t *testing.T) {
	ctx := context.Background()
	assert.True(t, NewLogger("development", "debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger("production", "").Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger("production", "loud").Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger("production", "error").Enabled(ctx, slog.LevelWarn))
}

func TestContextAndTracingMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(requestid.New())
	app.Use(TracingMiddleware())
	app.Use(ContextMiddleware())

	var seen string
	app.Get("/api/thing/:id", func(c *fiber.Ctx) error {
		seen, _ = c.UserContext().Value(RequestIDKey).(string)
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/health/live", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/thing/7", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.NotEmpty(t, seen)
	assert.Equal(t, resp.Header.Get(fiber.HeaderXRequestID), seen)
	assert.Len(t, resp.Header.Get("X-Trace-ID"), 32)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/health/live", nil), -1)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("X-Trace-ID"))
}
