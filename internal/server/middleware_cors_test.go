package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"intouch/internal/config"
	"intouch/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:5173"

func corsApp(method string) *fiber.App {
	srv := &Server{config: &config.Config{AllowedOrigins: testOrigin}}
	app := fiber.New()
	srv.SetupMiddleware(app)
	app.Add(method, "/limited", func(c *fiber.Ctx) error {
		c.Set(paginationHeader, `{"total_count":0}`)
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func hit(t *testing.T, app *fiber.App, method string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, "/limited", nil)
	req.Header.Set("Origin", testOrigin)
	if method == http.MethodOptions {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestSetupMiddleware_RateLimitedResponseIncludesCORSHeaders(t *testing.T) {
	app := corsApp(http.MethodGet)

	for i := 0; i < 100; i++ {
		resp := hit(t, app, http.MethodGet)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}

	resp := hit(t, app, http.MethodGet)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.False(t, decode[models.ErrorResponse](t, resp).Succeeded)
}

func TestSetupMiddleware_PreflightBypassesLimiter(t *testing.T) {
	app := corsApp(http.MethodPost)

	for i := 0; i < 100; i++ {
		resp := hit(t, app, http.MethodPost)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}

	resp := hit(t, app, http.MethodPost)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	_ = resp.Body.Close()

	resp = hit(t, app, http.MethodOptions)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSetupMiddleware_ExposesPaginationAndSecurityHeaders(t *testing.T) {
	app := corsApp(http.MethodGet)

	resp := hit(t, app, http.MethodGet)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), paginationHeader)
	assert.NotEmpty(t, resp.Header.Get(paginationHeader))
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Frame-Options"))
}
