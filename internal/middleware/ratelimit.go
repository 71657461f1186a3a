package middleware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"intouch/internal/models"
	"intouch/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

// rateLimitBypassed reports whether the environment skips fixed-window
// limits; test, development and stress runs would otherwise trip them.
func rateLimitBypassed() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

func rateLimitKey(resource, id string) string {
	return fmt.Sprintf("rl:%s:%s", resource, id)
}

// hitScript increments a window counter and starts its expiry on the first
// hit, atomically, so no counter is left without a TTL.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n`)

// CheckRateLimit counts one hit on resource for id in a fixed window and
// reports whether the hit is within limit.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	if rateLimitBypassed() {
		return true, nil
	}
	if rdb == nil {
		return false, errors.New("redis client is nil")
	}

	n, err := hitScript.Run(ctx, rdb, []string{rateLimitKey(resource, id)}, window.Milliseconds()).Int64()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("rate_limit").Inc()
		return false, err
	}
	return n <= int64(limit), nil
}

// RateLimit returns a Fiber middleware enforcing limit requests per window.
// It keys by authenticated userID when present, otherwise by remote IP, and
// lets requests through when Redis is down.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, window, FailOpen, name...)
}

// RateLimitWithPolicy is RateLimit with an explicit failure policy.
func RateLimitWithPolicy(rdb *redis.Client, limit int, window time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := "ip:" + c.IP()
		if uid, ok := c.Locals("userID").(string); ok && uid != "" {
			id = "user:" + uid
		}
		resource := c.Path()
		if len(name) > 0 {
			resource = name[0]
		}

		ctx := c.UserContext()
		allowed, err := CheckRateLimit(ctx, rdb, resource, id, limit, window)
		switch {
		case err != nil && policy == FailClosed:
			Logger.WarnContext(ctx, "rate limit fail-closed", "resource", resource, "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
				Errors: []string{"Rate limiting is unavailable, please retry later."},
				Code:   models.CodeUnavailable,
			})
		case err != nil:
			return c.Next()
		case !allowed:
			if ttl, err := rdb.TTL(ctx, rateLimitKey(resource, id)).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Errors: []string{"Too many requests, please try again later."},
			})
		}
		return c.Next()
	}
}
