// Package middleware provides authentication and authorization middleware for the application.
package middleware

import (
	"errors"
	"strings"

	"intouch/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Token audience and issuer used for every access token.
const (
	TokenIssuer   = "intouch-api"
	TokenAudience = "intouch-client"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// AccessClaims are the parts of a validated access token handlers rely on.
type AccessClaims struct {
	UserID string
	JwtID  string
}

var (
	errMissingSubject = errors.New("missing subject")
	errInvalidToken   = errors.New("invalid or expired token")
)

// ParseAccessToken validates an HMAC-signed access token and extracts its
// subject and id.
func ParseAccessToken(secret, tokenString string) (AccessClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(TokenIssuer), jwt.WithAudience(TokenAudience))
	if err != nil || !token.Valid {
		return AccessClaims{}, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AccessClaims{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return AccessClaims{}, errMissingSubject
	}
	jti, _ := claims["jti"].(string)
	return AccessClaims{UserID: sub, JwtID: jti}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(c *fiber.Ctx) (string, bool) {
	parts := strings.Split(c.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(c *fiber.Ctx) error {
	if c.Get("Authorization") == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authorization header required",
		})
	}
	tokenString, ok := BearerToken(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid authorization header format",
		})
	}

	claims, err := ParseAccessToken(cfg.JWTSecret, tokenString)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired token",
		})
	}

	c.Locals("userID", claims.UserID)
	c.Locals("jti", claims.JwtID)
	return c.Next()
}
