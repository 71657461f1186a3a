package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	UserProfileKeyPrefix  = "user:profile:%s"
	EmailConfirmKeyPrefix = "auth:confirm:%s"
	EmailChangeKeyPrefix  = "auth:email_change:%s:%s"
	WSTicketKeyPrefix     = "ws_ticket:%s"
	TokenBlacklistPrefix  = "blacklist:%s"
)

const (
	UserProfileTTL  = 5 * time.Minute
	EmailConfirmTTL = 24 * time.Hour
	WSTicketTTL     = 60 * time.Second
)

func UserProfileKey(userID string) string {
	return fmt.Sprintf(UserProfileKeyPrefix, userID)
}

func EmailConfirmKey(userID string) string {
	return fmt.Sprintf(EmailConfirmKeyPrefix, userID)
}

// EmailChangeKey scopes a change token to one user and one target address,
// so a token mailed to one address cannot move the account to another.
func EmailChangeKey(userID, newEmail string) string {
	return fmt.Sprintf(EmailChangeKeyPrefix, userID, newEmail)
}

func WSTicketKey(ticket string) string {
	return fmt.Sprintf(WSTicketKeyPrefix, ticket)
}

func TokenBlacklistKey(jti string) string {
	return fmt.Sprintf(TokenBlacklistPrefix, jti)
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateUser(ctx context.Context, userID string) {
	Invalidate(ctx, UserProfileKey(userID))
}
