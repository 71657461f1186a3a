package service

import (
	"context"
	"log/slog"
	"net/url"
)

// Mailer delivers account emails.
type Mailer interface {
	SendEmailConfirmation(ctx context.Context, email, userID, token string) error
	SendEmailChange(ctx context.Context, newEmail, userID, token string) error
	SendPlatformInvite(ctx context.Context, email, inviterName string) error
}

// LogMailer writes the links it would mail to the log.
type LogMailer struct {
	Logger  *slog.Logger
	BaseURL string
}

func (m LogMailer) SendEmailConfirmation(ctx context.Context, email, userID, token string) error {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("token", token)
	m.Logger.InfoContext(ctx, "email confirmation issued",
		slog.String("email", email),
		slog.String("user_id", userID),
		slog.String("link", m.BaseURL+"/api/auth/confirm-email?"+q.Encode()),
	)
	return nil
}

func (m LogMailer) SendEmailChange(ctx context.Context, newEmail, userID, token string) error {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("email", newEmail)
	q.Set("token", token)
	m.Logger.InfoContext(ctx, "email change confirmation issued",
		slog.String("email", newEmail),
		slog.String("user_id", userID),
		slog.String("link", m.BaseURL+"/api/auth/confirm-email-change?"+q.Encode()),
	)
	return nil
}

func (m LogMailer) SendPlatformInvite(ctx context.Context, email, inviterName string) error {
	m.Logger.InfoContext(ctx, "platform invitation issued",
		slog.String("email", email),
		slog.String("inviter", inviterName),
		slog.String("link", m.BaseURL+"/register?email="+url.QueryEscape(email)),
	)
	return nil
}
