package repository

import (
	"context"
	"errors"

	"intouch/internal/models"

	"gorm.io/gorm"
)

// TokenRepository persists refresh tokens.
type TokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	Get(ctx context.Context, token string) (*models.RefreshToken, error)
	// Revoke marks the token revoked and reports whether it was active.
	Revoke(ctx context.Context, token string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) error
}

type tokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	return storageError(r.db.WithContext(ctx).Create(token).Error)
}

func (r *tokenRepository) Get(ctx context.Context, token string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&rt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewUnauthorizedError("Invalid refresh token")
		}
		return nil, storageError(err)
	}
	return &rt, nil
}

func (r *tokenRepository) Revoke(ctx context.Context, token string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ? AND revoked = ?", token, false).
		Update("revoked", true)
	if res.Error != nil {
		return false, storageError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *tokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	err := r.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true).Error
	return storageError(err)
}
