package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"intouch/internal/cache"
	"intouch/internal/config"
	"intouch/internal/middleware"
	"intouch/internal/models"
	"intouch/internal/observability"
	"intouch/internal/repository"
	"intouch/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	ExpiresIn    int64               `json:"expires_in"`
	User         *models.UserProfile `json:"user,omitempty"`
}

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Age       int    `json:"age"`
	Sex       string `json:"sex"`
}

// AuthService registers users and issues, rotates and revokes tokens.
type AuthService struct {
	users            repository.UserRepository
	tokens           repository.TokenRepository
	redis            *redis.Client
	mailer           Mailer
	secret           []byte
	accessTTL        time.Duration
	refreshTTL       time.Duration
	requireConfirmed bool
	now              func() time.Time
}

func NewAuthService(users repository.UserRepository, tokens repository.TokenRepository, redisClient *redis.Client, mailer Mailer, cfg *config.Config) *AuthService {
	accessTTL := time.Duration(cfg.JWTAccessTTLMinutes) * time.Minute
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	refreshTTL := time.Duration(cfg.JWTRefreshTTLHours) * time.Hour
	if refreshTTL <= 0 {
		refreshTTL = 14 * 24 * time.Hour
	}
	return &AuthService{
		users:            users,
		tokens:           tokens,
		redis:            redisClient,
		mailer:           mailer,
		secret:           []byte(cfg.JWTSecret),
		accessTTL:        accessTTL,
		refreshTTL:       refreshTTL,
		requireConfirmed: cfg.RequireEmailConfirmed,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Register creates an unconfirmed account and sends the confirmation token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.UserProfile, error) {
	in.Email = strings.TrimSpace(in.Email)
	checks := []func() error{
		func() error { return validation.ValidateEmail(in.Email) },
		func() error { return validation.ValidatePassword(in.Password) },
		func() error { return validation.ValidateName("first name", in.FirstName) },
		func() error { return validation.ValidateName("last name", in.LastName) },
		func() error { return validation.ValidateAge(in.Age) },
		func() error { return validation.ValidateSex(in.Sex) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
	}

	existing, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewConflictError("Email is already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	user := &models.User{
		Email:     in.Email,
		Password:  string(hash),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Age:       in.Age,
		Sex:       models.Sex(in.Sex),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	if err := s.sendConfirmation(ctx, user); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "email confirmation not sent",
			"user_id", user.ID, "error", err)
	}
	return &models.UserProfile{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Sex:       user.Sex,
		Age:       user.Age,
	}, nil
}

func (s *AuthService) sendConfirmation(ctx context.Context, user *models.User) error {
	if s.redis == nil {
		return errors.New("redis unavailable")
	}
	token, err := randomToken()
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, cache.EmailConfirmKey(user.ID), token, cache.EmailConfirmTTL).Err(); err != nil {
		return err
	}
	return s.mailer.SendEmailConfirmation(ctx, user.Email, user.ID, token)
}

// redeem checks token against the one stored at key.
func (s *AuthService) redeem(ctx context.Context, key, token, invalid string) error {
	if s.redis == nil {
		return models.NewUnavailableError(errors.New("redis unavailable"))
	}
	stored, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return models.NewValidationError(invalid)
	}
	if err != nil {
		return models.NewUnavailableError(err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return models.NewValidationError(invalid)
	}
	return nil
}

// ConfirmEmail marks the address of userID confirmed when token matches.
func (s *AuthService) ConfirmEmail(ctx context.Context, userID, token string) error {
	key := cache.EmailConfirmKey(userID)
	if err := s.redeem(ctx, key, token, "Invalid or expired confirmation token"); err != nil {
		return err
	}
	if err := s.users.ConfirmEmail(ctx, userID); err != nil {
		return err
	}
	s.redis.Del(ctx, key)
	return nil
}

func (s *AuthService) requireFreeEmail(ctx context.Context, email string) error {
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return models.NewConflictError("Email is already taken")
	}
	return nil
}

// RequestEmailChange checks the password of userID and mails a token to
// newEmail. The account keeps its current address until ConfirmEmailChange
// redeems the token.
func (s *AuthService) RequestEmailChange(ctx context.Context, userID, password, newEmail string) error {
	newEmail = models.NormalizeEmail(newEmail)
	if err := validation.ValidateEmail(newEmail); err != nil {
		return models.NewValidationError(err.Error())
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return models.NewValidationError("Password is incorrect")
	}
	if user.Email == newEmail {
		return models.NewValidationError("New email matches the current one")
	}
	if err := s.requireFreeEmail(ctx, newEmail); err != nil {
		return err
	}
	if s.redis == nil {
		return models.NewUnavailableError(errors.New("redis unavailable"))
	}

	token, err := randomToken()
	if err != nil {
		return models.NewInternalError(err)
	}
	if err := s.redis.Set(ctx, cache.EmailChangeKey(userID, newEmail), token, cache.EmailConfirmTTL).Err(); err != nil {
		return models.NewUnavailableError(err)
	}
	return s.mailer.SendEmailChange(ctx, newEmail, userID, token)
}

// ConfirmEmailChange moves userID to newEmail when token was issued for that
// address. The new address counts as confirmed.
func (s *AuthService) ConfirmEmailChange(ctx context.Context, userID, newEmail, token string) error {
	newEmail = models.NormalizeEmail(newEmail)
	key := cache.EmailChangeKey(userID, newEmail)
	if err := s.redeem(ctx, key, token, "Invalid or expired email change token"); err != nil {
		return err
	}
	// The address may have been registered since the token was sent.
	if err := s.requireFreeEmail(ctx, newEmail); err != nil {
		return err
	}
	if err := s.users.UpdateEmail(ctx, userID, newEmail); err != nil {
		return err
	}
	s.redis.Del(ctx, key)
	return nil
}

// InviteToPlatform mails an invitation to join from inviterID to an address
// that has no account yet.
func (s *AuthService) InviteToPlatform(ctx context.Context, inviterID, email string) error {
	email = models.NormalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return models.NewValidationError(err.Error())
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return models.NewConflictError("User is already registered")
	}
	inviter, err := s.users.GetByID(ctx, inviterID)
	if err != nil {
		return err
	}
	return s.mailer.SendPlatformInvite(ctx, email, inviter.FirstName+" "+inviter.LastName)
}

// Login checks credentials and issues a token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if s.requireConfirmed && !user.EmailConfirmed {
		return nil, models.NewForbiddenError("Email is not confirmed")
	}
	if err := s.users.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		return nil, err
	}
	pair, err := s.issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pair.User, err = s.users.GetProfile(ctx, user.ID)
	return pair, err
}

// Refresh exchanges a live refresh token for a new pair. Presenting a revoked
// token revokes every token of its owner.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	stored, err := s.tokens.Get(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if stored.Revoked {
		if err := s.tokens.RevokeAllForUser(ctx, stored.UserID); err != nil {
			return nil, err
		}
		return nil, models.NewUnauthorizedError("Refresh token has been revoked")
	}
	if !s.now().Before(stored.ExpiresAt) {
		return nil, models.NewUnauthorizedError("Refresh token has expired")
	}
	rotated, err := s.tokens.Revoke(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, models.NewUnauthorizedError("Refresh token has been revoked")
	}
	return s.issue(ctx, stored.UserID)
}

// Logout revokes the refresh token and blacklists the access token id for
// the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, refreshToken, jti string) error {
	if refreshToken != "" {
		if _, err := s.tokens.Revoke(ctx, refreshToken); err != nil {
			return err
		}
	}
	if jti == "" || s.redis == nil {
		return nil
	}
	if err := s.redis.Set(ctx, cache.TokenBlacklistKey(jti), "1", s.accessTTL).Err(); err != nil {
		return models.NewUnavailableError(err)
	}
	return nil
}

// IsRevoked reports whether the access token id was blacklisted. Redis
// failures fail open.
func (s *AuthService) IsRevoked(ctx context.Context, jti string) bool {
	if jti == "" || s.redis == nil {
		return false
	}
	n, err := s.redis.Exists(ctx, cache.TokenBlacklistKey(jti)).Result()
	return err == nil && n > 0
}

func (s *AuthService) issue(ctx context.Context, userID string) (*TokenPair, error) {
	now := s.now()
	jti := uuid.NewString()
	claims := jwt.MapClaims{
		"sub": userID,
		"iss": middleware.TokenIssuer,
		"aud": middleware.TokenAudience,
		"exp": now.Add(s.accessTTL).Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"jti": jti,
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	refresh, err := randomToken()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if err := s.tokens.Create(ctx, &models.RefreshToken{
		Token:     refresh,
		UserID:    userID,
		JwtID:     jti,
		ExpiresAt: now.Add(s.refreshTTL),
	}); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}
