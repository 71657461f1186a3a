package service

import (
	"context"
	"strings"

	"intouch/internal/models"
	"intouch/internal/repository"
	"intouch/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

// UserService serves profiles, user search and account changes.
type UserService struct {
	userRepo        repository.UserRepository
	tokenRepo       repository.TokenRepository
	avatars         *AvatarService
	avatarURLPrefix string
}

// UpdateProfileInput carries the editable profile fields.
type UpdateProfileInput struct {
	UserID    string
	FirstName string
	LastName  string
	Age       int
	Sex       string
}

func NewUserService(userRepo repository.UserRepository, tokenRepo repository.TokenRepository, avatars *AvatarService, avatarURLPrefix string) *UserService {
	return &UserService{
		userRepo:        userRepo,
		tokenRepo:       tokenRepo,
		avatars:         avatars,
		avatarURLPrefix: avatarURLPrefix,
	}
}

// GetProfile returns the public profile of id with its avatar URL resolved.
func (s *UserService) GetProfile(ctx context.Context, id string) (*models.UserProfile, error) {
	profile, err := s.userRepo.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	p := *profile
	p.AvatarSource = resolveURL(s.avatarURLPrefix, p.AvatarSource)
	return &p, nil
}

// Search finds other users by email prefix when query contains "@", by first
// or last name prefix otherwise.
func (s *UserService) Search(ctx context.Context, userID, query string, page models.PageRequest) (models.PagedResult[models.UserProfile], error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.PagedResult[models.UserProfile]{}, models.NewValidationError("Search query is required")
	}

	var (
		rows  []models.UserProfile
		total int64
		err   error
	)
	if strings.Contains(query, "@") {
		rows, total, err = s.userRepo.SearchByEmailPrefix(ctx, query, userID, page)
	} else {
		rows, total, err = s.userRepo.SearchByNamePrefix(ctx, query, userID, page)
	}
	if err != nil {
		return models.PagedResult[models.UserProfile]{}, err
	}
	for i := range rows {
		rows[i].AvatarSource = resolveURL(s.avatarURLPrefix, rows[i].AvatarSource)
	}
	return models.NewPagedResult(rows, total, page), nil
}

func (s *UserService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*models.UserProfile, error) {
	user, err := s.userRepo.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	if err := validation.ValidateName("first name", in.FirstName); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateName("last name", in.LastName); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateAge(in.Age); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateSex(in.Sex); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	user.FirstName = strings.TrimSpace(in.FirstName)
	user.LastName = strings.TrimSpace(in.LastName)
	user.Age = in.Age
	user.Sex = models.Sex(in.Sex)
	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, user.ID)
}

func (s *UserService) checkPassword(ctx context.Context, userID, password string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, models.NewValidationError("Password is incorrect")
	}
	return user, nil
}

// ChangePassword replaces the password after checking the current one. Every
// refresh token of the user is revoked.
func (s *UserService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if _, err := s.checkPassword(ctx, userID, currentPassword); err != nil {
		return err
	}
	if err := validation.ValidatePassword(newPassword); err != nil {
		return models.NewValidationError(err.Error())
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return models.NewInternalError(err)
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return err
	}
	return s.tokenRepo.RevokeAllForUser(ctx, userID)
}

// DeleteAccount removes the user after a password check. The stored avatar
// is dropped from the blob store afterwards.
func (s *UserService) DeleteAccount(ctx context.Context, userID, password string) error {
	if _, err := s.checkPassword(ctx, userID, password); err != nil {
		return err
	}
	avatar, err := s.userRepo.GetAvatar(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.userRepo.Delete(ctx, userID); err != nil {
		return err
	}
	if avatar != nil && s.avatars != nil {
		s.avatars.discard(ctx, avatar.Source)
	}
	return nil
}
