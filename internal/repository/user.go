package repository

import (
	"context"
	"errors"
	"time"

	"intouch/internal/cache"
	"intouch/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines persistence operations for users and their avatars.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetProfile(ctx context.Context, id string) (*models.UserProfile, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateEmail(ctx context.Context, id, email string) error
	ConfirmEmail(ctx context.Context, id string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	SearchByEmailPrefix(ctx context.Context, prefix, excludeID string, page models.PageRequest) ([]models.UserProfile, int64, error)
	SearchByNamePrefix(ctx context.Context, prefix, excludeID string, page models.PageRequest) ([]models.UserProfile, int64, error)
	GetAvatar(ctx context.Context, userID string) (*models.Avatar, error)
	SetAvatar(ctx context.Context, userID, source string) (previous string, err error)
	DeleteAvatar(ctx context.Context, userID string) (previous string, err error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", id)
		}
		return nil, storageError(err)
	}
	return &user, nil
}

const profileColumns = "users.id, users.email, users.first_name, users.last_name, users.sex, users.age, COALESCE(avatars.source, '') AS avatar_source"

func (r *userRepository) profileQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("users").
		Select(profileColumns).
		Joins("LEFT JOIN avatars ON avatars.user_id = users.id")
}

// GetProfile returns the public view of a user, served through the profile cache.
func (r *userRepository) GetProfile(ctx context.Context, id string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := cache.Aside(ctx, cache.UserProfileKey(id), &profile, cache.UserProfileTTL, func() error {
		var rows []models.UserProfile
		if err := r.profileQuery(ctx).Where("users.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
			return storageError(err)
		}
		if len(rows) == 0 {
			return models.NewNotFoundError("User", id)
		}
		profile = rows[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetByEmail returns nil, nil when no user has the address.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storageError(err)
	}
	return &user, nil
}

func (r *userRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, storageError(err)
	}
	return count > 0, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Email is already taken")
		}
		return storageError(err)
	}
	return nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).
		Select("first_name", "last_name", "sex", "age", "updated_at").
		Updates(map[string]interface{}{
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"sex":        user.Sex,
			"age":        user.Age,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return storageError(err)
	}
	cache.InvalidateUser(ctx, user.ID)
	return nil
}

func (r *userRepository) updateColumn(ctx context.Context, id, column string, value interface{}) error {
	return r.updateColumns(ctx, id, map[string]interface{}{column: value})
}

func (r *userRepository) updateColumns(ctx context.Context, id string, values map[string]interface{}) error {
	values["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		if isUniqueConstraintError(res.Error) {
			return models.NewConflictError("Email is already taken")
		}
		return storageError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

func (r *userRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.updateColumn(ctx, id, "password", passwordHash)
}

// UpdateEmail moves the account to email. Callers prove ownership of the
// address first, so it is stored as confirmed.
func (r *userRepository) UpdateEmail(ctx context.Context, id, email string) error {
	return r.updateColumns(ctx, id, map[string]interface{}{
		"email":           models.NormalizeEmail(email),
		"email_confirmed": true,
	})
}

func (r *userRepository) ConfirmEmail(ctx context.Context, id string) error {
	return r.updateColumn(ctx, id, "email_confirmed", true)
}

func (r *userRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.updateColumn(ctx, id, "last_log_in_date", at)
}

// Delete removes the user together with their edges, memberships, avatar and
// tokens. Messages they sent stay, detached from the account.
func (r *userRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("requested_by_user = ? OR requested_to_user = ?", id, id).Delete(&models.Relation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.ChatUser{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Message{}).Where("sender_id = ?", id).Update("sender_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Chat{}).Where("creator_id = ?", id).Update("creator_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Avatar{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("User", id)
		}
		return nil
	})
	if err != nil {
		return storageError(err)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

func (r *userRepository) search(ctx context.Context, where string, args []interface{}, page models.PageRequest) ([]models.UserProfile, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Table("users").Where(where, args...).Count(&total).Error; err != nil {
		return nil, 0, storageError(err)
	}
	var rows []models.UserProfile
	err := paginate(r.profileQuery(ctx).Where(where, args...).Order("users.last_name ASC, users.first_name ASC, users.id ASC"), page).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, storageError(err)
	}
	return rows, total, nil
}

func (r *userRepository) SearchByEmailPrefix(ctx context.Context, prefix, excludeID string, page models.PageRequest) ([]models.UserProfile, int64, error) {
	return r.search(ctx, `users.id <> ? AND users.email LIKE ? ESCAPE '\'`,
		[]interface{}{excludeID, likePrefix(prefix)}, page)
}

func (r *userRepository) SearchByNamePrefix(ctx context.Context, prefix, excludeID string, page models.PageRequest) ([]models.UserProfile, int64, error) {
	p := likePrefix(prefix)
	return r.search(ctx, `users.id <> ? AND (LOWER(users.first_name) LIKE ? ESCAPE '\' OR LOWER(users.last_name) LIKE ? ESCAPE '\')`,
		[]interface{}{excludeID, p, p}, page)
}

func (r *userRepository) GetAvatar(ctx context.Context, userID string) (*models.Avatar, error) {
	var avatar models.Avatar
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&avatar).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storageError(err)
	}
	return &avatar, nil
}

// SetAvatar upserts the user's avatar and returns the previous locator, if any.
func (r *userRepository) SetAvatar(ctx context.Context, userID, source string) (string, error) {
	var previous string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Avatar
		err := tx.Where("user_id = ?", userID).First(&existing).Error
		switch {
		case err == nil:
			previous = existing.Source
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"source", "updated_at"}),
		}).Create(&models.Avatar{UserID: userID, Source: source, UpdatedAt: time.Now().UTC()}).Error
	})
	if err != nil {
		return "", storageError(err)
	}
	cache.InvalidateUser(ctx, userID)
	return previous, nil
}

// DeleteAvatar removes the avatar row and returns its locator. NOT_FOUND when
// the user has none.
func (r *userRepository) DeleteAvatar(ctx context.Context, userID string) (string, error) {
	var existing models.Avatar
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", models.NewNotFoundMessage("User has no avatar")
		}
		return "", storageError(err)
	}
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Avatar{}).Error; err != nil {
		return "", storageError(err)
	}
	cache.InvalidateUser(ctx, userID)
	return existing.Source, nil
}
