// Package models contains data structures for the application's domain models.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sex is the optional self-declared sex of a user.
type Sex string

const (
	SexUnspecified Sex = ""
	SexMale        Sex = "M"
	SexFemale      Sex = "F"
)

// User is an account of the inTouch service.
type User struct {
	ID               string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email            string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	FirstName        string     `gorm:"type:varchar(100);not null;index:idx_users_names" json:"first_name"`
	LastName         string     `gorm:"type:varchar(100);not null;index:idx_users_names" json:"last_name"`
	Password         string     `gorm:"not null" json:"-"`
	Sex              Sex        `gorm:"type:varchar(1)" json:"sex"`
	Age              int        `json:"age"`
	EmailConfirmed   bool       `gorm:"not null;default:false" json:"email_confirmed"`
	RegistrationDate time.Time  `json:"registration_date"`
	LastLogInDate    *time.Time `json:"last_login_date,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`

	Avatar *Avatar `gorm:"foreignKey:UserID" json:"-"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns the id and normalizes the email.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.RegistrationDate.IsZero() {
		u.RegistrationDate = time.Now().UTC()
	}
	return nil
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NormalizeEmail lower-cases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Avatar stores the blob locator of a user's profile picture.
type Avatar struct {
	UserID    string    `gorm:"type:varchar(36);primaryKey" json:"user_id"`
	Source    string    `gorm:"type:varchar(512);not null" json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Avatar) TableName() string {
	return "avatars"
}

// UserProfile is the public view of a user.
type UserProfile struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Sex          Sex    `json:"sex,omitempty"`
	Age          int    `json:"age,omitempty"`
	AvatarSource string `json:"avatar_source,omitempty"`
}

// RefreshToken is a long-lived credential exchanged for new access tokens.
type RefreshToken struct {
	Token     string    `gorm:"type:varchar(128);primaryKey" json:"-"`
	UserID    string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	JwtID     string    `gorm:"type:varchar(36);not null" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Revoked   bool      `gorm:"not null;default:false" json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}
