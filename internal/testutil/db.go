// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"testing"
	"time"

	"intouch/internal/database"
	"intouch/internal/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens an isolated in-memory SQLite database with the full schema.
// The pool is pinned to one connection so every statement sees the same
// in-memory database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(database.PersistentModels()...); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

// CreateUser inserts a confirmed user with the given names.
func CreateUser(t *testing.T, db *gorm.DB, first, last string) *models.User {
	t.Helper()
	u := &models.User{
		ID:             uuid.NewString(),
		Email:          first + "." + last + "." + uuid.NewString()[:8] + "@example.com",
		FirstName:      first,
		LastName:       last,
		Password:       "$2a$10$placeholderhash",
		EmailConfirmed: true,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// MakeFriends inserts the two FRIEND edges between a and b.
func MakeFriends(t *testing.T, db *gorm.DB, a, b string) {
	t.Helper()
	now := time.Now().UTC()
	rows := []models.Relation{
		{RequestedByUser: a, RequestedToUser: b, Type: models.RelationFriend, RequestedAt: now},
		{RequestedByUser: b, RequestedToUser: a, Type: models.RelationFriend, RequestedAt: now},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("make friends: %v", err)
	}
}
