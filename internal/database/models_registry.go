package database

import "intouch/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Avatar{},
		&models.RefreshToken{},
		&models.Relation{},
		&models.Chat{},
		&models.ChatUser{},
		&models.Message{},
	}
}
