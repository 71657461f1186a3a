package repository

import (
	"context"
	"errors"
	"time"

	"intouch/internal/models"

	"gorm.io/gorm"
)

// ChatRepository defines persistence for chats, memberships and messages.
type ChatRepository interface {
	// Transaction runs fn against a repository bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx ChatRepository) error) error
	CreateChat(ctx context.Context, chat *models.Chat, memberIDs []string) error
	GetByID(ctx context.Context, id string) (*models.Chat, error)
	// FindPrivateChat returns the PRIVATE chat shared by a and b, or nil.
	FindPrivateChat(ctx context.Context, a, b string) (*models.Chat, error)
	UpdateName(ctx context.Context, chatID, name string) error
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	// CountFriends counts the ids holding a FRIEND edge from userID, read
	// through the same handle so it joins an open transaction.
	CountFriends(ctx context.Context, userID string, ids []string) (int64, error)
	AddMembers(ctx context.Context, chatID string, userIDs []string) error
	RemoveMember(ctx context.Context, chatID, userID string) (bool, error)
	// RemoveMembersExcept deletes every membership of chatID except keepUserID's.
	RemoveMembersExcept(ctx context.Context, chatID, keepUserID string) error
	ListMemberIDs(ctx context.Context, chatID string) ([]string, error)
	ListMembers(ctx context.Context, chatIDs []string) (map[string][]models.ChatMember, error)
	ListForUser(ctx context.Context, userID string, page models.PageRequest) ([]models.Chat, int64, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListRecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	ListMessages(ctx context.Context, chatID string, page models.PageRequest) ([]models.Message, int64, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Transaction(ctx context.Context, fn func(tx ChatRepository) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&chatRepository{db: tx})
	})
	return storageError(err)
}

func membershipRows(chatID string, userIDs []string) []models.ChatUser {
	now := time.Now().UTC()
	rows := make([]models.ChatUser, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, models.ChatUser{ChatID: chatID, UserID: id, JoinedAt: now})
	}
	return rows
}

// CreateChat inserts the chat and one membership row per member.
func (r *chatRepository) CreateChat(ctx context.Context, chat *models.Chat, memberIDs []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Create(chat).Error; err != nil {
			return err
		}
		if len(memberIDs) == 0 {
			return nil
		}
		return tx.Omit("User").Create(membershipRows(chat.ID, memberIDs)).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Chat member listed twice")
		}
		return storageError(err)
	}
	return nil
}

func (r *chatRepository) GetByID(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Chat", id)
		}
		return nil, storageError(err)
	}
	return &chat, nil
}

func (r *chatRepository) FindPrivateChat(ctx context.Context, a, b string) (*models.Chat, error) {
	var chats []models.Chat
	err := r.db.WithContext(ctx).
		Joins("JOIN chat_users ca ON ca.chat_id = chats.id AND ca.user_id = ?", a).
		Joins("JOIN chat_users cb ON cb.chat_id = chats.id AND cb.user_id = ?", b).
		Where("chats.type = ?", models.ChatPrivate).
		Limit(1).
		Find(&chats).Error
	if err != nil {
		return nil, storageError(err)
	}
	if len(chats) == 0 {
		return nil, nil
	}
	return &chats[0], nil
}

func (r *chatRepository) UpdateName(ctx context.Context, chatID, name string) error {
	err := r.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", chatID).Update("name", name).Error
	return storageError(err)
}

func (r *chatRepository) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ChatUser{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	if err != nil {
		return false, storageError(err)
	}
	return count > 0, nil
}

func (r *chatRepository) CountFriends(ctx context.Context, userID string, ids []string) (int64, error) {
	return (&relationRepository{db: r.db}).CountFriends(ctx, userID, ids)
}

func (r *chatRepository) AddMembers(ctx context.Context, chatID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Omit("User").Create(membershipRows(chatID, userIDs)).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("User is already a member of this chat")
		}
		return storageError(err)
	}
	return nil
}

func (r *chatRepository) RemoveMember(ctx context.Context, chatID, userID string) (bool, error) {
	res := r.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&models.ChatUser{})
	if res.Error != nil {
		return false, storageError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *chatRepository) RemoveMembersExcept(ctx context.Context, chatID, keepUserID string) error {
	err := r.db.WithContext(ctx).Where("chat_id = ? AND user_id <> ?", chatID, keepUserID).Delete(&models.ChatUser{}).Error
	return storageError(err)
}

func (r *chatRepository) ListMemberIDs(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.ChatUser{}).
		Where("chat_id = ?", chatID).
		Order("joined_at ASC, user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, storageError(err)
	}
	return ids, nil
}

type memberRow struct {
	ChatID    string
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// ListMembers returns the members of every chat in chatIDs, keyed by chat id.
func (r *chatRepository) ListMembers(ctx context.Context, chatIDs []string) (map[string][]models.ChatMember, error) {
	out := make(map[string][]models.ChatMember, len(chatIDs))
	if len(chatIDs) == 0 {
		return out, nil
	}
	var rows []memberRow
	err := r.db.WithContext(ctx).Table("chat_users").
		Select("chat_users.chat_id, users.id, users.email, users.first_name, users.last_name").
		Joins("JOIN users ON users.id = chat_users.user_id").
		Where("chat_users.chat_id IN ?", chatIDs).
		Order("chat_users.joined_at ASC, users.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, storageError(err)
	}
	for _, row := range rows {
		out[row.ChatID] = append(out[row.ChatID], models.ChatMember{
			ID:        row.ID,
			Email:     row.Email,
			FirstName: row.FirstName,
			LastName:  row.LastName,
		})
	}
	return out, nil
}

// ListForUser pages the chats userID belongs to, most recently active first.
func (r *chatRepository) ListForUser(ctx context.Context, userID string, page models.PageRequest) ([]models.Chat, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.ChatUser{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, storageError(err)
	}

	var chats []models.Chat
	err := paginate(r.db.WithContext(ctx).
		Select("chats.*").
		Joins("JOIN chat_users cu ON cu.chat_id = chats.id AND cu.user_id = ?", userID).
		Joins("LEFT JOIN messages ON messages.chat_id = chats.id").
		Group("chats.id").
		Order("COALESCE(MAX(messages.sent_at), chats.created_at) DESC, chats.id ASC"), page).
		Find(&chats).Error
	if err != nil {
		return nil, 0, storageError(err)
	}
	return chats, total, nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Omit("Sender").Create(msg).Error; err != nil {
		return storageError(err)
	}
	return nil
}

// ListRecentMessages returns the latest limit messages of chatID in send order.
func (r *chatRepository) ListRecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("chat_id = ?", chatID).
		Order("sent_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, storageError(err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages pages the history of chatID, newest first.
func (r *chatRepository) ListMessages(ctx context.Context, chatID string, page models.PageRequest) ([]models.Message, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
		return nil, 0, storageError(err)
	}
	var msgs []models.Message
	err := paginate(r.db.WithContext(ctx).
		Preload("Sender").
		Where("chat_id = ?", chatID).
		Order("sent_at DESC, id DESC"), page).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, storageError(err)
	}
	return msgs, total, nil
}
