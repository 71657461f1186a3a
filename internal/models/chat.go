package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatType is either PRIVATE (two members) or GROUP.
type ChatType string

const (
	ChatPrivate ChatType = "PRIVATE"
	ChatGroup   ChatType = "GROUP"
)

// MessageType distinguishes user text, file attachments and system notices.
type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageFile   MessageType = "FILE"
	MessageSystem MessageType = "SYSTEM"
)

// Limits applied to chats and messages.
const (
	MaxMessageLength  = 10000
	MaxChatNameLength = 100
	MinGroupMembers   = 2
)

type Chat struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(100)" json:"name"`
	Type      ChatType  `gorm:"type:varchar(16);not null;index" json:"type"`
	CreatorID *string   `gorm:"type:varchar(36);index" json:"creator_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Members []ChatUser `gorm:"foreignKey:ChatID" json:"-"`
}

func (Chat) TableName() string {
	return "chats"
}

func (c *Chat) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsCreator reports whether userID created the chat.
func (c *Chat) IsCreator(userID string) bool {
	return c.CreatorID != nil && *c.CreatorID == userID
}

// ChatUser is a membership row. (ChatID, UserID) is the primary key.
type ChatUser struct {
	ChatID   string    `gorm:"type:varchar(36);primaryKey" json:"chat_id"`
	UserID   string    `gorm:"type:varchar(36);primaryKey;index" json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (ChatUser) TableName() string {
	return "chat_users"
}

// Message is append-only. SenderID is nil for system notices.
type Message struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	ChatID     string      `gorm:"type:varchar(36);not null;index:idx_messages_chat_sent" json:"chat_id"`
	SenderID   *string     `gorm:"type:varchar(36);index" json:"sender_id,omitempty"`
	Content    string      `gorm:"type:text" json:"content"`
	FileSource *string     `gorm:"type:varchar(512)" json:"file_source,omitempty"`
	Type       MessageType `gorm:"type:varchar(16);not null;default:'TEXT'" json:"type"`
	SentAt     time.Time   `gorm:"not null;index:idx_messages_chat_sent" json:"sent_at"`

	Sender *User `gorm:"foreignKey:SenderID" json:"-"`
}

func (Message) TableName() string {
	return "messages"
}

// ChatMember is the public view of a chat participant.
type ChatMember struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// MessageView is a message as returned to clients.
type MessageView struct {
	ID         uint        `json:"id"`
	ChatID     string      `json:"chat_id"`
	SenderID   string      `json:"sender_id,omitempty"`
	SenderName string      `json:"sender_name,omitempty"`
	Content    string      `json:"content"`
	FileSource string      `json:"file_source,omitempty"`
	Type       MessageType `json:"type"`
	SentAt     time.Time   `json:"sent_at"`
}

// ChatView is chat metadata with its members and, for single-chat
// fetches, recent messages.
type ChatView struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      ChatType      `json:"type"`
	CreatorID string        `json:"creator_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Members   []ChatMember  `json:"members"`
	Messages  []MessageView `json:"messages,omitempty"`
}

// MembershipChange lists users added to and removed from a chat by one
// mutation.
type MembershipChange struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Empty reports whether the change touched no membership.
func (m MembershipChange) Empty() bool {
	return len(m.Added) == 0 && len(m.Removed) == 0
}
