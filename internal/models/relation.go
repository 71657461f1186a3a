package models

import "time"

// RelationType is the state of a directed edge between two users.
type RelationType string

const (
	RelationInvited RelationType = "INVITED"
	RelationFriend  RelationType = "FRIEND"
	RelationBlocked RelationType = "BLOCKED"
)

// Valid reports whether t is a known relation type.
func (t RelationType) Valid() bool {
	switch t {
	case RelationInvited, RelationFriend, RelationBlocked:
		return true
	}
	return false
}

// Relation is a directed edge RequestedByUser -> RequestedToUser. The ordered
// pair is the primary key so a pair holds at most one edge.
type Relation struct {
	RequestedByUser string       `gorm:"column:requested_by_user;type:varchar(36);primaryKey" json:"requested_by_user"`
	RequestedToUser string       `gorm:"column:requested_to_user;type:varchar(36);primaryKey;index" json:"requested_to_user"`
	Type            RelationType `gorm:"type:varchar(16);not null;index" json:"type"`
	RequestedAt     time.Time    `gorm:"not null" json:"requested_at"`
}

func (Relation) TableName() string {
	return "relations"
}

// RelationUser is the view of the counterpart of a relation edge.
type RelationUser struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	AvatarSource string    `json:"avatar_source,omitempty"`
	RequestAt    time.Time `json:"request_at"`
}
