package notifications

// Event types sent to clients.
const (
	EventMessage       = "message"
	EventTyping        = "typing"
	EventChatCreated   = "chat_created"
	EventChatUpdated   = "chat_updated"
	EventMemberAdded   = "member_added"
	EventMemberRemoved = "member_removed"
	EventChatOpened    = "chat_opened"
	EventRelation      = "relation"
	EventUserStatus    = "user_status"
	EventError         = "error"
	EventShutdown      = "server_shutdown"
)

// Inbound frame types.
const (
	FrameOpenChat    = "open_chat"
	FrameCloseChat   = "close_chat"
	FrameSendMessage = "send_message"
	FrameTyping      = "typing"
)

// Event is the JSON envelope of every outbound frame.
type Event struct {
	Type    string `json:"type"`
	ChatID  string `json:"chatId,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Frame is an inbound client frame.
type Frame struct {
	Type       string `json:"type"`
	ChatID     string `json:"chatId"`
	Content    string `json:"content,omitempty"`
	FileSource string `json:"fileSource,omitempty"`
}

// ErrorEvent builds an error frame for a client.
func ErrorEvent(chatID, message string) Event {
	return Event{Type: EventError, ChatID: chatID, Payload: map[string]string{"message": message}}
}

// RelationEvent is the payload of EventRelation.
type RelationEvent struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

// Relation event actions.
const (
	RelationInviteReceived  = "invite_received"
	RelationInviteAccepted  = "invite_accepted"
	RelationInviteRejected  = "invite_rejected"
	RelationInviteCancelled = "invite_cancelled"
	RelationBlocked         = "blocked"
	RelationFriendRemoved   = "friend_removed"
)
