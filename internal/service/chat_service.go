package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"intouch/internal/models"
	"intouch/internal/observability"
	"intouch/internal/repository"
	"intouch/internal/validation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// historySize is the number of messages returned with a single chat.
const historySize = 50

// ChatService manages chats, their membership and message history.
type ChatService struct {
	chats repository.ChatRepository
	users repository.UserRepository
	now   func() time.Time
}

// NewChatService returns a new ChatService.
func NewChatService(chats repository.ChatRepository, users repository.UserRepository) *ChatService {
	return &ChatService{
		chats: chats,
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatService) track(ctx context.Context, op, userID, chatID string) (context.Context, func(error)) {
	return track(ctx, "ChatService", op, observability.ChatOperations,
		attribute.String("user.id", userID), attribute.String("chat.id", chatID))
}

// CreatePrivateChat opens a two-member chat between senderID and the friend
// registered under recipientEmail.
func (s *ChatService) CreatePrivateChat(ctx context.Context, senderID, recipientEmail string) (view *models.ChatView, err error) {
	ctx, done := s.track(ctx, "create_private", senderID, "")
	defer func() { done(err) }()

	if err := validation.ValidateEmail(strings.TrimSpace(recipientEmail)); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	recipient, err := s.users.GetByEmail(ctx, recipientEmail)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, models.NewNotFoundMessage("User with this email was not found")
	}
	if recipient.ID == senderID {
		return nil, models.NewValidationError("Cannot create a chat with yourself")
	}

	chat := &models.Chat{Type: models.ChatPrivate, CreatedAt: s.now()}
	members := []string{senderID, recipient.ID}
	err = s.chats.Transaction(ctx, func(tx repository.ChatRepository) error {
		friends, err := tx.CountFriends(ctx, senderID, []string{recipient.ID})
		if err != nil {
			return err
		}
		if friends == 0 {
			return models.NewConflictError("User is not your friend")
		}
		existing, err := tx.FindPrivateChat(ctx, senderID, recipient.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return models.NewConflictError("Private chat with this user already exists")
		}
		return tx.CreateChat(ctx, chat, members)
	})
	if err != nil {
		return nil, err
	}
	return s.chatView(ctx, chat, nil)
}

// CreateGroupChat creates a named chat owned by creatorID. Every member must
// be a friend of the creator; nothing is created otherwise.
func (s *ChatService) CreateGroupChat(ctx context.Context, creatorID, name string, memberIDs []string) (view *models.ChatView, err error) {
	ctx, done := s.track(ctx, "create_group", creatorID, "")
	defer func() { done(err) }()

	name = strings.TrimSpace(name)
	if err := validation.ValidateChatName(name); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	members := uniqueExcept(memberIDs, creatorID)
	if len(members) < models.MinGroupMembers {
		return nil, models.NewValidationError("Group chat requires at least 2 members besides you")
	}

	chat := &models.Chat{
		Name:      name,
		Type:      models.ChatGroup,
		CreatorID: &creatorID,
		CreatedAt: s.now(),
	}
	err = s.chats.Transaction(ctx, func(tx repository.ChatRepository) error {
		if err := requireFriends(ctx, tx, creatorID, members); err != nil {
			return err
		}
		return tx.CreateChat(ctx, chat, append([]string{creatorID}, members...))
	})
	if err != nil {
		return nil, err
	}
	return s.chatView(ctx, chat, nil)
}

func requireFriends(ctx context.Context, tx repository.ChatRepository, userID string, ids []string) error {
	friends, err := tx.CountFriends(ctx, userID, ids)
	if err != nil {
		return err
	}
	if friends != int64(len(ids)) {
		return models.NewConflictError("All members must be your friends")
	}
	return nil
}

// loadManagedChat returns chatID when requestorID may change it: a group chat
// whose creator is still a member.
func loadManagedChat(ctx context.Context, repo repository.ChatRepository, chatID, requestorID string) (*models.Chat, error) {
	chat, err := repo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Type != models.ChatGroup {
		return nil, models.NewValidationError("Private chats cannot be modified")
	}
	if !chat.IsCreator(requestorID) {
		return nil, models.NewForbiddenError("Only the chat creator can modify the chat")
	}
	member, err := repo.IsMember(ctx, chatID, requestorID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, models.NewForbiddenError("You are no longer a member of this chat")
	}
	return chat, nil
}

// UpdateGroupChat renames the chat and replaces its member list. An empty
// name keeps the current one; a nil member list keeps the membership. A
// different list replaces every non-creator member.
func (s *ChatService) UpdateGroupChat(ctx context.Context, chatID, requestorID, newName string, newMemberIDs []string) (view *models.ChatView, change models.MembershipChange, err error) {
	ctx, done := s.track(ctx, "update_group", requestorID, chatID)
	defer func() { done(err) }()

	var chat *models.Chat
	err = s.chats.Transaction(ctx, func(tx repository.ChatRepository) error {
		var err error
		chat, err = loadManagedChat(ctx, tx, chatID, requestorID)
		if err != nil {
			return err
		}

		if name := strings.TrimSpace(newName); name != "" && name != chat.Name {
			if err := validation.ValidateChatName(name); err != nil {
				return models.NewValidationError(err.Error())
			}
			if err := tx.UpdateName(ctx, chatID, name); err != nil {
				return err
			}
			chat.Name = name
		}

		if newMemberIDs == nil {
			return nil
		}
		current, err := tx.ListMemberIDs(ctx, chatID)
		if err != nil {
			return err
		}
		current = uniqueExcept(current, requestorID)
		desired := uniqueExcept(newMemberIDs, requestorID)
		if sameSet(current, desired) {
			return nil
		}
		if len(desired) < models.MinGroupMembers {
			return models.NewValidationError("Group chat requires at least 2 members besides you")
		}
		if err := requireFriends(ctx, tx, requestorID, desired); err != nil {
			return err
		}
		if err := tx.RemoveMembersExcept(ctx, chatID, requestorID); err != nil {
			return err
		}
		if err := tx.AddMembers(ctx, chatID, desired); err != nil {
			return err
		}
		change = models.MembershipChange{
			Added:   difference(desired, current),
			Removed: difference(current, desired),
		}
		return nil
	})
	if err != nil {
		return nil, models.MembershipChange{}, err
	}
	view, err = s.chatView(ctx, chat, nil)
	return view, change, err
}

// AddMember adds a friend of the creator to a group chat.
func (s *ChatService) AddMember(ctx context.Context, chatID, requestorID, memberID string) (err error) {
	ctx, done := s.track(ctx, "add_member", requestorID, chatID)
	defer func() { done(err) }()

	exists, err := s.users.Exists(ctx, memberID)
	if err != nil {
		return err
	}
	if !exists {
		return models.NewNotFoundError("User", memberID)
	}

	return s.chats.Transaction(ctx, func(tx repository.ChatRepository) error {
		if _, err := loadManagedChat(ctx, tx, chatID, requestorID); err != nil {
			return err
		}
		member, err := tx.IsMember(ctx, chatID, memberID)
		if err != nil {
			return err
		}
		if member {
			return models.NewConflictError("User is already a member of this chat")
		}
		friends, err := tx.CountFriends(ctx, requestorID, []string{memberID})
		if err != nil {
			return err
		}
		if friends == 0 {
			return models.NewConflictError("User is not your friend")
		}
		return tx.AddMembers(ctx, chatID, []string{memberID})
	})
}

// RemoveMember removes a non-creator member from a group chat.
func (s *ChatService) RemoveMember(ctx context.Context, chatID, requestorID, memberID string) (err error) {
	ctx, done := s.track(ctx, "remove_member", requestorID, chatID)
	defer func() { done(err) }()

	return s.chats.Transaction(ctx, func(tx repository.ChatRepository) error {
		chat, err := loadManagedChat(ctx, tx, chatID, requestorID)
		if err != nil {
			return err
		}
		if chat.IsCreator(memberID) {
			return models.NewValidationError("The chat creator cannot be removed")
		}
		removed, err := tx.RemoveMember(ctx, chatID, memberID)
		if err != nil {
			return err
		}
		if !removed {
			return models.NewNotFoundMessage("User is not a member of this chat")
		}
		return nil
	})
}

// LeaveChat removes userID from the chat. A leaving creator keeps the
// creator id, which freezes the chat's settings.
func (s *ChatService) LeaveChat(ctx context.Context, chatID, userID string) (err error) {
	ctx, done := s.track(ctx, "leave", userID, chatID)
	defer func() { done(err) }()

	if _, err := s.chats.GetByID(ctx, chatID); err != nil {
		return err
	}
	removed, err := s.chats.RemoveMember(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return models.NewNotFoundMessage("You are not a member of this chat")
	}
	return nil
}

// GetChat returns a chat userID belongs to, with members and recent history.
func (s *ChatService) GetChat(ctx context.Context, chatID, userID string) (*models.ChatView, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.chats.ListRecentMessages(ctx, chatID, historySize)
	if err != nil {
		return nil, err
	}
	return s.chatView(ctx, chat, msgs)
}

// ListChats pages userID's chats, most recently active first.
func (s *ChatService) ListChats(ctx context.Context, userID string, page models.PageRequest) (models.PagedResult[models.ChatView], error) {
	chats, total, err := s.chats.ListForUser(ctx, userID, page)
	if err != nil {
		return models.PagedResult[models.ChatView]{}, err
	}
	ids := make([]string, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
	}
	members, err := s.chats.ListMembers(ctx, ids)
	if err != nil {
		return models.PagedResult[models.ChatView]{}, err
	}
	views := make([]models.ChatView, len(chats))
	for i := range chats {
		views[i] = toChatView(&chats[i], members[chats[i].ID], nil)
	}
	return models.NewPagedResult(views, total, page), nil
}

// IsMember reports whether userID belongs to chatID.
func (s *ChatService) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	return s.chats.IsMember(ctx, chatID, userID)
}

// MemberIDs lists the current members of chatID.
func (s *ChatService) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	return s.chats.ListMemberIDs(ctx, chatID)
}

func (s *ChatService) requireMember(ctx context.Context, chatID, userID string) error {
	member, err := s.chats.IsMember(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !member {
		return models.NewNotFoundError("Chat", chatID)
	}
	return nil
}

// SaveMessage stores a message sent by senderID. Membership is the caller's
// concern. A message needs content, a file, or both.
func (s *ChatService) SaveMessage(ctx context.Context, chatID, senderID, content, fileSource string) (view *models.MessageView, err error) {
	ctx, done := s.track(ctx, "save_message", senderID, chatID)
	defer func() { done(err) }()

	if _, err := uuid.Parse(chatID); err != nil {
		return nil, models.NewValidationError("Invalid chat id")
	}
	if _, err := s.chats.GetByID(ctx, chatID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" && fileSource == "" {
		return nil, models.NewValidationError("Message content is required")
	}
	if utf8.RuneCountInString(content) > models.MaxMessageLength {
		return nil, models.NewValidationError("Message content too long (max 10000 characters)")
	}

	msg := &models.Message{
		ChatID:   chatID,
		SenderID: &senderID,
		Content:  content,
		Type:     models.MessageText,
		SentAt:   s.now(),
	}
	if fileSource != "" {
		msg.Type = models.MessageFile
		msg.FileSource = &fileSource
	}
	if err := s.chats.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	observability.MessagesSaved.WithLabelValues(string(msg.Type)).Inc()

	if sender, err := s.users.GetProfile(ctx, senderID); err == nil {
		msg.Sender = &models.User{ID: sender.ID, FirstName: sender.FirstName, LastName: sender.LastName}
	}
	v := toMessageView(*msg)
	return &v, nil
}

// Notice is a membership event announced in the chat as a system message.
type Notice string

const (
	NoticeAdded   Notice = "was added to the chat"
	NoticeRemoved Notice = "was removed from the chat"
	NoticeLeft    Notice = "left the chat"
)

// PostNotice stores a system message "<first> <last> <notice>" in chatID.
func (s *ChatService) PostNotice(ctx context.Context, chatID, subjectID string, notice Notice) (*models.MessageView, error) {
	subject, err := s.users.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		ChatID:  chatID,
		Content: strings.TrimSpace(subject.FirstName+" "+subject.LastName) + " " + string(notice),
		Type:    models.MessageSystem,
		SentAt:  s.now(),
	}
	if err := s.chats.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	observability.MessagesSaved.WithLabelValues(string(msg.Type)).Inc()
	v := toMessageView(*msg)
	return &v, nil
}

// ListMessages pages the history of a chat userID belongs to, newest first.
func (s *ChatService) ListMessages(ctx context.Context, chatID, userID string, page models.PageRequest) (models.PagedResult[models.MessageView], error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return models.PagedResult[models.MessageView]{}, err
	}
	msgs, total, err := s.chats.ListMessages(ctx, chatID, page)
	if err != nil {
		return models.PagedResult[models.MessageView]{}, err
	}
	views := make([]models.MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = toMessageView(m)
	}
	return models.NewPagedResult(views, total, page), nil
}

func (s *ChatService) chatView(ctx context.Context, chat *models.Chat, msgs []models.Message) (*models.ChatView, error) {
	members, err := s.chats.ListMembers(ctx, []string{chat.ID})
	if err != nil {
		return nil, err
	}
	v := toChatView(chat, members[chat.ID], msgs)
	return &v, nil
}

func toChatView(chat *models.Chat, members []models.ChatMember, msgs []models.Message) models.ChatView {
	if members == nil {
		members = []models.ChatMember{}
	}
	v := models.ChatView{
		ID:        chat.ID,
		Name:      chat.Name,
		Type:      chat.Type,
		CreatedAt: chat.CreatedAt,
		Members:   members,
	}
	if chat.CreatorID != nil {
		v.CreatorID = *chat.CreatorID
	}
	if msgs != nil {
		v.Messages = make([]models.MessageView, len(msgs))
		for i, m := range msgs {
			v.Messages[i] = toMessageView(m)
		}
	}
	return v
}

func toMessageView(m models.Message) models.MessageView {
	v := models.MessageView{
		ID:      m.ID,
		ChatID:  m.ChatID,
		Content: m.Content,
		Type:    m.Type,
		SentAt:  m.SentAt,
	}
	if m.SenderID != nil {
		v.SenderID = *m.SenderID
	}
	if m.Sender != nil {
		v.SenderName = m.Sender.FullName()
	}
	if m.FileSource != nil {
		v.FileSource = *m.FileSource
	}
	return v
}
