package service

import (
	"context"
	"strings"
	"testing"

	"intouch/internal/models"
	"intouch/internal/repository"
	"intouch/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type chatFixture struct {
	db    *gorm.DB
	svc   *ChatService
	chats repository.ChatRepository
	owner *models.User
	f1    *models.User
	f2    *models.User
	f3    *models.User
	other *models.User
}

// newChatFixture creates an owner with three friends and one stranger.
func newChatFixture(t *testing.T) chatFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	chats := repository.NewChatRepository(db)
	f := chatFixture{
		db:    db,
		svc:   NewChatService(chats, repository.NewUserRepository(db)),
		chats: chats,
		owner: testutil.CreateUser(t, db, "Olive", "Owner"),
		f1:    testutil.CreateUser(t, db, "Ada", "Lovelace"),
		f2:    testutil.CreateUser(t, db, "Alan", "Turing"),
		f3:    testutil.CreateUser(t, db, "Grace", "Hopper"),
		other: testutil.CreateUser(t, db, "Sam", "Stranger"),
	}
	for _, u := range []*models.User{f.f1, f.f2, f.f3} {
		testutil.MakeFriends(t, db, f.owner.ID, u.ID)
	}
	return f
}

func memberIDs(v *models.ChatView) []string {
	ids := make([]string, len(v.Members))
	for i, m := range v.Members {
		ids[i] = m.ID
	}
	return ids
}

func TestChatService_CreatePrivateChat(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePrivateChat(ctx, f.owner.ID, "not-an-email")
	assertCode(t, err, models.CodeValidation)
	_, err = f.svc.CreatePrivateChat(ctx, f.owner.ID, "nobody@example.com")
	assertCode(t, err, models.CodeNotFound)
	_, err = f.svc.CreatePrivateChat(ctx, f.owner.ID, f.owner.Email)
	assertCode(t, err, models.CodeValidation)
	_, err = f.svc.CreatePrivateChat(ctx, f.owner.ID, f.other.Email)
	assertCode(t, err, models.CodeConflict)

	chat, err := f.svc.CreatePrivateChat(ctx, f.owner.ID, strings.ToUpper(f.f1.Email))
	require.NoError(t, err)
	assert.Equal(t, models.ChatPrivate, chat.Type)
	assert.ElementsMatch(t, []string{f.owner.ID, f.f1.ID}, memberIDs(chat))

	_, err = f.svc.CreatePrivateChat(ctx, f.f1.ID, f.owner.Email)
	assertCode(t, err, models.CodeConflict)
}

func TestChatService_CreateGroupChat(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateGroupChat(ctx, f.owner.ID, " ", []string{f.f1.ID, f.f2.ID})
	assertCode(t, err, models.CodeValidation)
	_, err = f.svc.CreateGroupChat(ctx, f.owner.ID, "crew", []string{f.f1.ID, f.f1.ID, f.owner.ID})
	assertCode(t, err, models.CodeValidation)
	_, err = f.svc.CreateGroupChat(ctx, f.owner.ID, "crew", []string{f.f1.ID, f.other.ID})
	assertCode(t, err, models.CodeConflict)

	var count int64
	f.db.Model(&models.Chat{}).Count(&count)
	assert.Zero(t, count, "a rejected group leaves nothing behind")

	chat, err := f.svc.CreateGroupChat(ctx, f.owner.ID, "  crew ", []string{f.f1.ID, f.f2.ID})
	require.NoError(t, err)
	assert.Equal(t, "crew", chat.Name)
	assert.Equal(t, f.owner.ID, chat.CreatorID)
	assert.ElementsMatch(t, []string{f.owner.ID, f.f1.ID, f.f2.ID}, memberIDs(chat))
}

func TestChatService_UpdateGroupChat(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	chat, err := f.svc.CreateGroupChat(ctx, f.owner.ID, "crew", []string{f.f1.ID, f.f2.ID})
	require.NoError(t, err)

	_, _, err = f.svc.UpdateGroupChat(ctx, chat.ID, f.f1.ID, "mine", nil)
	assertCode(t, err, models.CodeForbidden)

	renamed, change, err := f.svc.UpdateGroupChat(ctx, chat.ID, f.owner.ID, "new crew", nil)
	require.NoError(t, err)
	assert.Equal(t, "new crew", renamed.Name)
	assert.True(t, change.Empty())

	_, change, err = f.svc.UpdateGroupChat(ctx, chat.ID, f.owner.ID, "", []string{f.f2.ID, f.f1.ID, f.owner.ID})
	require.NoError(t, err)
	assert.True(t, change.Empty(), "same set in another order is no change")

	_, _, err = f.svc.UpdateGroupChat(ctx, chat.ID, f.owner.ID, "", []string{f.f1.ID, f.other.ID})
	assertCode(t, err, models.CodeConflict)
	_, _, err = f.svc.UpdateGroupChat(ctx, chat.ID, f.owner.ID, "", []string{f.f3.ID})
	assertCode(t, err, models.CodeValidation)

	updated, change, err := f.svc.UpdateGroupChat(ctx, chat.ID, f.owner.ID, "", []string{f.f1.ID, f.f3.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{f.f3.ID}, change.Added)
	assert.Equal(t, []string{f.f2.ID}, change.Removed)
	assert.ElementsMatch(t, []string{f.owner.ID, f.f1.ID, f.f3.ID}, memberIDs(updated))
	assert.Equal(t, "new crew", updated.Name)
}

func TestChatService_NonCreatorCannotChangeMembers(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	chat, err := f.svc.CreateGroupChat(ctx, f.owner.ID, "crew", []string{f.f1.ID, f.f2.ID})
	require.NoError(t, err)

	_, change, err := f.svc.UpdateGroupChat(ctx, chat.ID, f.f1.ID, "", []string{f.f1.ID, f.f3.ID})
	assertCode(t, err, models.CodeForbidden)
	assert.True(t, change.Empty())

	ids, err := f.svc.MemberIDs(ctx, chat.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.owner.ID, f.f1.ID, f.f2.ID}, ids)

	view, err := f.svc.GetChat(ctx, chat.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "crew", view.Name)
}

func TestChatService_PrivateChatIsImmutable(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	chat, err := f.svc.CreatePrivateChat(ctx, f.owner.ID, f.f1.Email)
	require.NoError(t, err)

	_, _, err = f.svc.UpdateGroupChat(ctx, chat.ID, f.owner.ID, "renamed", nil)
	assertCode(t, err, models.CodeValidation)
	assertCode(t, f.svc.AddMember(ctx, chat.ID, f.owner.ID, f.f2.ID), models.CodeValidation)
}

func TestChatService_AddAndRemoveMember(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	chat, err := f.svc.CreateGroupChat(ctx, f.owner.ID, "crew", []string{f.f1.ID, f.f2.ID})
	require.NoError(t, err)

	assertCode(t, f.svc.AddMember(ctx, chat.ID, f.f1.ID, f.f3.ID), models.CodeForbidden)
	assertCode(t, f.svc.AddMember(ctx, chat.ID, f.owner.ID, f.f1.ID), models.CodeConflict)
	assertCode(t, f.svc.AddMember(ctx, chat.ID, f.owner.ID, f.other.ID), models.CodeConflict)
	assertCode(t, f.svc.AddMember(ctx, chat.ID, f.owner.ID, "missing"), models.CodeNotFound)
	require.NoError(t, f.svc.AddMember(ctx, chat.ID, f.owner.ID, f.f3.ID))

	assertCode(t, f.svc.RemoveMember(ctx, chat.ID, f.owner.ID, f.owner.ID), models.CodeValidation)
	assertCode(t, f.svc.RemoveMember(ctx, chat.ID, f.owner.ID, f.other.ID), models.CodeNotFound)
	assertCode(t, f.svc.RemoveMember(ctx, chat.ID, f.f1.ID, f.f2.ID), models.CodeForbidden)
	require.NoError(t, f.svc.RemoveMember(ctx, chat.ID, f.owner.ID, f.f2.ID))

	ids, err := f.svc.MemberIDs(ctx, chat.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.owner.ID, f.f1.ID, f.f3.ID}, ids)
}

func TestChatService_CreatorLeavingFreezesChat(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	chat, err := f.svc.CreateGroupChat(ctx, f.owner.ID, "crew", []string{f.f1.ID, f.f2.ID})
	require.NoError(t, err)

	assertCode(t, f.svc.LeaveChat(ctx, chat.ID, f.other.ID), models.CodeNotFound)
	require.NoError(t, f.svc.LeaveChat(ctx, chat.ID, f.owner.ID))

	stored, err := f.chats.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsCreator(f.owner.ID))

	assertCode(t, f.svc.AddMember(ctx, chat.ID, f.owner.ID, f.f3.ID), models.CodeForbidden)
	_, err = f.svc.GetChat(ctx, chat.ID, f.owner.ID)
	assertCode(t, err, models.CodeNotFound)

	view, err := f.svc.GetChat(ctx, chat.ID, f.f1.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.f1.ID, f.f2.ID}, memberIDs(view))
}

func TestChatService_SaveMessage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	chat, err := f.svc.CreatePrivateChat(ctx, f.owner.ID, f.f1.Email)
	require.NoError(t, err)

	_, err = f.svc.SaveMessage(ctx, "not-a-uuid", f.owner.ID, "hi", "")
	assertCode(t, err, models.CodeValidation)
	_, err = f.svc.SaveMessage(ctx, uuid.NewString(), f.owner.ID, "hi", "")
	assertCode(t, err, models.CodeNotFound)
	_, err = f.svc.SaveMessage(ctx, chat.ID, f.owner.ID, "   ", "")
	assertCode(t, err, models.CodeValidation)
	_, err = f.svc.SaveMessage(ctx, chat.ID, f.owner.ID, strings.Repeat("x", models.MaxMessageLength+1), "")
	assertCode(t, err, models.CodeValidation)

	msg, err := f.svc.SaveMessage(ctx, chat.ID, f.owner.ID, strings.Repeat("é", models.MaxMessageLength), "")
	require.NoError(t, err)
	assert.Equal(t, models.MessageText, msg.Type)
	assert.Equal(t, "Olive Owner", msg.SenderName)
	assert.Equal(t, "UTC", msg.SentAt.Location().String())

	file, err := f.svc.SaveMessage(ctx, chat.ID, f.f1.ID, "", "https://files.example.com/messages/x.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.MessageFile, file.Type)
	assert.Equal(t, "https://files.example.com/messages/x.pdf", file.FileSource)

	// Membership is not checked when saving.
	_, err = f.svc.SaveMessage(ctx, chat.ID, f.other.ID, "sneaky", "")
	require.NoError(t, err)

	view, err := f.svc.GetChat(ctx, chat.ID, f.f1.ID)
	require.NoError(t, err)
	require.Len(t, view.Messages, 3)
	assert.Equal(t, models.MessageText, view.Messages[0].Type)
	assert.Equal(t, "sneaky", view.Messages[2].Content)
}

func TestChatService_SaveMessageAppendsDuplicates(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	chat, err := f.svc.CreatePrivateChat(ctx, f.owner.ID, f.f1.Email)
	require.NoError(t, err)

	first, err := f.svc.SaveMessage(ctx, chat.ID, f.owner.ID, "same words", "")
	require.NoError(t, err)
	second, err := f.svc.SaveMessage(ctx, chat.ID, f.owner.ID, "same words", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	var rows int64
	f.db.Model(&models.Message{}).Where("chat_id = ?", chat.ID).Count(&rows)
	assert.Equal(t, int64(2), rows)

	page, err := f.svc.ListMessages(ctx, chat.ID, f.f1.ID, models.NewPageRequest(1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalCount)
	require.Len(t, page.Items, 2)
	assert.Equal(t, page.Items[0].Content, page.Items[1].Content)
}

func TestChatService_PostNoticeAndHistory(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	chat, err := f.svc.CreateGroupChat(ctx, f.owner.ID, "crew", []string{f.f1.ID, f.f2.ID})
	require.NoError(t, err)

	notice, err := f.svc.PostNotice(ctx, chat.ID, f.f3.ID, NoticeAdded)
	require.NoError(t, err)
	assert.Equal(t, models.MessageSystem, notice.Type)
	assert.Equal(t, "Grace Hopper was added to the chat", notice.Content)
	assert.Empty(t, notice.SenderID)

	_, err = f.svc.SaveMessage(ctx, chat.ID, f.f1.ID, "welcome", "")
	require.NoError(t, err)

	page, err := f.svc.ListMessages(ctx, chat.ID, f.f2.ID, models.NewPageRequest(1, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNext)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "welcome", page.Items[0].Content)

	_, err = f.svc.ListMessages(ctx, chat.ID, f.other.ID, models.NewPageRequest(1, 10))
	assertCode(t, err, models.CodeNotFound)
}

func TestChatService_ListChatsIncludesSelf(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreatePrivateChat(ctx, f.owner.ID, f.f1.Email)
	require.NoError(t, err)
	_, err = f.svc.CreateGroupChat(ctx, f.owner.ID, "crew", []string{f.f1.ID, f.f2.ID})
	require.NoError(t, err)

	list, err := f.svc.ListChats(ctx, f.f1.ID, models.NewPageRequest(1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.TotalCount)
	for _, chat := range list.Items {
		assert.Contains(t, memberIDs(&chat), f.f1.ID)
		assert.Nil(t, chat.Messages)
	}

	empty, err := f.svc.ListChats(ctx, f.other.ID, models.NewPageRequest(1, 10))
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.NotNil(t, empty.Items)
}
