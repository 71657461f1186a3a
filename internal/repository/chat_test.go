package repository

import (
	"context"
	"testing"
	"time"

	"intouch/internal/models"
	"intouch/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRepository_FindPrivateChat(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()
	a := testutil.CreateUser(t, db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, db, "Alan", "Turing")
	c := testutil.CreateUser(t, db, "Grace", "Hopper")

	group := &models.Chat{Name: "trio", Type: models.ChatGroup, CreatorID: &a.ID}
	require.NoError(t, repo.CreateChat(ctx, group, []string{a.ID, b.ID, c.ID}))

	none, err := repo.FindPrivateChat(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Nil(t, none, "a shared group chat is not a private chat")

	private := &models.Chat{Type: models.ChatPrivate}
	require.NoError(t, repo.CreateChat(ctx, private, []string{a.ID, b.ID}))

	found, err := repo.FindPrivateChat(ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, private.ID, found.ID)
}

func TestChatRepository_MembershipMutations(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()
	a := testutil.CreateUser(t, db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, db, "Alan", "Turing")
	c := testutil.CreateUser(t, db, "Grace", "Hopper")
	d := testutil.CreateUser(t, db, "Edsger", "Dijkstra")

	chat := &models.Chat{Name: "g", Type: models.ChatGroup, CreatorID: &a.ID}
	require.NoError(t, repo.CreateChat(ctx, chat, []string{a.ID, b.ID, c.ID}))

	err := repo.AddMembers(ctx, chat.ID, []string{b.ID})
	assert.True(t, models.HasCode(err, models.CodeConflict))

	require.NoError(t, repo.AddMembers(ctx, chat.ID, []string{d.ID}))
	ok, err := repo.IsMember(ctx, chat.ID, d.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := repo.RemoveMember(ctx, chat.ID, c.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	require.NoError(t, repo.RemoveMembersExcept(ctx, chat.ID, a.ID))
	ids, err := repo.ListMemberIDs(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids)
}

func TestChatRepository_ListForUserOrdersByActivity(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()
	a := testutil.CreateUser(t, db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, db, "Alan", "Turing")
	c := testutil.CreateUser(t, db, "Grace", "Hopper")

	older := &models.Chat{Type: models.ChatPrivate, CreatedAt: time.Now().UTC().Add(-2 * time.Hour)}
	require.NoError(t, repo.CreateChat(ctx, older, []string{a.ID, b.ID}))
	newer := &models.Chat{Type: models.ChatPrivate, CreatedAt: time.Now().UTC().Add(-time.Hour)}
	require.NoError(t, repo.CreateChat(ctx, newer, []string{a.ID, c.ID}))

	chats, total, err := repo.ListForUser(ctx, a.ID, models.NewPageRequest(1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, chats, 2)
	assert.Equal(t, newer.ID, chats[0].ID)

	require.NoError(t, repo.CreateMessage(ctx, &models.Message{ChatID: older.ID, SenderID: &b.ID, Content: "ping", Type: models.MessageText, SentAt: time.Now().UTC()}))
	chats, _, err = repo.ListForUser(ctx, a.ID, models.NewPageRequest(1, 10))
	require.NoError(t, err)
	assert.Equal(t, older.ID, chats[0].ID)

	members, err := repo.ListMembers(ctx, []string{older.ID, newer.ID})
	require.NoError(t, err)
	assert.Len(t, members[older.ID], 2)
	assert.Len(t, members[newer.ID], 2)
}

func TestChatRepository_Messages(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()
	a := testutil.CreateUser(t, db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, db, "Alan", "Turing")
	chat := &models.Chat{Type: models.ChatPrivate}
	require.NoError(t, repo.CreateChat(ctx, chat, []string{a.ID, b.ID}))

	base := time.Now().UTC().Add(-time.Minute)
	for i, content := range []string{"one", "two", "three"} {
		require.NoError(t, repo.CreateMessage(ctx, &models.Message{
			ChatID: chat.ID, SenderID: &a.ID, Content: content, Type: models.MessageText,
			SentAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.CreateMessage(ctx, &models.Message{ChatID: chat.ID, Content: "notice", Type: models.MessageSystem, SentAt: base.Add(10 * time.Second)}))

	recent, err := repo.ListRecentMessages(ctx, chat.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Content)
	assert.Equal(t, "notice", recent[1].Content)
	require.NotNil(t, recent[0].Sender)
	assert.Equal(t, "Ada", recent[0].Sender.FirstName)
	assert.Nil(t, recent[1].Sender)

	page, total, err := repo.ListMessages(ctx, chat.ID, models.NewPageRequest(2, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Content)
}
