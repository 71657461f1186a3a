package seed

import (
	"testing"

	"intouch/internal/models"
	"intouch/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeeder_ApplyMinimalPreset(t *testing.T) {
	db := testutil.NewTestDB(t)
	s := NewSeeder(db, Options{SkipBcrypt: true, RandSeed: 7})

	stats, err := s.ApplyPreset("minimal")
	require.NoError(t, err)

	var users, relations, chats, members, messages int64
	db.Model(&models.User{}).Count(&users)
	db.Model(&models.Relation{}).Count(&relations)
	db.Model(&models.Chat{}).Count(&chats)
	db.Model(&models.ChatUser{}).Count(&members)
	db.Model(&models.Message{}).Count(&messages)

	assert.Equal(t, int64(stats.Users), users)
	assert.Equal(t, int64(2*stats.Friendships+stats.Invites+stats.Blocks), relations)
	assert.Equal(t, int64(stats.Chats), chats)
	assert.Equal(t, int64(stats.Messages), messages)
	assert.Equal(t, 8*2, stats.Friendships)
	assert.Equal(t, 3+1, stats.Chats)
	assert.Equal(t, int64(3*2+4), members)
}

func TestSeeder_FriendshipsAreSymmetric(t *testing.T) {
	db := testutil.NewTestDB(t)
	_, err := NewSeeder(db, Options{SkipBcrypt: true, RandSeed: 3}).ApplyPreset("minimal")
	require.NoError(t, err)

	var friends []models.Relation
	require.NoError(t, db.Where("type = ?", models.RelationFriend).Find(&friends).Error)
	seen := make(map[[2]string]bool, len(friends))
	for _, r := range friends {
		seen[[2]string{r.RequestedByUser, r.RequestedToUser}] = true
	}
	for _, r := range friends {
		assert.True(t, seen[[2]string{r.RequestedToUser, r.RequestedByUser}], "missing reverse edge")
	}

	// No pair carries more than one relation per direction.
	var dup int64
	db.Raw(`SELECT COUNT(*) FROM (SELECT requested_by_user, requested_to_user FROM relations
		GROUP BY requested_by_user, requested_to_user HAVING COUNT(*) > 1)`).Scan(&dup)
	assert.Zero(t, dup)
}

func TestSeeder_PrivateChatMembersAreFriends(t *testing.T) {
	db := testutil.NewTestDB(t)
	_, err := NewSeeder(db, Options{SkipBcrypt: true, RandSeed: 5}).ApplyPreset("minimal")
	require.NoError(t, err)

	var chats []models.Chat
	require.NoError(t, db.Where("type = ?", models.ChatPrivate).Find(&chats).Error)
	require.NotEmpty(t, chats)
	for _, c := range chats {
		var ids []string
		require.NoError(t, db.Model(&models.ChatUser{}).Where("chat_id = ?", c.ID).Pluck("user_id", &ids).Error)
		require.Len(t, ids, 2)
		var n int64
		db.Model(&models.Relation{}).
			Where("requested_by_user = ? AND requested_to_user = ? AND type = ?", ids[0], ids[1], models.RelationFriend).
			Count(&n)
		assert.Equal(t, int64(1), n)
	}
}

func TestSeeder_ClearAll(t *testing.T) {
	db := testutil.NewTestDB(t)
	s := NewSeeder(db, Options{SkipBcrypt: true, RandSeed: 1})
	_, err := s.ApplyPreset("minimal")
	require.NoError(t, err)

	require.NoError(t, s.ClearAll())

	var users, messages int64
	db.Model(&models.User{}).Count(&users)
	db.Model(&models.Message{}).Count(&messages)
	assert.Zero(t, users)
	assert.Zero(t, messages)
}

func TestSeeder_UnknownPreset(t *testing.T) {
	_, err := NewSeeder(nil, Options{DryRun: true}).ApplyPreset("huge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimal")
}

func TestSeeder_DryRunWritesNothing(t *testing.T) {
	stats, err := NewSeeder(nil, Options{DryRun: true, RandSeed: 2}).ApplyPreset("demo")
	require.NoError(t, err)
	assert.Equal(t, 50, stats.Users)
	assert.Equal(t, 40+10, stats.Chats)
	assert.Equal(t, 50*30, stats.Messages)
}

func TestFactory_BuildMessagesAreOrdered(t *testing.T) {
	f := NewFactory(nil, Options{DryRun: true, RandSeed: 9})
	chat, err := f.CreateChat(models.ChatPrivate, "", nil, []string{"a", "b"})
	require.NoError(t, err)

	msgs := f.BuildMessages(chat, []string{"a", "b"}, 20)
	require.Len(t, msgs, 20)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].SentAt.Before(msgs[i-1].SentAt))
		assert.False(t, msgs[i].SentAt.Before(chat.CreatedAt))
	}
}

func TestFactory_BuildUserOverrides(t *testing.T) {
	f := NewFactory(nil, Options{DryRun: true, SkipBcrypt: true, RandSeed: 4})
	u := f.BuildUser(func(u *models.User) { u.Email = "fixed@example.com" })
	assert.Equal(t, "fixed@example.com", u.Email)
	assert.Equal(t, DefaultPassword, u.Password)
	assert.NotEqual(t, f.BuildUser().Email, f.BuildUser().Email)
}
