package service

import (
	"context"
	"testing"

	"intouch/internal/models"
	"intouch/internal/repository"
	"intouch/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type relationFixture struct {
	db  *gorm.DB
	svc *RelationshipService
	rel repository.RelationRepository
}

func newRelationFixture(t *testing.T) relationFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	rel := repository.NewRelationRepository(db)
	return relationFixture{
		db:  db,
		svc: NewRelationshipService(rel, repository.NewUserRepository(db), "https://cdn.example.com/"),
		rel: rel,
	}
}

func (f relationFixture) edge(t *testing.T, from, to string) *models.Relation {
	t.Helper()
	rel, err := f.rel.Get(context.Background(), from, to)
	require.NoError(t, err)
	return rel
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, models.HasCode(err, code), "expected %s, got %v", code, err)
}

func TestRelationshipService_InviteRules(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, f.db, "Alan", "Turing")

	assertCode(t, f.svc.Invite(ctx, a.ID, a.ID), models.CodeValidation)
	assertCode(t, f.svc.Invite(ctx, a.ID, "missing"), models.CodeNotFound)

	require.NoError(t, f.svc.Invite(ctx, a.ID, b.ID))
	rel := f.edge(t, a.ID, b.ID)
	require.NotNil(t, rel)
	assert.Equal(t, models.RelationInvited, rel.Type)

	assertCode(t, f.svc.Invite(ctx, a.ID, b.ID), models.CodeConflict)
	assertCode(t, f.svc.Invite(ctx, b.ID, a.ID), models.CodeConflict)
	assert.Nil(t, f.edge(t, b.ID, a.ID))
}

func TestRelationshipService_InviteRejectedWhenBlockedOrFriends(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, f.db, "Alan", "Turing")
	c := testutil.CreateUser(t, f.db, "Grace", "Hopper")

	require.NoError(t, f.svc.BlockUser(ctx, a.ID, b.ID))
	assertCode(t, f.svc.Invite(ctx, a.ID, b.ID), models.CodeConflict)
	assertCode(t, f.svc.Invite(ctx, b.ID, a.ID), models.CodeConflict)

	testutil.MakeFriends(t, f.db, a.ID, c.ID)
	assertCode(t, f.svc.Invite(ctx, a.ID, c.ID), models.CodeConflict)
}

func TestRelationshipService_AcceptCreatesMirroredFriendship(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, f.db, "Alan", "Turing")

	assertCode(t, f.svc.AcceptInvite(ctx, b.ID, a.ID), models.CodeNotFound)

	require.NoError(t, f.svc.Invite(ctx, a.ID, b.ID))
	require.NoError(t, f.svc.AcceptInvite(ctx, b.ID, a.ID))

	assert.Equal(t, models.RelationFriend, f.edge(t, a.ID, b.ID).Type)
	assert.Equal(t, models.RelationFriend, f.edge(t, b.ID, a.ID).Type)

	assertCode(t, f.svc.AcceptInvite(ctx, b.ID, a.ID), models.CodeNotFound)
}

func TestRelationshipService_RejectAndCancel(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, f.db, "Alan", "Turing")

	require.NoError(t, f.svc.Invite(ctx, a.ID, b.ID))
	assertCode(t, f.svc.CancelInvite(ctx, b.ID, a.ID), models.CodeNotFound)
	require.NoError(t, f.svc.RejectInvite(ctx, b.ID, a.ID))
	assert.Nil(t, f.edge(t, a.ID, b.ID))
	assertCode(t, f.svc.RejectInvite(ctx, b.ID, a.ID), models.CodeNotFound)

	require.NoError(t, f.svc.Invite(ctx, a.ID, b.ID))
	require.NoError(t, f.svc.CancelInvite(ctx, a.ID, b.ID))
	assert.Nil(t, f.edge(t, a.ID, b.ID))
	assertCode(t, f.svc.CancelInvite(ctx, a.ID, b.ID), models.CodeNotFound)
}

func TestRelationshipService_BlockIsIdempotentAndDropsReverse(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, f.db, "Alan", "Turing")
	testutil.MakeFriends(t, f.db, a.ID, b.ID)

	assertCode(t, f.svc.BlockUser(ctx, a.ID, a.ID), models.CodeValidation)
	assertCode(t, f.svc.BlockUser(ctx, a.ID, "missing"), models.CodeNotFound)

	require.NoError(t, f.svc.BlockUser(ctx, a.ID, b.ID))
	require.NoError(t, f.svc.BlockUser(ctx, a.ID, b.ID))
	assert.Equal(t, models.RelationBlocked, f.edge(t, a.ID, b.ID).Type)
	assert.Nil(t, f.edge(t, b.ID, a.ID))

	// A counter-block keeps both edges.
	require.NoError(t, f.svc.BlockUser(ctx, b.ID, a.ID))
	assert.Equal(t, models.RelationBlocked, f.edge(t, a.ID, b.ID).Type)
	assert.Equal(t, models.RelationBlocked, f.edge(t, b.ID, a.ID).Type)
}

func TestRelationshipService_Unblock(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, f.db, "Alan", "Turing")
	c := testutil.CreateUser(t, f.db, "Grace", "Hopper")

	assertCode(t, f.svc.UnblockUser(ctx, a.ID, b.ID), models.CodeNotFound)

	require.NoError(t, f.svc.Invite(ctx, a.ID, c.ID))
	assertCode(t, f.svc.UnblockUser(ctx, a.ID, c.ID), models.CodeConflict)

	require.NoError(t, f.svc.BlockUser(ctx, a.ID, b.ID))
	require.NoError(t, f.svc.UnblockUser(ctx, a.ID, b.ID))
	assert.Nil(t, f.edge(t, a.ID, b.ID))
}

func TestRelationshipService_RemoveFriend(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, f.db, "Alan", "Turing")

	assertCode(t, f.svc.RemoveFriend(ctx, a.ID, b.ID), models.CodeNotFound)

	testutil.MakeFriends(t, f.db, a.ID, b.ID)
	require.NoError(t, f.svc.RemoveFriend(ctx, b.ID, a.ID))
	assert.Nil(t, f.edge(t, a.ID, b.ID))
	assert.Nil(t, f.edge(t, b.ID, a.ID))
}

func TestRelationshipService_Listing(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	me := testutil.CreateUser(t, f.db, "Me", "Myself")
	friend := testutil.CreateUser(t, f.db, "Ada", "Lovelace")
	inviter := testutil.CreateUser(t, f.db, "Alan", "Turing")
	testutil.MakeFriends(t, f.db, me.ID, friend.ID)
	_, err := repository.NewUserRepository(f.db).SetAvatar(ctx, friend.ID, "avatars/ada.webp")
	require.NoError(t, err)
	require.NoError(t, f.svc.Invite(ctx, inviter.ID, me.ID))

	friends, err := f.svc.ListRelations(ctx, me.ID, models.RelationFriend, models.NewPageRequest(1, 50))
	require.NoError(t, err)
	assert.Equal(t, int64(1), friends.TotalCount)
	assert.Equal(t, models.MaxPageSize, friends.PageSize)
	require.Len(t, friends.Items, 1)
	assert.Equal(t, "https://cdn.example.com/avatars/ada.webp", friends.Items[0].AvatarSource)

	pending, err := f.svc.ListPendingInvites(ctx, me.ID, models.NewPageRequest(1, 10))
	require.NoError(t, err)
	require.Len(t, pending.Items, 1)
	assert.Equal(t, inviter.ID, pending.Items[0].ID)

	sent, err := f.svc.ListRelations(ctx, inviter.ID, models.RelationInvited, models.NewPageRequest(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, sent.CurrentPage)
	assert.Equal(t, models.DefaultPageSize, sent.PageSize)
	require.Len(t, sent.Items, 1)
	assert.Equal(t, me.ID, sent.Items[0].ID)

	_, err = f.svc.ListRelations(ctx, me.ID, models.RelationType("ENEMY"), models.NewPageRequest(1, 10))
	assertCode(t, err, models.CodeValidation)
}

type failingRelationRepo struct {
	repository.RelationRepository
	err error
}

func (r failingRelationRepo) Transaction(context.Context, func(repository.RelationRepository) error) error {
	return r.err
}

func TestRelationshipService_StorageFailureSurfacesUnavailable(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateUser(t, db, "Ada", "Lovelace")
	b := testutil.CreateUser(t, db, "Alan", "Turing")
	svc := NewRelationshipService(
		failingRelationRepo{err: models.NewUnavailableError(assert.AnError)},
		repository.NewUserRepository(db), "")

	assertCode(t, svc.Invite(context.Background(), a.ID, b.ID), models.CodeUnavailable)
}
