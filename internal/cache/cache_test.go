package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func useMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { SetClient(nil) })
	return mr
}

func TestAsideFetchesOnceThenServesFromRedis(t *testing.T) {
	mr := useMiniredis(t)
	ctx := context.Background()
	calls := 0
	fetch := func(dest *profile) func() error {
		return func() error {
			calls++
			*dest = profile{ID: "u1", Name: "Ada"}
			return nil
		}
	}

	var first profile
	require.NoError(t, Aside(ctx, UserProfileKey("u1"), &first, UserProfileTTL, fetch(&first)))
	var second profile
	require.NoError(t, Aside(ctx, UserProfileKey("u1"), &second, UserProfileTTL, fetch(&second)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, "Ada", second.Name)
	assert.True(t, mr.Exists("user:profile:u1"))

	InvalidateUser(ctx, "u1")
	assert.False(t, mr.Exists("user:profile:u1"))
}

func TestAsidePropagatesFetchError(t *testing.T) {
	useMiniredis(t)
	var dest profile
	err := Aside(context.Background(), "k", &dest, UserProfileTTL, func() error { return errors.New("db down") })
	assert.EqualError(t, err, "db down")
}

func TestAsideWithoutClient(t *testing.T) {
	SetClient(nil)
	var dest profile
	err := Aside(context.Background(), "k", &dest, UserProfileTTL, func() error {
		dest.ID = "x"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "x", dest.ID)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := Connect(ctx, mr.Addr())
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "k", "v", 0).Err())
	_ = c.Close()

	c, err = Connect(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = c.Close()

	_, err = Connect(ctx, "redis://%zz")
	assert.ErrorContains(t, err, "invalid REDIS_URL")

	addr := mr.Addr()
	mr.Close()
	_, err = Connect(ctx, addr)
	assert.Error(t, err)
}
