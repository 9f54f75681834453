package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yebrai/dmchat/internal/domain/user"
)

func newCachedRepo(t *testing.T) (*RedisUserRepository, *SQLUserRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	source := NewSQLUserRepository(openTestDB(t), DialectSQLite)
	return NewRedisUserRepository(source, client, time.Minute, discardLogger()), source, mr
}

func TestRedisUserRepositoryCachesByID(t *testing.T) {
	ctx := context.Background()
	repo, source, mr := newCachedRepo(t)
	alice := createUser(t, repo, "alice")

	assert.True(t, mr.Exists(cacheKeyID(alice.ID)))
	idStr, err := mr.Get(cacheKeyUsername("alice"))
	require.NoError(t, err)
	assert.Equal(t, "1", idStr)

	// A write that bypasses the decorator is invisible until the entry is invalidated.
	require.NoError(t, source.UpdateProfile(ctx, alice.ID, "changed", "/x.png"))
	got, err := repo.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Bio)
	assert.Equal(t, "hash-alice", got.PasswordHash, "cache keeps the hash for authentication")

	require.NoError(t, repo.SetStatus(ctx, alice.ID, user.StatusOnline, time.Now()))
	assert.False(t, mr.Exists(cacheKeyID(alice.ID)))

	got, err = repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Bio)
	assert.Equal(t, user.StatusOnline, got.Status)
	assert.True(t, mr.Exists(cacheKeyID(alice.ID)))
}

func TestRedisUserRepositoryFallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	repo, _, mr := newCachedRepo(t)
	alice := createUser(t, repo, "alice")

	mr.Close()

	got, err := repo.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = repo.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, user.ErrUserNotFound)
}

func TestRedisUserRepositoryUpdateProfileInvalidates(t *testing.T) {
	ctx := context.Background()
	repo, _, mr := newCachedRepo(t)
	alice := createUser(t, repo, "alice")

	require.NoError(t, repo.UpdateProfile(ctx, alice.ID, "bio", "/a.png"))
	assert.False(t, mr.Exists(cacheKeyID(alice.ID)))

	got, err := repo.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "bio", got.Bio)

	others, err := repo.ListOthers(ctx, 999)
	require.NoError(t, err)
	assert.Len(t, others, 1)
}
