package turnstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, opts...), mr
}

func TestRedisStoreAppendAndList(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "conv-1", sampleTurn("t1", "first")))
	require.NoError(t, store.Append(ctx, "conv-1", sampleTurn("t2", "second")))

	turns, err := store.List(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "t1", turns[0].ID)
	assert.Equal(t, "t2", turns[1].ID)
	assert.Equal(t, "second", turns[1].Text)
}

func TestRedisStoreCount(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "conv-1", sampleTurn("t1", "x")))

	count, err := store.Count(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.Count(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "conv-1", sampleTurn("t1", "x")))
	require.NoError(t, store.Delete(ctx, "conv-1"))

	_, err := store.List(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "conv-1"), ErrNotFound)
}

func TestRedisStoreNotFound(t *testing.T) {
	store, _ := newTestRedisStore(t)

	_, err := store.List(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreInvalidID(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Append(ctx, "", Turn{}), ErrInvalidID)
	_, err := store.List(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.ErrorIs(t, store.Delete(ctx, ""), ErrInvalidID)
}

func TestRedisStoreSetsTTL(t *testing.T) {
	store, mr := newTestRedisStore(t, WithTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "conv-1", sampleTurn("t1", "x")))

	ttl := mr.TTL("voicewire:conversation:conv-1:turns")
	assert.Equal(t, time.Hour, ttl)
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "conv-1", sampleTurn("t1", "x")))

	mr.FastForward(2 * time.Minute)

	_, err := store.List(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreCustomPrefix(t *testing.T) {
	store, mr := newTestRedisStore(t, WithPrefix("custom"))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "conv-1", sampleTurn("t1", "x")))

	assert.True(t, mr.Exists("custom:conversation:conv-1:turns"))
	assert.False(t, mr.Exists("voicewire:conversation:conv-1:turns"))
}

func TestRedisStorePreservesTurnFields(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	in := Turn{
		ID:             "t1",
		ConversationID: "conv-1",
		Prompt:         "hello",
		Text:           "hi there",
		AudioRef:       "file:///tmp/audio.wav",
		Reason:         "remote_closed",
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Append(ctx, "conv-1", in))

	turns, err := store.List(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, in, turns[0])
}
