package repository

import (
	"context"
	"testing"
	"time"

	"carebook/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDedupStore(t *testing.T) {
	store := NewMemoryDedupStore()
	ctx := context.Background()

	seen, err := store.SeenEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)

	// Checking never records: the key stays unseen until marked.
	seen, err = store.SeenEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkEvent(ctx, "ev-1", time.Minute))

	seen, err = store.SeenEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.SeenEvent(ctx, "ev-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryDedupStore_Expiry(t *testing.T) {
	store := NewMemoryDedupStore()
	ctx := context.Background()

	require.NoError(t, store.MarkEvent(ctx, "ev-1", 10*time.Millisecond))

	time.Sleep(20 * time.Millisecond)

	seen, err := store.SeenEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen, "expired key counts as unseen")
}

func TestRedisDedupStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisDedupStore(client)
	ctx := context.Background()

	seen, err := store.SeenEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkEvent(ctx, "ev-1", time.Minute))

	seen, err = store.SeenEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, seen)

	// TTL expiry frees the key.
	mr.FastForward(2 * time.Minute)
	seen, err = store.SeenEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestFailoverDedupStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	logger := zerolog.Nop()
	primary := NewRedisDedupStore(client)
	fallback := NewMemoryDedupStore()
	var store domain.DedupStore = NewFailoverDedupStore(primary, fallback, &logger)
	ctx := context.Background()

	require.NoError(t, store.MarkEvent(ctx, "ev-1", time.Minute))
	seen, err := store.SeenEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Primary outage: the store degrades to memory without erroring.
	mr.Close()

	seen, err = store.SeenEvent(ctx, "ev-2")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkEvent(ctx, "ev-2", time.Minute))

	seen, err = store.SeenEvent(ctx, "ev-2")
	require.NoError(t, err)
	assert.True(t, seen, "fallback still dedups")
}
