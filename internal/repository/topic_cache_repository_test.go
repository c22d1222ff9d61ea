package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-chat-go/internal/model"
)

func TestMemoryTopicCacheOverwritesAndExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryTopicCacheRepository(time.Hour)
	cache.now = func() time.Time { return now }

	_, ok, err := cache.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "c1", model.TopicCacheEntry{Tables: []string{"orders", "customers"}}))
	require.NoError(t, cache.Set(ctx, "c1", model.TopicCacheEntry{Tables: []string{"products"}}))

	entry, ok, err := cache.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"products"}, entry.Tables)

	now = now.Add(time.Hour)
	_, ok, err = cache.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryTopicCacheStoresCopies(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryTopicCacheRepository(0)
	tables := []string{"orders"}
	require.NoError(t, cache.Set(ctx, "c1", model.TopicCacheEntry{Tables: tables}))
	tables[0] = "mutated"

	entry, ok, err := cache.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"orders"}, entry.Tables)
}
