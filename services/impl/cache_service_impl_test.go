package impl

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab-search/config"
	"github.com/raglab-search/models"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *config.RedisConfig) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, &config.RedisConfig{
		Host:             mr.Host(),
		QueryCacheTTL:    60,
		EnableQueryCache: true,
	}
}

func TestQueryCacheRoundTrip(t *testing.T) {
	mr, cfg := newTestCache(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewQueryCacheServiceWithRedis(client, cfg)
	ctx := context.Background()

	req := models.QueryRequest{Query: "pension reform", TopK: 5}
	key := cache.HashRequest(req)

	_, hit := cache.Get(ctx, key)
	assert.False(t, hit)

	resp := &models.QueryResponse{Query: "pension reform", Total: 1, Results: []models.QueryResultItem{
		{ChunkText: "reform details", Similarity: 0.92, Filename: "policy.pdf"},
	}}
	require.NoError(t, cache.Set(ctx, key, resp))

	got, hit := cache.Get(ctx, key)
	require.True(t, hit)
	assert.Equal(t, resp.Query, got.Query)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "policy.pdf", got.Results[0].Filename)
}

func TestQueryCacheInvalidate(t *testing.T) {
	mr, cfg := newTestCache(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewQueryCacheServiceWithRedis(client, cfg)
	ctx := context.Background()

	key := cache.HashRequest(models.QueryRequest{Query: "anything"})
	require.NoError(t, cache.Set(ctx, key, &models.QueryResponse{Query: "anything"}))

	require.NoError(t, cache.Invalidate(ctx))

	_, hit := cache.Get(ctx, key)
	assert.False(t, hit)
}

func TestQueryCacheDisabled(t *testing.T) {
	cache := NewQueryCacheService(nil)
	ctx := context.Background()

	key := cache.HashRequest(models.QueryRequest{Query: "anything"})
	require.NoError(t, cache.Set(ctx, key, &models.QueryResponse{Query: "anything"}))

	_, hit := cache.Get(ctx, key)
	assert.False(t, hit)
}

func TestHashRequest(t *testing.T) {
	cache := NewQueryCacheService(nil)

	t.Run("deterministic", func(t *testing.T) {
		req := models.QueryRequest{Query: "q", TopK: 10, Rerank: true}
		assert.Equal(t, cache.HashRequest(req), cache.HashRequest(req))
	})

	t.Run("filter key order does not matter", func(t *testing.T) {
		a := models.QueryRequest{Query: "q", Filters: map[string]any{
			"uploaded_by": "alice",
			"file_type":   ".pdf",
		}}
		b := models.QueryRequest{Query: "q", Filters: map[string]any{
			"file_type":   ".pdf",
			"uploaded_by": "alice",
		}}
		assert.Equal(t, cache.HashRequest(a), cache.HashRequest(b))
	})

	t.Run("parameters change the key", func(t *testing.T) {
		base := models.QueryRequest{Query: "q", TopK: 10}
		hybridOff := false
		variants := []models.QueryRequest{
			{Query: "other", TopK: 10},
			{Query: "q", TopK: 20},
			{Query: "q", TopK: 10, Rerank: true},
			{Query: "q", TopK: 10, UseHybrid: &hybridOff},
			{Query: "q", TopK: 10, MinSimilarity: 0.5},
			{Query: "q", TopK: 10, Filters: map[string]any{"uploaded_by": "alice"}},
		}
		for _, v := range variants {
			assert.NotEqual(t, cache.HashRequest(base), cache.HashRequest(v))
		}
	})
}
