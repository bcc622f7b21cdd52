package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raglab-search/config"
	"github.com/raglab-search/models"
	"github.com/raglab-search/services"
)

const (
	// CacheKeyPrefix namespaces all query cache keys
	CacheKeyPrefix = "rag_query"

	// DefaultQueryCacheTTL is used when no TTL is configured (5 minutes)
	DefaultQueryCacheTTL = 5 * 60
)

// queryCacheServiceImpl caches query responses in Redis when reachable and
// falls back to an in-memory map otherwise. A disabled cache is a no-op.
type queryCacheServiceImpl struct {
	memCache map[string]cacheEntry
	mu       sync.RWMutex

	redis *redis.Client

	config   *config.RedisConfig
	enabled  bool
	useRedis bool
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewQueryCacheService creates a QueryCacheService. It tries Redis first and
// silently falls back to in-memory caching when the connection fails.
func NewQueryCacheService(cfg *config.RedisConfig) services.QueryCacheService {
	if cfg == nil || !cfg.EnableQueryCache {
		return &queryCacheServiceImpl{enabled: false}
	}

	svc := &queryCacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		config:   cfg,
		enabled:  true,
	}

	if cfg.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err == nil {
			svc.redis = client
			svc.useRedis = true
		}
	}

	return svc
}

// NewQueryCacheServiceWithRedis wires an existing Redis client, for tests.
func NewQueryCacheServiceWithRedis(client *redis.Client, cfg *config.RedisConfig) services.QueryCacheService {
	return &queryCacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		redis:    client,
		config:   cfg,
		enabled:  cfg != nil && cfg.EnableQueryCache,
		useRedis: client != nil,
	}
}

func (s *queryCacheServiceImpl) Get(ctx context.Context, key string) (*models.QueryResponse, bool) {
	if !s.enabled {
		return nil, false
	}

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		data, err := s.redis.Get(ctx, prefixedKey).Bytes()
		if err == nil {
			var resp models.QueryResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				s.redis.Del(ctx, prefixedKey)
				return nil, false
			}
			return &resp, true
		}
		if err != redis.Nil {
			return s.getFromMemCache(prefixedKey)
		}
		return nil, false
	}

	return s.getFromMemCache(prefixedKey)
}

func (s *queryCacheServiceImpl) getFromMemCache(prefixedKey string) (*models.QueryResponse, bool) {
	s.mu.RLock()
	entry, exists := s.memCache[prefixedKey]
	s.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.memCache, prefixedKey)
		s.mu.Unlock()
		return nil, false
	}

	var resp models.QueryResponse
	if err := json.Unmarshal(entry.data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (s *queryCacheServiceImpl) Set(ctx context.Context, key string, resp *models.QueryResponse) error {
	if !s.enabled || resp == nil {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal query response for caching: %w", err)
	}

	ttl := time.Duration(DefaultQueryCacheTTL) * time.Second
	if s.config != nil && s.config.QueryCacheTTL > 0 {
		ttl = time.Duration(s.config.QueryCacheTTL) * time.Second
	}

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		if err := s.redis.Set(ctx, prefixedKey, data, ttl).Err(); err != nil {
			s.setInMemCache(prefixedKey, data, ttl)
		}
		return nil
	}

	s.setInMemCache(prefixedKey, data, ttl)
	return nil
}

func (s *queryCacheServiceImpl) setInMemCache(prefixedKey string, data []byte, ttl time.Duration) {
	s.mu.Lock()
	s.memCache[prefixedKey] = cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
}

// Invalidate drops every cached query response. Called after any write to the
// corpus since stored results may reference deleted or new documents.
func (s *queryCacheServiceImpl) Invalidate(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	if s.useRedis && s.redis != nil {
		pattern := s.prefixKey("*")
		var cursor uint64
		for {
			keys, newCursor, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				break
			}
			if len(keys) > 0 {
				s.redis.Del(ctx, keys...)
			}
			cursor = newCursor
			if cursor == 0 {
				break
			}
		}
	}

	s.mu.Lock()
	s.memCache = make(map[string]cacheEntry)
	s.mu.Unlock()

	return nil
}

// HashRequest produces a deterministic key over every request field that
// affects the response, including the filter tree in sorted-key order.
func (s *queryCacheServiceImpl) HashRequest(req models.QueryRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "q=%s|k=%d|h=%t|r=%t|rc=%d|ms=%.6f",
		req.Query, req.TopK, req.Hybrid(), req.Rerank, req.RerankCandidates, req.MinSimilarity)
	if len(req.Filters) > 0 {
		h.Write(canonicalJSON(req.Filters))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// canonicalJSON serializes a filter tree with sorted object keys so that
// logically identical filters hash identically.
func canonicalJSON(v any) []byte {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			out = append(out, canonicalJSON(val[k])...)
		}
		return append(out, '}')
	case []any:
		out := []byte{'['}
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			out = append(out, canonicalJSON(item)...)
		}
		return append(out, ']')
	default:
		b, _ := json.Marshal(v)
		return b
	}
}

func (s *queryCacheServiceImpl) prefixKey(key string) string {
	return fmt.Sprintf("%s:%s", CacheKeyPrefix, key)
}
