// internal/services/search_cache.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/javajoker/pha-gateway/internal/models"
)

// SearchCache keeps the last good product search result per query.
type SearchCache interface {
	Get(ctx context.Context, key string) (*models.ProductSearchResult, bool, error)
	Set(ctx context.Context, key string, result *models.ProductSearchResult, ttl time.Duration) error
}

func searchCacheKey(query string, searchType models.SearchType) string {
	return fmt.Sprintf("pha:product-search:%s:%s", searchType, strings.ToLower(strings.TrimSpace(query)))
}

type RedisSearchCache struct {
	client *redis.Client
}

func NewRedisSearchCache(client *redis.Client) *RedisSearchCache {
	return &RedisSearchCache{client: client}
}

func (c *RedisSearchCache) Get(ctx context.Context, key string) (*models.ProductSearchResult, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get from cache: %w", err)
	}

	var result models.ProductSearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached search: %w", err)
	}
	return &result, true, nil
}

func (c *RedisSearchCache) Set(ctx context.Context, key string, result *models.ProductSearchResult, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in cache: %w", err)
	}
	return nil
}

type memoryEntry struct {
	result    models.ProductSearchResult
	expiresAt time.Time
}

// MemorySearchCache is used when Redis is not configured.
type MemorySearchCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemorySearchCache() *MemorySearchCache {
	return &MemorySearchCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemorySearchCache) Get(_ context.Context, key string) (*models.ProductSearchResult, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}

	return cloneSearchResult(&entry.result), true, nil
}

func (c *MemorySearchCache) Set(_ context.Context, key string, result *models.ProductSearchResult, ttl time.Duration) error {
	entry := memoryEntry{result: *cloneSearchResult(result)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func cloneSearchResult(in *models.ProductSearchResult) *models.ProductSearchResult {
	out := *in
	out.FDAProducts = append([]models.SimilarProduct{}, in.FDAProducts...)
	out.AIProducts = append([]models.SimilarProduct{}, in.AIProducts...)
	return &out
}
