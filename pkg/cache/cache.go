// Package cache implements the content-addressed finding cache: an
// in-memory LRU hot tier in front of the store's durable cache_entries
// table. The content hash is embedded in the cache key so a Lookup can
// never return a stale finding for changed content — there is nothing
// to "revalidate," a key for the old content simply isn't looked up.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cascade-analysis/cascade/pkg/models"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Durable is the subset of pkg/store.Store the cache needs for its
// durable tier.
type Durable interface {
	GetCacheEntry(ctx context.Context, key models.CacheKey) (models.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry models.CacheEntry) error
}

// Cache is the two-tier content-addressed cache described in the data
// model: Lookup checks the hot tier first and falls through to the
// durable tier on a miss, populating the hot tier on the way back.
type Cache struct {
	hot         *lru.Cache[models.CacheKey, models.CacheEntry]
	hotCapacity int
	durable     Durable
}

// New builds a Cache with a hot tier sized hotTierSize, backed by
// durable. A zero or negative hotTierSize is raised to 1, giving a
// single-entry hot tier.
func New(hotTierSize int, durable Durable) (*Cache, error) {
	if hotTierSize <= 0 {
		hotTierSize = 1
	}
	hot, err := lru.New[models.CacheKey, models.CacheEntry](hotTierSize)
	if err != nil {
		return nil, fmt.Errorf("cache: build hot tier: %w", err)
	}
	return &Cache{hot: hot, hotCapacity: hotTierSize, durable: durable}, nil
}

// Stats reports the hot tier's current occupancy, used by HealthProbe
// as a trivial liveness check on the cache (it never touches durable
// storage, which is probed separately via the Store check).
func (c *Cache) Stats() (hotEntries int, hotCapacity int) {
	return c.hot.Len(), c.hotCapacity
}

// HashFile returns the hex sha256 digest used as a cache key's content
// identity.
func HashFile(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Lookup looks for a cached finding for the exact content, scope, and
// qualifier given. The boolean result is false on any miss, whether the
// key was never written or the content has since changed.
func (c *Cache) Lookup(ctx context.Context, fileContent []byte, scope models.Scope, qualifier string) (models.CacheEntry, bool, error) {
	key := models.CacheKey{
		FileSHA256:      HashFile(fileContent),
		Scope:           scope,
		TargetQualifier: qualifier,
	}

	if entry, ok := c.hot.Get(key); ok {
		return entry, true, nil
	}

	entry, err := c.durable.GetCacheEntry(ctx, key)
	if err != nil {
		return models.CacheEntry{}, false, nil
	}

	c.hot.Add(key, entry)
	return entry, true, nil
}

// Store writes a finding through both tiers, keyed by the content hash
// of fileContent.
func (c *Cache) Store(ctx context.Context, fileContent []byte, scope models.Scope, qualifier, payload string, tokensUsed int) error {
	key := models.CacheKey{
		FileSHA256:      HashFile(fileContent),
		Scope:           scope,
		TargetQualifier: qualifier,
	}
	entry := models.CacheEntry{
		Key:            key,
		FindingPayload: payload,
		TokensUsed:     tokensUsed,
		AccessCount:    1,
	}

	if err := c.durable.PutCacheEntry(ctx, entry); err != nil {
		return fmt.Errorf("cache: write durable tier: %w", err)
	}
	c.hot.Add(key, entry)
	return nil
}

// InvalidateFile evicts every hot-tier entry for a content hash and
// asks the durable tier to drop its rows too, used by the incremental
// selector when it learns a file was deleted from the repository.
func (c *Cache) InvalidateFile(ctx context.Context, fileSHA256 string, deleter FileDeleter) error {
	for _, key := range c.hot.Keys() {
		if key.FileSHA256 == fileSHA256 {
			c.hot.Remove(key)
		}
	}
	return deleter.DeleteCacheEntriesForFile(ctx, fileSHA256)
}

// FileDeleter is the durable-tier operation InvalidateFile delegates
// to; pkg/store.Store satisfies it.
type FileDeleter interface {
	DeleteCacheEntriesForFile(ctx context.Context, fileSHA256 string) error
}
