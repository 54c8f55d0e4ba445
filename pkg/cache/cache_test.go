package cache

import (
	"context"
	"testing"

	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDurable struct {
	entries map[models.CacheKey]models.CacheEntry
	gets    int
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{entries: make(map[models.CacheKey]models.CacheEntry)}
}

func (d *fakeDurable) GetCacheEntry(_ context.Context, key models.CacheKey) (models.CacheEntry, error) {
	d.gets++
	entry, ok := d.entries[key]
	if !ok {
		return models.CacheEntry{}, assertNotFound{}
	}
	return entry, nil
}

func (d *fakeDurable) PutCacheEntry(_ context.Context, entry models.CacheEntry) error {
	d.entries[entry.Key] = entry
	return nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

func TestLookupMissThenHitPopulatesHotTier(t *testing.T) {
	durable := newFakeDurable()
	c, err := New(8, durable)
	require.NoError(t, err)

	content := []byte("package foo\n")
	_, hit, err := c.Lookup(context.Background(), content, models.ScopeModule, "")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Store(context.Background(), content, models.ScopeModule, "", "finding", 42))

	entry, hit, err := c.Lookup(context.Background(), content, models.ScopeModule, "")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "finding", entry.FindingPayload)
}

func TestLookupMissesOnChangedContent(t *testing.T) {
	durable := newFakeDurable()
	c, err := New(8, durable)
	require.NoError(t, err)

	original := []byte("func A() {}\n")
	require.NoError(t, c.Store(context.Background(), original, models.ScopeFunction, "A", "stale finding", 10))

	changed := []byte("func A() { return }\n")
	_, hit, err := c.Lookup(context.Background(), changed, models.ScopeFunction, "A")
	require.NoError(t, err)
	assert.False(t, hit, "content changed, so the old key must not be found")
}

func TestInvalidateFileRemovesHotAndDurableEntries(t *testing.T) {
	durable := newFakeDurable()
	c, err := New(8, durable)
	require.NoError(t, err)

	content := []byte("package bar\n")
	require.NoError(t, c.Store(context.Background(), content, models.ScopeModule, "", "finding", 1))

	hash := HashFile(content)
	require.NoError(t, c.InvalidateFile(context.Background(), hash, durable))

	_, hit, err := c.Lookup(context.Background(), content, models.ScopeModule, "")
	require.NoError(t, err)
	assert.False(t, hit)
}

func (d *fakeDurable) DeleteCacheEntriesForFile(_ context.Context, fileSHA256 string) error {
	for k := range d.entries {
		if k.FileSHA256 == fileSHA256 {
			delete(d.entries, k)
		}
	}
	return nil
}
