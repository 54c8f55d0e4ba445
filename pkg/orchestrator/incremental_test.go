package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-analysis/cascade/pkg/cache"
	"github.com/cascade-analysis/cascade/pkg/incremental"
	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/cascade-analysis/cascade/pkg/vcs"
)

// fakeDurable is an in-memory cache.Durable plus cache.FileDeleter,
// enough to exercise invalidateDeleted without a real store.
type fakeDurable struct {
	entries map[models.CacheKey]models.CacheEntry
	deleted []string
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{entries: map[models.CacheKey]models.CacheEntry{}}
}

func (d *fakeDurable) GetCacheEntry(ctx context.Context, key models.CacheKey) (models.CacheEntry, error) {
	e, ok := d.entries[key]
	if !ok {
		return models.CacheEntry{}, assert.AnError
	}
	return e, nil
}

func (d *fakeDurable) PutCacheEntry(ctx context.Context, entry models.CacheEntry) error {
	d.entries[entry.Key] = entry
	return nil
}

func (d *fakeDurable) DeleteCacheEntriesForFile(ctx context.Context, fileSHA256 string) error {
	d.deleted = append(d.deleted, fileSHA256)
	for k := range d.entries {
		if k.FileSHA256 == fileSHA256 {
			delete(d.entries, k)
		}
	}
	return nil
}

// durableStoreAdapter satisfies the orchestrator's full Store interface
// by embedding it as nil and overriding only DeleteCacheEntriesForFile,
// the single method invalidateDeleted actually calls.
type durableStoreAdapter struct {
	Store
	durable *fakeDurable
}

func (d durableStoreAdapter) DeleteCacheEntriesForFile(ctx context.Context, fileSHA256 string) error {
	return d.durable.DeleteCacheEntriesForFile(ctx, fileSHA256)
}

type fakeVCSForInvalidate struct {
	content map[string][]byte
}

func (f *fakeVCSForInvalidate) IsRepo(ctx context.Context, path string) (bool, error) { return true, nil }
func (f *fakeVCSForInvalidate) CurrentCommit(ctx context.Context, path string) (string, error) {
	return "deadbeef", nil
}
func (f *fakeVCSForInvalidate) CurrentBranch(ctx context.Context, path string) (string, error) {
	return "main", nil
}
func (f *fakeVCSForInvalidate) ChangedFiles(ctx context.Context, path, baseRef string) (vcs.ChangeSet, error) {
	return vcs.ChangeSet{}, nil
}
func (f *fakeVCSForInvalidate) FileContentAtRef(ctx context.Context, path, ref, relPath string) ([]byte, error) {
	c, ok := f.content[relPath]
	if !ok {
		return nil, assert.AnError
	}
	return c, nil
}

func TestInvalidateDeletedEvictsHotAndDurableTiers(t *testing.T) {
	durable := newFakeDurable()
	c, err := cache.New(8, durable)
	require.NoError(t, err)

	deletedContent := []byte("package a\nfunc gone() {}\n")
	hash := cache.HashFile(deletedContent)
	key := models.CacheKey{FileSHA256: hash, Scope: models.ScopeModule, TargetQualifier: ""}
	require.NoError(t, c.Store(context.Background(), deletedContent, models.ScopeModule, "", "finding", 10))

	vcsAdapter := &fakeVCSForInvalidate{content: map[string][]byte{"pkg/a.go": deletedContent}}

	o := &Orchestrator{cache: c, store: durableStoreAdapter{durable: durable}, vcsAdapter: vcsAdapter}

	selection := incremental.Selection{Deleted: []string{"pkg/a.go"}}
	err = o.invalidateDeleted(context.Background(), "/repo", "main", selection)
	require.NoError(t, err)

	assert.Contains(t, durable.deleted, hash)
	_, hit, _ := c.Lookup(context.Background(), deletedContent, models.ScopeModule, "")
	assert.False(t, hit)
	_, stillInDurable := durable.entries[key]
	assert.False(t, stillInDurable)
}

func TestInvalidateDeletedNoOpWithoutBaseRef(t *testing.T) {
	durable := newFakeDurable()
	c, err := cache.New(8, durable)
	require.NoError(t, err)

	o := &Orchestrator{cache: c, store: durableStoreAdapter{durable: durable}, vcsAdapter: &fakeVCSForInvalidate{}}
	err = o.invalidateDeleted(context.Background(), "/repo", "", incremental.Selection{Deleted: []string{"pkg/a.go"}})
	require.NoError(t, err)
	assert.Empty(t, durable.deleted)
}
