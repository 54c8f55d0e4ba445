package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/jackc/pgx/v5"
)

const cacheEntryColumns = `file_sha256, scope, target_qualifier, finding_payload, tokens_used,
	created_at, last_access, access_count`

// GetCacheEntry fetches one cache entry by key. Callers are responsible
// for the hash-revalidation rule (a key miss and a content mismatch are
// both represented as ErrNotFound-or-stale to the caller, which decides
// whether to treat either as a cache miss); this method only looks up
// the exact key, since FileSHA256 is already part of it.
func (s *Store) GetCacheEntry(ctx context.Context, key models.CacheKey) (models.CacheEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cacheEntryColumns+` FROM cache_entries
		WHERE file_sha256 = $1 AND scope = $2 AND target_qualifier = $3`,
		key.FileSHA256, key.Scope, key.TargetQualifier)

	entry, err := scanCacheEntry(row)
	if err != nil {
		return models.CacheEntry{}, err
	}

	// Reading an entry counts as an access: bump the recency fields so
	// PruneOlderThan's LRU-by-age sweep doesn't evict hot entries.
	_, _ = s.pool.Exec(ctx, `UPDATE cache_entries SET last_access = $1, access_count = access_count + 1
		WHERE file_sha256 = $2 AND scope = $3 AND target_qualifier = $4`,
		time.Now(), key.FileSHA256, key.Scope, key.TargetQualifier)

	return entry, nil
}

// PutCacheEntry upserts a cache entry. A write to an existing key
// (e.g. the same file re-hashed to the same content after a round trip)
// replaces the payload and token count, refreshes last_access, and
// increments access_count; created_at keeps its original value.
func (s *Store) PutCacheEntry(ctx context.Context, entry models.CacheEntry) error {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.LastAccess = now
	if entry.AccessCount == 0 {
		entry.AccessCount = 1
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (file_sha256, scope, target_qualifier, finding_payload,
			tokens_used, created_at, last_access, access_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (file_sha256, scope, target_qualifier) DO UPDATE SET
			finding_payload = EXCLUDED.finding_payload,
			tokens_used = EXCLUDED.tokens_used,
			last_access = EXCLUDED.last_access,
			access_count = cache_entries.access_count + 1`,
		entry.Key.FileSHA256, entry.Key.Scope, entry.Key.TargetQualifier, entry.FindingPayload,
		entry.TokensUsed, entry.CreatedAt, entry.LastAccess, entry.AccessCount)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// PruneOlderThan deletes cache entries whose last_access predates the
// cutoff, and returns the number removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE last_access < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteCacheEntriesForFile removes every scope/qualifier variant cached
// for a given file hash, used when the incremental selector learns a
// file was deleted from the repository.
func (s *Store) DeleteCacheEntriesForFile(ctx context.Context, fileSHA256 string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE file_sha256 = $1`, fileSHA256)
	if err != nil {
		return fmt.Errorf("delete cache entries for file: %w", err)
	}
	return nil
}

func scanCacheEntry(row rowScanner) (models.CacheEntry, error) {
	var e models.CacheEntry
	err := row.Scan(&e.Key.FileSHA256, &e.Key.Scope, &e.Key.TargetQualifier, &e.FindingPayload,
		&e.TokensUsed, &e.CreatedAt, &e.LastAccess, &e.AccessCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.CacheEntry{}, ErrNotFound
		}
		return models.CacheEntry{}, fmt.Errorf("scan cache entry: %w", err)
	}
	return e, nil
}
