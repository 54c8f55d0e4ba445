package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, path, mode, base_reference, current_commit, files_analyzed,
	files_skipped, module_count, function_count, cache_hits, cache_misses, started_at,
	completed_at, errors`

const sessionSelectByID = `SELECT ` + sessionColumns + ` FROM analysis_sessions WHERE id = $1`

// CreateSession opens a new analysis session record.
func (s *Store) CreateSession(ctx context.Context, session models.AnalysisSession) (models.AnalysisSession, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}

	filesAnalyzed, _ := json.Marshal(session.FilesAnalyzed)
	filesSkipped, _ := json.Marshal(session.FilesSkipped)
	errs, _ := json.Marshal(session.Errors)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_sessions (id, path, mode, base_reference, current_commit,
			files_analyzed, files_skipped, module_count, function_count, cache_hits,
			cache_misses, started_at, completed_at, errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		session.ID, session.Path, session.Mode, session.BaseReference, session.CurrentCommit,
		filesAnalyzed, filesSkipped, session.ModuleCount, session.FunctionCount,
		session.CacheHits, session.CacheMisses, session.StartedAt, session.CompletedAt, errs)
	if err != nil {
		return models.AnalysisSession{}, fmt.Errorf("insert session: %w", err)
	}

	s.bus.Publish(ctx, "session_started", session)
	return session, nil
}

// UpdateSessionProgress records incremental progress (files analyzed so
// far, running cache stats) on a session that has not yet completed.
func (s *Store) UpdateSessionProgress(ctx context.Context, id string, filesAnalyzed, filesSkipped []string, cacheHits, cacheMisses int) error {
	return s.WithTx(ctx, func(tx pgxTx) error {
		current, err := scanSession(tx.QueryRow(ctx, sessionSelectByID, id))
		if err != nil {
			return err
		}
		if current.Done() {
			return ErrSessionImmutable
		}

		current.FilesAnalyzed = append(current.FilesAnalyzed, filesAnalyzed...)
		current.FilesSkipped = append(current.FilesSkipped, filesSkipped...)
		current.CacheHits += cacheHits
		current.CacheMisses += cacheMisses

		fa, _ := json.Marshal(current.FilesAnalyzed)
		fsk, _ := json.Marshal(current.FilesSkipped)

		_, err = tx.Exec(ctx, `
			UPDATE analysis_sessions SET files_analyzed = $1, files_skipped = $2,
				cache_hits = $3, cache_misses = $4 WHERE id = $5`,
			fa, fsk, current.CacheHits, current.CacheMisses, id)
		return err
	})
}

// CompleteSession finalizes a session, after which it is immutable.
func (s *Store) CompleteSession(ctx context.Context, id string, moduleCount, functionCount int, errs []string) (models.AnalysisSession, error) {
	var updated models.AnalysisSession

	err := s.WithTx(ctx, func(tx pgxTx) error {
		current, err := scanSession(tx.QueryRow(ctx, sessionSelectByID, id))
		if err != nil {
			return err
		}
		if current.Done() {
			return ErrSessionImmutable
		}

		now := time.Now()
		current.CompletedAt = &now
		current.ModuleCount = moduleCount
		current.FunctionCount = functionCount
		current.Errors = append(current.Errors, errs...)

		errsRaw, _ := json.Marshal(current.Errors)

		_, err = tx.Exec(ctx, `
			UPDATE analysis_sessions SET completed_at = $1, module_count = $2,
				function_count = $3, errors = $4 WHERE id = $5`,
			current.CompletedAt, moduleCount, functionCount, errsRaw, id)
		if err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return models.AnalysisSession{}, err
	}

	s.bus.Publish(ctx, "session_completed", updated)
	return updated, nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (models.AnalysisSession, error) {
	return scanSession(s.pool.QueryRow(ctx, sessionSelectByID, id))
}

func scanSession(row rowScanner) (models.AnalysisSession, error) {
	var sess models.AnalysisSession
	var filesAnalyzedRaw, filesSkippedRaw, errsRaw []byte

	err := row.Scan(&sess.ID, &sess.Path, &sess.Mode, &sess.BaseReference, &sess.CurrentCommit,
		&filesAnalyzedRaw, &filesSkippedRaw, &sess.ModuleCount, &sess.FunctionCount,
		&sess.CacheHits, &sess.CacheMisses, &sess.StartedAt, &sess.CompletedAt, &errsRaw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.AnalysisSession{}, ErrNotFound
		}
		return models.AnalysisSession{}, fmt.Errorf("scan session: %w", err)
	}

	_ = json.Unmarshal(filesAnalyzedRaw, &sess.FilesAnalyzed)
	_ = json.Unmarshal(filesSkippedRaw, &sess.FilesSkipped)
	_ = json.Unmarshal(errsRaw, &sess.Errors)

	return sess, nil
}
