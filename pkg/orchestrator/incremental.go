package orchestrator

import (
	"context"
	"fmt"

	"github.com/cascade-analysis/cascade/pkg/cache"
	"github.com/cascade-analysis/cascade/pkg/incremental"
	"github.com/cascade-analysis/cascade/pkg/models"
)

// ErrVcsRequired is returned when AnalyzeIncremental is pointed at a
// path that is not under version control.
var ErrVcsRequired = incremental.ErrVcsRequired

// AnalyzeIncremental restricts a full run to the files that changed
// since baseRef. baseRef must be given explicitly: no default is
// derived from earlier sessions or from the repository, and an empty
// baseRef fails the selection with "no base reference available".
func (o *Orchestrator) AnalyzeIncremental(ctx context.Context, path, baseRef string) (SessionSummary, error) {
	if o.vcsAdapter == nil {
		return SessionSummary{}, ErrVcsRequired
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Analysis.Deadline())
	defer cancel()

	selector := incremental.NewSelector(o.vcsAdapter, o.cfg.Analysis.SourceExtensions)

	defaultBase, lastSessionID := o.lastCommitForPath(ctx, path)
	selection, err := selector.Select(ctx, path, baseRef, defaultBase)
	if err != nil {
		return SessionSummary{}, err
	}

	currentCommit, err := o.vcsAdapter.CurrentCommit(ctx, path)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("orchestrator: resolve current commit: %w", err)
	}
	currentBranch, err := o.vcsAdapter.CurrentBranch(ctx, path)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("orchestrator: resolve current branch: %w", err)
	}

	resolvedBase := baseRef
	if resolvedBase == "" {
		resolvedBase = defaultBase
	}

	var baseRefPtr *string
	if resolvedBase != "" {
		baseRefPtr = &resolvedBase
	}

	session, err := o.store.CreateSession(ctx, models.AnalysisSession{
		Path:          path,
		Mode:          models.ModeIncremental,
		BaseReference: baseRefPtr,
		CurrentCommit: &currentCommit,
	})
	if err != nil {
		return SessionSummary{}, fmt.Errorf("orchestrator: open session: %w", err)
	}
	o.bus.PublishAnalysisStarted(ctx, session.ID, path, string(models.ModeIncremental))

	graph, err := o.graphs.ParseDirectory(path)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("orchestrator: parse code graph: %w", err)
	}

	restrict := make(map[string]bool, len(selection.Modules))
	for _, m := range selection.Modules {
		restrict[m] = true
	}

	rs := &runState{sessionID: session.ID, graph: graph, restrict: restrict}

	if err := o.store.UpdateSessionProgress(ctx, session.ID, selection.Modules, selection.FilesSkipped, 0, 0); err != nil {
		rs.recordError(fmt.Sprintf("record progress: %s", err.Error()))
	}

	if err := o.invalidateDeleted(ctx, path, resolvedBase, selection); err != nil {
		rs.recordError(fmt.Sprintf("invalidate deleted files: %s", err.Error()))
	}

	summary, err := o.run(ctx, session.ID, path, rs)
	if err != nil {
		o.bus.PublishAnalysisError(ctx, session.ID, err)
		return SessionSummary{}, err
	}

	summary.CurrentCommit = currentCommit
	summary.CurrentBranch = currentBranch
	summary.BaseRef = resolvedBase
	summary.FilesModified = len(selection.Modules)
	summary.FilesDeleted = len(selection.Deleted)

	_ = lastSessionID
	return summary, nil
}

// invalidateDeleted evicts cache entries for every file the incremental
// selection reports as deleted, before any agent in this run can serve
// a stale hit for a path that no longer exists. A deleted file's
// content hash isn't known from the working tree anymore, so it's
// recovered from the base ref's tree; a file that errors here (e.g. it
// was never committed before deletion) is skipped rather than failing
// the whole run.
func (o *Orchestrator) invalidateDeleted(ctx context.Context, repoPath, baseRef string, selection incremental.Selection) error {
	if len(selection.Deleted) == 0 || baseRef == "" {
		return nil
	}

	hashOf := func(deletedPath string) string {
		content, err := o.vcsAdapter.FileContentAtRef(ctx, repoPath, baseRef, deletedPath)
		if err != nil {
			return ""
		}
		return cache.HashFile(content)
	}

	return selection.InvalidateDeleted(ctx, hotAndDurableDeleter{cache: o.cache, durable: o.store}, hashOf)
}

// hotAndDurableDeleter adapts Cache.InvalidateFile (which evicts both
// the hot and durable tiers) to the single-method cache.FileDeleter
// shape Selection.InvalidateDeleted expects.
type hotAndDurableDeleter struct {
	cache   *cache.Cache
	durable cache.FileDeleter
}

func (d hotAndDurableDeleter) DeleteCacheEntriesForFile(ctx context.Context, fileSHA256 string) error {
	return d.cache.InvalidateFile(ctx, fileSHA256, d.durable)
}

// lastCommitForPath returns empty strings for every path: it does not
// look up earlier sessions, so AnalyzeIncremental has no default
// base_ref and relies entirely on the caller-supplied one.
func (o *Orchestrator) lastCommitForPath(ctx context.Context, path string) (commit string, sessionID string) {
	// Store does not currently index sessions by path; a caller-supplied
	// base_ref is required until that query is added. Returning empty
	// values here makes that requirement explicit rather than silently
	// guessing at HEAD~1.
	return "", ""
}
