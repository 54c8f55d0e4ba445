// Package incremental restricts a full analysis run to the files that
// changed since a base reference, per §4.10: a rename counts as a
// delete of the old path plus an add of the new one, and the cache is
// invalidated for deleted files before anything is re-analyzed.
package incremental

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cascade-analysis/cascade/pkg/cache"
	"github.com/cascade-analysis/cascade/pkg/vcs"
)

// Selection is the restricted module set an incremental run should
// analyze, plus the bookkeeping needed to record the session.
type Selection struct {
	Modules      []string // modified ∪ added, after rename normalization and extension filtering
	FilesSkipped []string // everything the VCS reported that fell outside SourceExtensions
	Deleted      []string // used to invalidate cache and to count deleted files in the run summary
}

// Selector narrows a subsystem's module set using a vcs.Adapter.
type Selector struct {
	vcsAdapter vcs.Adapter
	extensions map[string]bool
}

// NewSelector builds a Selector matching files whose extension is in
// sourceExtensions (e.g. ".go", ".py").
func NewSelector(adapter vcs.Adapter, sourceExtensions []string) *Selector {
	exts := make(map[string]bool, len(sourceExtensions))
	for _, ext := range sourceExtensions {
		exts[ext] = true
	}
	return &Selector{vcsAdapter: adapter, extensions: exts}
}

// Select resolves baseRef (falling back to defaultBaseRef when empty),
// diffs it against HEAD, and returns the restricted module set.
func (s *Selector) Select(ctx context.Context, path, baseRef, defaultBaseRef string) (Selection, error) {
	isRepo, err := s.vcsAdapter.IsRepo(ctx, path)
	if err != nil {
		return Selection{}, fmt.Errorf("incremental: check repo: %w", err)
	}
	if !isRepo {
		return Selection{}, ErrVcsRequired
	}

	ref := baseRef
	if ref == "" {
		ref = defaultBaseRef
	}
	if ref == "" {
		return Selection{}, fmt.Errorf("incremental: no base reference available")
	}

	changes, err := s.vcsAdapter.ChangedFiles(ctx, path, ref)
	if err != nil {
		return Selection{}, fmt.Errorf("incremental: diff against %q: %w", ref, err)
	}

	return s.partition(changes), nil
}

// partition applies the rename-as-delete-plus-add rule and filters by
// configured source extensions.
func (s *Selector) partition(changes vcs.ChangeSet) Selection {
	var sel Selection

	modified := append([]string{}, changes.Modified...)
	added := append([]string{}, changes.Added...)
	deleted := append([]string{}, changes.Deleted...)

	for _, r := range changes.Renamed {
		deleted = append(deleted, r.From)
		added = append(added, r.To)
	}

	for _, path := range deleted {
		sel.Deleted = append(sel.Deleted, path)
	}

	for _, path := range append(modified, added...) {
		if s.interesting(path) {
			sel.Modules = append(sel.Modules, path)
		} else {
			sel.FilesSkipped = append(sel.FilesSkipped, path)
		}
	}

	return sel
}

func (s *Selector) interesting(path string) bool {
	if len(s.extensions) == 0 {
		return true
	}
	return s.extensions[strings.ToLower(filepath.Ext(path))]
}

// InvalidateDeleted removes every cache entry for each deleted file,
// keyed by content hash rather than path, so a later file reusing the
// same path never serves a stale hit. hashOf maps a deleted path to the
// sha256 its last-known content was cached under; callers without that
// history (e.g. the file was deleted before ever being cached) pass an
// empty string, which is a no-op here.
func (s *Selection) InvalidateDeleted(ctx context.Context, deleter cache.FileDeleter, hashOf func(path string) string) error {
	for _, path := range s.Deleted {
		hash := hashOf(path)
		if hash == "" {
			continue
		}
		if err := deleter.DeleteCacheEntriesForFile(ctx, hash); err != nil {
			return fmt.Errorf("incremental: invalidate %q: %w", path, err)
		}
	}
	return nil
}
