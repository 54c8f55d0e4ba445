// Package vcsgit implements pkg/vcs.Adapter over libgit2 via git2go,
// the same binding the rest of the example corpus uses for repository
// introspection.
package vcsgit

import (
	"context"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/cascade-analysis/cascade/pkg/vcs"
)

// Adapter is a stateless vcs.Adapter: every call opens the repository
// fresh, since libgit2 repository handles are not safe to share across
// the orchestrator's concurrent subsystem/module agents without
// per-call locking that would just serialize them anyway.
type Adapter struct{}

// New builds a git-backed vcs.Adapter.
func New() *Adapter {
	return &Adapter{}
}

// IsRepo reports whether path is (or is inside) a git working tree.
func (a *Adapter) IsRepo(ctx context.Context, path string) (bool, error) {
	repoPath, err := git2go.Discover(path, false, nil)
	if err != nil {
		return false, nil
	}
	return repoPath != "", nil
}

// CurrentCommit returns the hex OID of HEAD.
func (a *Adapter) CurrentCommit(ctx context.Context, path string) (string, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return "", fmt.Errorf("vcsgit: open repository: %w", err)
	}
	defer repo.Free()

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("vcsgit: get HEAD: %w", err)
	}
	defer head.Free()

	return head.Target().String(), nil
}

// CurrentBranch returns HEAD's shorthand branch name.
func (a *Adapter) CurrentBranch(ctx context.Context, path string) (string, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return "", fmt.Errorf("vcsgit: open repository: %w", err)
	}
	defer repo.Free()

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("vcsgit: get HEAD: %w", err)
	}
	defer head.Free()

	return head.Shorthand(), nil
}

// ChangedFiles diffs baseRef's tree against HEAD's tree and partitions
// the result into modified/added/deleted/renamed, mirroring libgit2's
// own delta status categories.
func (a *Adapter) ChangedFiles(ctx context.Context, path, baseRef string) (vcs.ChangeSet, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return vcs.ChangeSet{}, fmt.Errorf("vcsgit: open repository: %w", err)
	}
	defer repo.Free()

	baseTree, err := resolveTree(repo, baseRef)
	if err != nil {
		return vcs.ChangeSet{}, fmt.Errorf("vcsgit: resolve base ref %q: %w", baseRef, err)
	}
	defer baseTree.Free()

	head, err := repo.Head()
	if err != nil {
		return vcs.ChangeSet{}, fmt.Errorf("vcsgit: get HEAD: %w", err)
	}
	defer head.Free()

	headCommit, err := repo.LookupCommit(head.Target())
	if err != nil {
		return vcs.ChangeSet{}, fmt.Errorf("vcsgit: lookup HEAD commit: %w", err)
	}
	defer headCommit.Free()

	headTree, err := headCommit.Tree()
	if err != nil {
		return vcs.ChangeSet{}, fmt.Errorf("vcsgit: get HEAD tree: %w", err)
	}
	defer headTree.Free()

	opts, err := git2go.DefaultDiffOptions()
	if err != nil {
		return vcs.ChangeSet{}, fmt.Errorf("vcsgit: diff options: %w", err)
	}
	findOpts, err := git2go.DefaultDiffFindOptions()
	if err != nil {
		return vcs.ChangeSet{}, fmt.Errorf("vcsgit: diff find options: %w", err)
	}

	diff, err := repo.DiffTreeToTree(baseTree, headTree, &opts)
	if err != nil {
		return vcs.ChangeSet{}, fmt.Errorf("vcsgit: diff trees: %w", err)
	}
	defer diff.Free()

	if err := diff.FindSimilar(&findOpts); err != nil {
		return vcs.ChangeSet{}, fmt.Errorf("vcsgit: find renames: %w", err)
	}

	numDeltas, err := diff.NumDeltas()
	if err != nil {
		return vcs.ChangeSet{}, fmt.Errorf("vcsgit: count deltas: %w", err)
	}

	var set vcs.ChangeSet
	for i := 0; i < numDeltas; i++ {
		delta, err := diff.Delta(i)
		if err != nil {
			continue
		}

		switch delta.Status {
		case git2go.DeltaAdded:
			set.Added = append(set.Added, delta.NewFile.Path)
		case git2go.DeltaDeleted:
			set.Deleted = append(set.Deleted, delta.OldFile.Path)
		case git2go.DeltaModified, git2go.DeltaCopied:
			set.Modified = append(set.Modified, delta.NewFile.Path)
		case git2go.DeltaRenamed:
			set.Renamed = append(set.Renamed, vcs.RenamedFile{From: delta.OldFile.Path, To: delta.NewFile.Path})
		}
	}

	return set, nil
}

// FileContentAtRef reads relPath's blob content out of ref's tree,
// used to recover a deleted file's last-known content for cache
// invalidation purposes.
func (a *Adapter) FileContentAtRef(ctx context.Context, path, ref, relPath string) ([]byte, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("vcsgit: open repository: %w", err)
	}
	defer repo.Free()

	tree, err := resolveTree(repo, ref)
	if err != nil {
		return nil, fmt.Errorf("vcsgit: resolve ref %q: %w", ref, err)
	}
	defer tree.Free()

	entry, err := tree.EntryByPath(relPath)
	if err != nil {
		return nil, fmt.Errorf("vcsgit: lookup %q at %q: %w", relPath, ref, err)
	}

	blob, err := repo.LookupBlob(entry.Id)
	if err != nil {
		return nil, fmt.Errorf("vcsgit: lookup blob for %q: %w", relPath, err)
	}
	defer blob.Free()

	content := make([]byte, len(blob.Contents()))
	copy(content, blob.Contents())
	return content, nil
}

func resolveTree(repo *git2go.Repository, ref string) (*git2go.Tree, error) {
	obj, err := repo.RevparseSingle(ref)
	if err != nil {
		return nil, err
	}
	defer obj.Free()

	peeled, err := obj.Peel(git2go.ObjectCommit)
	if err != nil {
		return nil, err
	}
	defer peeled.Free()

	commit, err := peeled.AsCommit()
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	return commit.Tree()
}
