package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cascade-analysis/cascade/pkg/models"
)

// ErrMultiHunkUnsupported is returned when the card has child cards.
// Multi-hunk fixes are chains of cards (see the comment on
// models.ProposedFix), and ApplyFix rejects any card with children,
// whether or not those children carry a ProposedFix of their own.
var ErrMultiHunkUnsupported = errors.New("orchestrator: fix spans multiple unordered hunks")

// ErrPathOutOfScope is returned when a proposed fix's file_path would
// resolve outside the analyzed repository root.
var ErrPathOutOfScope = errors.New("orchestrator: proposed fix path escapes repository root")

// ErrNoProposedFix is returned when ApplyFix is called on a card that
// carries no fix to apply.
var ErrNoProposedFix = errors.New("orchestrator: card has no proposed fix")

// ErrStaleFix is returned when the file on disk no longer matches the
// text the fix expects to replace.
var ErrStaleFix = errors.New("orchestrator: proposed fix no longer matches file contents")

// ApplyFix writes cardID's proposed fix to disk atomically (temp file
// plus rename), leaving a pre-image backup under a per-session backup
// directory and appending an audit entry whether the apply succeeds or
// is rejected. It returns the backup's path on success.
func (o *Orchestrator) ApplyFix(ctx context.Context, cardID string) (ok bool, backupRef string, err error) {
	card, err := o.store.GetCard(ctx, cardID)
	if err != nil {
		return false, "", fmt.Errorf("orchestrator: load card: %w", err)
	}

	if card.ProposedFix == nil {
		return false, "", ErrNoProposedFix
	}

	if len(card.ChildCardIDs) > 0 {
		o.rejectFix(ctx, card.ID, "apply_fix_rejected_multi_hunk")
		return false, "", ErrMultiHunkUnsupported
	}

	repoRoot, sessionID, err := o.repoRootForCard(ctx, card)
	if err != nil {
		return false, "", err
	}

	targetPath, err := resolveWithinRoot(repoRoot, card.ProposedFix.FilePath)
	if err != nil {
		o.rejectFix(ctx, card.ID, "apply_fix_rejected_path_out_of_scope")
		return false, "", ErrPathOutOfScope
	}

	original, err := os.ReadFile(targetPath)
	if err != nil {
		return false, "", fmt.Errorf("orchestrator: read target file: %w", err)
	}

	newContent, err := applyHunk(string(original), *card.ProposedFix)
	if err != nil {
		o.rejectFix(ctx, card.ID, "apply_fix_rejected_stale")
		return false, "", err
	}

	backupRef, err = o.writeBackup(repoRoot, sessionID, card.ID, card.ProposedFix.FilePath, original)
	if err != nil {
		return false, "", fmt.Errorf("orchestrator: write backup: %w", err)
	}

	if err := atomicWrite(targetPath, []byte(newContent)); err != nil {
		return false, "", fmt.Errorf("orchestrator: write fix: %w", err)
	}

	diff := fmt.Sprintf("%s:%d-%d", card.ProposedFix.FilePath, card.ProposedFix.LineRangeStart, card.ProposedFix.LineRangeEnd)
	if _, err := o.store.AppendCardAudit(ctx, card.ID, models.AuditEntry{Actor: "orchestrator", Event: "apply_fix_applied", Diff: &diff}); err != nil {
		return true, backupRef, fmt.Errorf("orchestrator: record audit: %w", err)
	}

	approved := models.CardStatusApproved
	done := models.CardStatusDone
	if card.Status != done {
		if card.Status != approved {
			// ApplyFix only moves an Approved card to Done; a fix
			// applied from any other status is
			// still written to disk, but the card is left for a human
			// to route through InReview/Approved rather than silently
			// force-transitioned.
			return true, backupRef, nil
		}
		if _, err := o.store.UpdateCard(ctx, card.ID, models.CardPatch{Status: &done}, "orchestrator"); err != nil {
			return true, backupRef, fmt.Errorf("orchestrator: transition card to Done: %w", err)
		}
	}

	return true, backupRef, nil
}

func (o *Orchestrator) rejectFix(ctx context.Context, cardID, event string) {
	_, _ = o.store.AppendCardAudit(ctx, cardID, models.AuditEntry{Actor: "orchestrator", Event: event})
}

// repoRootForCard walks card -> owning agent -> analysis session to
// find the repository root a fix's file_path must resolve within.
func (o *Orchestrator) repoRootForCard(ctx context.Context, card models.Card) (root string, sessionID string, err error) {
	agent, err := o.store.GetAgent(ctx, card.OwnerAgentID)
	if err != nil {
		return "", "", fmt.Errorf("orchestrator: load owning agent: %w", err)
	}
	session, err := o.store.GetSession(ctx, agent.SessionID)
	if err != nil {
		return "", "", fmt.Errorf("orchestrator: load session: %w", err)
	}
	return session.Path, session.ID, nil
}

// resolveWithinRoot joins root and relPath and rejects any result that
// escapes root, whether via ".." segments or an absolute override.
func resolveWithinRoot(root, relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", ErrPathOutOfScope
	}
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(cleanRoot, relPath)
	rel, err := filepath.Rel(cleanRoot, joined)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathOutOfScope
	}
	return joined, nil
}

// applyHunk replaces fix.LineRangeStart..fix.LineRangeEnd (1-indexed,
// inclusive) with fix.NewText, failing if the lines currently there no
// longer match fix.OldText.
func applyHunk(content string, fix models.ProposedFix) (string, error) {
	lines := strings.Split(content, "\n")
	start, end := fix.LineRangeStart-1, fix.LineRangeEnd
	if start < 0 || end > len(lines) || start >= end {
		return "", fmt.Errorf("%w: line range out of bounds", ErrStaleFix)
	}
	current := strings.Join(lines[start:end], "\n")
	if current != fix.OldText {
		return "", ErrStaleFix
	}
	replaced := append([]string{}, lines[:start]...)
	replaced = append(replaced, strings.Split(fix.NewText, "\n")...)
	replaced = append(replaced, lines[end:]...)
	return strings.Join(replaced, "\n"), nil
}

// atomicWrite writes content to a temp file in target's directory and
// renames it over target, so a crash mid-write never leaves a partial
// file at the real path.
func atomicWrite(target string, content []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".cascade-fix-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// writeBackup saves the pre-image of a fixed file under a per-session
// backup directory, named after the card so repeated applies don't
// collide, and returns its path.
func (o *Orchestrator) writeBackup(repoRoot, sessionID, cardID, relPath string, original []byte) (string, error) {
	backupDir := filepath.Join(repoRoot, ".cascade", "backups", sessionID)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", err
	}
	safeName := strings.ReplaceAll(relPath, string(filepath.Separator), "__")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s-%s.bak", cardID, safeName))
	if err := os.WriteFile(backupPath, original, 0o644); err != nil {
		return "", err
	}
	return backupPath, nil
}
