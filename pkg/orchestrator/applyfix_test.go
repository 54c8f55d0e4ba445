package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-analysis/cascade/pkg/models"
)

// fakeFixStore is a minimal in-memory Store double covering only what
// ApplyFix touches: a single card, its owning agent, and the session
// that names the repository root.
type fakeFixStore struct {
	card    models.Card
	agent   models.Agent
	session models.AnalysisSession
	audits  []models.AuditEntry
}

func (f *fakeFixStore) CreateAgent(ctx context.Context, agent models.Agent) (models.Agent, error) {
	return agent, nil
}
func (f *fakeFixStore) FlushAgent(ctx context.Context, agent models.Agent) (models.Agent, error) {
	return agent, nil
}
func (f *fakeFixStore) CreateCard(ctx context.Context, card models.Card) (models.Card, error) {
	return card, nil
}
func (f *fakeFixStore) UpdateCard(ctx context.Context, id string, patch models.CardPatch, actor string) (models.Card, error) {
	if patch.Status != nil {
		if !f.card.Status.CanTransition(*patch.Status) {
			return models.Card{}, errIllegalTransitionForTest
		}
		f.card.Status = *patch.Status
	}
	return f.card, nil
}
func (f *fakeFixStore) GetCard(ctx context.Context, id string) (models.Card, error) {
	return f.card, nil
}
func (f *fakeFixStore) AppendCardAudit(ctx context.Context, id string, entry models.AuditEntry) (models.Card, error) {
	f.audits = append(f.audits, entry)
	f.card.AuditLog = append(f.card.AuditLog, entry)
	return f.card, nil
}
func (f *fakeFixStore) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	return f.agent, nil
}
func (f *fakeFixStore) CreateSession(ctx context.Context, session models.AnalysisSession) (models.AnalysisSession, error) {
	return session, nil
}
func (f *fakeFixStore) UpdateSessionProgress(ctx context.Context, id string, filesAnalyzed, filesSkipped []string, cacheHits, cacheMisses int) error {
	return nil
}
func (f *fakeFixStore) CompleteSession(ctx context.Context, id string, moduleCount, functionCount int, errs []string) (models.AnalysisSession, error) {
	return f.session, nil
}
func (f *fakeFixStore) GetSession(ctx context.Context, id string) (models.AnalysisSession, error) {
	return f.session, nil
}
func (f *fakeFixStore) DeleteCacheEntriesForFile(ctx context.Context, fileSHA256 string) error {
	return nil
}

var errIllegalTransitionForTest = &illegalTransitionStub{}

type illegalTransitionStub struct{}

func (e *illegalTransitionStub) Error() string { return "orchestrator_test: illegal transition" }

func newFixOrchestrator(t *testing.T, store *fakeFixStore) *Orchestrator {
	t.Helper()
	return &Orchestrator{store: store}
}

func TestApplyFixAppliesSingleHunkAndTransitionsToDone(t *testing.T) {
	dir := t.TempDir()
	targetRel := "pkg/widget.go"
	targetAbs := filepath.Join(dir, targetRel)
	require.NoError(t, os.MkdirAll(filepath.Dir(targetAbs), 0o755))
	original := "package pkg\n\nfunc old() int {\n\treturn 1\n}\n"
	require.NoError(t, os.WriteFile(targetAbs, []byte(original), 0o644))

	store := &fakeFixStore{
		session: models.AnalysisSession{ID: "sess-1", Path: dir},
		agent:   models.Agent{ID: "agent-1", SessionID: "sess-1"},
		card: models.Card{
			ID:           "card-1",
			Status:       models.CardStatusApproved,
			OwnerAgentID: "agent-1",
			ProposedFix: &models.ProposedFix{
				FilePath:       targetRel,
				LineRangeStart: 3,
				LineRangeEnd:   5,
				OldText:        "func old() int {\n\treturn 1\n}",
				NewText:        "func old() int {\n\treturn 2\n}",
			},
		},
	}

	o := newFixOrchestrator(t, store)
	ok, backupRef, err := o.ApplyFix(context.Background(), "card-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, backupRef)

	updated, err := os.ReadFile(targetAbs)
	require.NoError(t, err)
	assert.Contains(t, string(updated), "return 2")

	backup, err := os.ReadFile(backupRef)
	require.NoError(t, err)
	assert.Equal(t, original, string(backup))

	assert.Equal(t, models.CardStatusDone, store.card.Status)
	require.NotEmpty(t, store.audits)
	assert.Equal(t, "apply_fix_applied", store.audits[len(store.audits)-1].Event)
}

func TestApplyFixRejectsPathOutOfScope(t *testing.T) {
	dir := t.TempDir()
	store := &fakeFixStore{
		session: models.AnalysisSession{ID: "sess-1", Path: dir},
		agent:   models.Agent{ID: "agent-1", SessionID: "sess-1"},
		card: models.Card{
			ID:           "card-1",
			Status:       models.CardStatusApproved,
			OwnerAgentID: "agent-1",
			ProposedFix: &models.ProposedFix{
				FilePath:       "../../etc/passwd",
				LineRangeStart: 1,
				LineRangeEnd:   1,
			},
		},
	}

	o := newFixOrchestrator(t, store)
	ok, _, err := o.ApplyFix(context.Background(), "card-1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrPathOutOfScope)
	require.NotEmpty(t, store.audits)
	assert.Equal(t, "apply_fix_rejected_path_out_of_scope", store.audits[0].Event)
}

func TestApplyFixRejectsMultiHunk(t *testing.T) {
	store := &fakeFixStore{
		card: models.Card{
			ID:           "card-1",
			Status:       models.CardStatusApproved,
			ChildCardIDs: []string{"card-2"},
			ProposedFix:  &models.ProposedFix{FilePath: "a.go", LineRangeStart: 1, LineRangeEnd: 2},
		},
	}

	o := newFixOrchestrator(t, store)
	ok, _, err := o.ApplyFix(context.Background(), "card-1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMultiHunkUnsupported)
	require.NotEmpty(t, store.audits)
	assert.Equal(t, "apply_fix_rejected_multi_hunk", store.audits[0].Event)
}

func TestApplyFixRejectsStaleFix(t *testing.T) {
	dir := t.TempDir()
	targetRel := "a.go"
	require.NoError(t, os.WriteFile(filepath.Join(dir, targetRel), []byte("package a\nfunc f() {}\n"), 0o644))

	store := &fakeFixStore{
		session: models.AnalysisSession{ID: "sess-1", Path: dir},
		agent:   models.Agent{ID: "agent-1", SessionID: "sess-1"},
		card: models.Card{
			ID:           "card-1",
			Status:       models.CardStatusApproved,
			OwnerAgentID: "agent-1",
			ProposedFix: &models.ProposedFix{
				FilePath:       targetRel,
				LineRangeStart: 2,
				LineRangeEnd:   2,
				OldText:        "func stale() {}",
				NewText:        "func fixed() {}",
			},
		},
	}

	o := newFixOrchestrator(t, store)
	ok, _, err := o.ApplyFix(context.Background(), "card-1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStaleFix)
	assert.Equal(t, "apply_fix_rejected_stale", store.audits[0].Event)
}

func TestApplyFixNoProposedFix(t *testing.T) {
	store := &fakeFixStore{card: models.Card{ID: "card-1"}}
	o := newFixOrchestrator(t, store)
	ok, _, err := o.ApplyFix(context.Background(), "card-1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNoProposedFix)
}
