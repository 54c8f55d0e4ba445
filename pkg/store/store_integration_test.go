package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/cascade-analysis/cascade/pkg/store"
)

// newTestStore opens a Store against a throwaway PostgreSQL instance,
// migrated fresh for each test. In CI it points at CI_DATABASE_URL
// (an external service container); locally it spins up a testcontainer.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("CI_DATABASE_URL")
	if dsn == "" {
		t.Log("using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("cascade_test"),
			postgres.WithUsername("cascade"),
			postgres.WithPassword("cascade"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("using CI_DATABASE_URL")
	}

	st, err := store.Open(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestStoreCreateSessionAndCard(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	session, err := st.CreateSession(ctx, models.AnalysisSession{Path: "/repo", Mode: models.ModeFull})
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)

	agent, err := st.CreateAgent(ctx, models.Agent{
		SessionID: session.ID,
		Scope:     models.ScopeSystem,
		Target:    models.Target{Path: "/repo"},
		Status:    models.AgentStatusIdle,
	})
	require.NoError(t, err)

	card, err := st.CreateCard(ctx, models.Card{
		Type:         models.CardTypeReview,
		Priority:     models.PriorityP2,
		Title:        "finding",
		Summary:      "something worth a look",
		OwnerAgentID: agent.ID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, card.ID)
	require.Equal(t, models.CardStatusNew, card.Status)

	fetched, err := st.GetCard(ctx, card.ID)
	require.NoError(t, err)
	require.Equal(t, card.Title, fetched.Title)
}

func TestStoreUpdateCardRejectsIllegalTransition(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	session, err := st.CreateSession(ctx, models.AnalysisSession{Path: "/repo", Mode: models.ModeFull})
	require.NoError(t, err)
	agent, err := st.CreateAgent(ctx, models.Agent{SessionID: session.ID, Scope: models.ScopeSystem, Target: models.Target{Path: "/repo"}, Status: models.AgentStatusIdle})
	require.NoError(t, err)
	card, err := st.CreateCard(ctx, models.Card{Type: models.CardTypeReview, Priority: models.PriorityP2, Title: "t", Summary: "s", OwnerAgentID: agent.ID})
	require.NoError(t, err)

	done := models.CardStatusDone
	_, err = st.UpdateCard(ctx, card.ID, models.CardPatch{Status: &done}, "test")
	require.NoError(t, err) // New -> Done is a legal edge

	queued := models.CardStatusQueued
	_, err = st.UpdateCard(ctx, card.ID, models.CardPatch{Status: &queued}, "test")
	require.ErrorIs(t, err, store.ErrIllegalTransition)
}

func TestStoreFlushAgentPersistsAccumulatedState(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	session, err := st.CreateSession(ctx, models.AnalysisSession{Path: "/repo", Mode: models.ModeFull})
	require.NoError(t, err)
	agent, err := st.CreateAgent(ctx, models.Agent{SessionID: session.ID, Scope: models.ScopeFunction, Target: models.Target{Path: "/repo/a.go"}, Status: models.AgentStatusIdle})
	require.NoError(t, err)

	agent.Status = models.AgentStatusAnalyzing
	agent.Messages = append(agent.Messages, models.Message{Role: models.RoleUser, Content: "review this"})
	agent.Snapshots = append(agent.Snapshots, models.Snapshot{Kind: "code_slice", Description: "target function"})

	updated, err := st.FlushAgent(ctx, agent)
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusAnalyzing, updated.Status)

	reloaded, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Messages, 1)
	require.Len(t, reloaded.Snapshots, 1)
}
