// Package agentruntime owns one agent activation's session state in
// memory for the duration of an analysis and flushes it to Store at
// status transitions, per the boundary spec §5 draws around "long-lived
// session mutable state": no shared mutable aliasing across tasks, one
// handle per activation.
package agentruntime

import (
	"context"
	"fmt"
	"sync"

	"github.com/cascade-analysis/cascade/pkg/models"
)

// Persister is the subset of pkg/store.Store a Runtime needs. Narrowed
// to an interface so tests can run without a database.
type Persister interface {
	CreateAgent(ctx context.Context, agent models.Agent) (models.Agent, error)
	FlushAgent(ctx context.Context, agent models.Agent) (models.Agent, error)
}

// Runtime is one agent's in-memory session, mutated only by the task
// that owns it. The mutex guards against RecordUsage being invoked from
// a provider.Gateway callback concurrently with the owning task's own
// appends, not against cross-task sharing (there is none, by design).
type Runtime struct {
	mu    sync.Mutex
	store Persister
	agent models.Agent
}

// Begin creates the agent record and returns a Runtime handle bound to
// it. parentID is nil for the root (System) agent.
func Begin(ctx context.Context, store Persister, sessionID string, parentID *string, scope models.Scope, target models.Target) (*Runtime, error) {
	created, err := store.CreateAgent(ctx, models.Agent{
		Scope:     scope,
		Target:    target,
		Status:    models.AgentStatusIdle,
		ParentID:  parentID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("agentruntime: begin: %w", err)
	}
	return &Runtime{store: store, agent: created}, nil
}

// ID returns the backing agent's id.
func (r *Runtime) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agent.ID
}

// Snapshot returns a copy of the current in-memory agent state.
func (r *Runtime) Snapshot() models.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agent
}

// RecordMessage appends one telemetry entry and folds its token usage
// into the running totals, in program order.
func (r *Runtime) RecordMessage(msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent.Messages = append(r.agent.Messages, msg)
	r.agent.Totals.TokensIn += msg.TokensIn
	r.agent.Totals.TokensOut += msg.TokensOut
}

// RecordSnapshot appends one captured-input record (code slice, AST
// extract, test run result) to the agent's snapshot log.
func (r *Runtime) RecordSnapshot(snap models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent.Snapshots = append(r.agent.Snapshots, snap)
}

// AddFinding appends one finding string.
func (r *Runtime) AddFinding(finding string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent.Findings = append(r.agent.Findings, finding)
}

// RecordCreatedCard notes a card id this agent produced.
func (r *Runtime) RecordCreatedCard(cardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent.CreatedCard = append(r.agent.CreatedCard, cardID)
}

// AttachChild records that childID was spawned under this agent. The
// Store already links parent/child at CreateAgent time; this keeps the
// in-memory view consistent for callers that only hold the Runtime.
func (r *Runtime) AttachChild(childID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent.ChildIDs = append(r.agent.ChildIDs, childID)
}

// RecordUsage implements provider.UsageRecorder, crediting token usage
// from a completed provider call onto this agent's running totals
// without requiring pkg/provider to import pkg/agentruntime.
func (r *Runtime) RecordUsage(inputTokens, outputTokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent.Totals.TokensIn += inputTokens
	r.agent.Totals.TokensOut += outputTokens
}

// Advance transitions the agent to status "to" and flushes the
// accumulated in-memory state to Store in one write.
func (r *Runtime) Advance(ctx context.Context, to models.AgentStatus) error {
	r.mu.Lock()
	r.agent.Status = to
	snapshot := r.agent
	r.mu.Unlock()

	flushed, err := r.store.FlushAgent(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("agentruntime: advance to %s: %w", to, err)
	}

	r.mu.Lock()
	r.agent = flushed
	r.mu.Unlock()
	return nil
}

// Complete transitions the agent to Completed, recording summary as a
// final finding.
func (r *Runtime) Complete(ctx context.Context, summary string) error {
	if summary != "" {
		r.AddFinding(summary)
	}
	return r.Advance(ctx, models.AgentStatusCompleted)
}

// Fail transitions the agent to Error, recording err's message as a
// finding so it surfaces in the session's error trail.
func (r *Runtime) Fail(ctx context.Context, cause error) error {
	if cause != nil {
		r.AddFinding(fmt.Sprintf("error: %s", cause.Error()))
	}
	return r.Advance(ctx, models.AgentStatusError)
}
