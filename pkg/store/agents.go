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

const agentColumns = `id, scope, target_path, target_qualifier, status, parent_id, child_ids,
	session_id, messages, snapshots, findings, created_card_ids, totals, created_at, updated_at`

const agentSelectByID = `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

// CreateAgent inserts a new agent activation. Its id is a uuid, not a
// sequence, since agents are never referenced by humans the way cards
// are.
func (s *Store) CreateAgent(ctx context.Context, agent models.Agent) (models.Agent, error) {
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Status == "" {
		agent.Status = models.AgentStatusIdle
	}

	err := s.WithTx(ctx, func(tx pgxTx) error {
		if agent.ParentID != nil {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM agents WHERE id = $1)`, *agent.ParentID).Scan(&exists); err != nil {
				return fmt.Errorf("check parent agent: %w", err)
			}
			if !exists {
				return ErrParentNotFound
			}
		}

		childIDs, _ := json.Marshal(agent.ChildIDs)
		messages, _ := json.Marshal(agent.Messages)
		snapshots, _ := json.Marshal(agent.Snapshots)
		findings, _ := json.Marshal(agent.Findings)
		createdCards, _ := json.Marshal(agent.CreatedCard)
		totals, _ := json.Marshal(agent.Totals)

		_, err := tx.Exec(ctx, `
			INSERT INTO agents (id, scope, target_path, target_qualifier, status, parent_id,
				child_ids, session_id, messages, snapshots, findings, created_card_ids, totals,
				created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			agent.ID, agent.Scope, agent.Target.Path, agent.Target.Qualifier, agent.Status,
			agent.ParentID, childIDs, agent.SessionID, messages, snapshots, findings, createdCards,
			totals, agent.CreatedAt, agent.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}

		if agent.ParentID != nil {
			_, err = tx.Exec(ctx, `
				UPDATE agents SET child_ids = child_ids || to_jsonb($1::text), updated_at = $2
				WHERE id = $3`, agent.ID, now, *agent.ParentID)
			if err != nil {
				return fmt.Errorf("append to parent child list: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return models.Agent{}, err
	}

	s.bus.Publish(ctx, "agent_created", agent)
	return agent, nil
}

// UpdateAgentStatus advances an agent's status, enforcing the
// monotonic-forward invariant (with the single Error->Idle reset edge).
func (s *Store) UpdateAgentStatus(ctx context.Context, id string, to models.AgentStatus) (models.Agent, error) {
	var updated models.Agent

	err := s.WithTx(ctx, func(tx pgxTx) error {
		current, err := scanAgent(tx.QueryRow(ctx, agentSelectByID, id))
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, to)
		}
		current.Status = to
		current.UpdatedAt = time.Now()

		_, err = tx.Exec(ctx, `UPDATE agents SET status = $1, updated_at = $2 WHERE id = $3`,
			current.Status, current.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("update agent status: %w", err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return models.Agent{}, err
	}

	s.bus.Publish(ctx, "agent_status_changed", updated)
	return updated, nil
}

// AppendAgentMessage appends one telemetry entry to an agent's ordered
// message log and folds its token usage into the agent's running totals.
func (s *Store) AppendAgentMessage(ctx context.Context, id string, msg models.Message) (models.Agent, error) {
	var updated models.Agent

	err := s.WithTx(ctx, func(tx pgxTx) error {
		current, err := scanAgent(tx.QueryRow(ctx, agentSelectByID, id))
		if err != nil {
			return err
		}

		current.Messages = append(current.Messages, msg)
		current.Totals.TokensIn += msg.TokensIn
		current.Totals.TokensOut += msg.TokensOut
		current.UpdatedAt = time.Now()

		messages, _ := json.Marshal(current.Messages)
		totals, _ := json.Marshal(current.Totals)

		_, err = tx.Exec(ctx, `UPDATE agents SET messages = $1, totals = $2, updated_at = $3 WHERE id = $4`,
			messages, totals, current.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("append agent message: %w", err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return models.Agent{}, err
	}
	return updated, nil
}

// FlushAgent writes an in-memory AgentRuntime's accumulated messages,
// snapshots, findings, created-card ids, and totals in one statement
// and advances status to agent.Status, enforcing the same monotonic
// transition rule as UpdateAgentStatus. This is how AgentRuntime
// persists its session state at a status transition, rather than on
// every individual RecordMessage/RecordSnapshot/AddFinding call.
func (s *Store) FlushAgent(ctx context.Context, agent models.Agent) (models.Agent, error) {
	var updated models.Agent

	err := s.WithTx(ctx, func(tx pgxTx) error {
		current, err := scanAgent(tx.QueryRow(ctx, agentSelectByID, agent.ID))
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(agent.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, agent.Status)
		}

		agent.UpdatedAt = time.Now()
		messages, _ := json.Marshal(agent.Messages)
		snapshots, _ := json.Marshal(agent.Snapshots)
		findings, _ := json.Marshal(agent.Findings)
		createdCards, _ := json.Marshal(agent.CreatedCard)
		totals, _ := json.Marshal(agent.Totals)

		_, err = tx.Exec(ctx, `
			UPDATE agents SET status = $1, messages = $2, snapshots = $3, findings = $4,
				created_card_ids = $5, totals = $6, updated_at = $7
			WHERE id = $8`,
			agent.Status, messages, snapshots, findings, createdCards, totals, agent.UpdatedAt, agent.ID)
		if err != nil {
			return fmt.Errorf("flush agent: %w", err)
		}
		updated = agent
		return nil
	})
	if err != nil {
		return models.Agent{}, err
	}

	s.bus.Publish(ctx, "agent_status_changed", updated)
	return updated, nil
}

// AppendAgentSnapshot appends one captured-input record to an agent's
// snapshot log.
func (s *Store) AppendAgentSnapshot(ctx context.Context, id string, snap models.Snapshot) (models.Agent, error) {
	var updated models.Agent

	err := s.WithTx(ctx, func(tx pgxTx) error {
		current, err := scanAgent(tx.QueryRow(ctx, agentSelectByID, id))
		if err != nil {
			return err
		}

		current.Snapshots = append(current.Snapshots, snap)
		current.UpdatedAt = time.Now()

		snapshots, _ := json.Marshal(current.Snapshots)

		_, err = tx.Exec(ctx, `UPDATE agents SET snapshots = $1, updated_at = $2 WHERE id = $3`,
			snapshots, current.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("append agent snapshot: %w", err)
		}
		updated = current
		return nil
	})
	return updated, err
}

// RecordAgentOutput attaches finding text and/or a created card id to an
// agent's record, used when an agent finishes producing its output.
func (s *Store) RecordAgentOutput(ctx context.Context, id string, finding string, createdCardID string) (models.Agent, error) {
	var updated models.Agent

	err := s.WithTx(ctx, func(tx pgxTx) error {
		current, err := scanAgent(tx.QueryRow(ctx, agentSelectByID, id))
		if err != nil {
			return err
		}

		if finding != "" {
			current.Findings = append(current.Findings, finding)
		}
		if createdCardID != "" {
			current.CreatedCard = append(current.CreatedCard, createdCardID)
		}
		current.UpdatedAt = time.Now()

		findings, _ := json.Marshal(current.Findings)
		createdCards, _ := json.Marshal(current.CreatedCard)

		_, err = tx.Exec(ctx, `UPDATE agents SET findings = $1, created_card_ids = $2, updated_at = $3 WHERE id = $4`,
			findings, createdCards, current.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("record agent output: %w", err)
		}
		updated = current
		return nil
	})
	return updated, err
}

// GetAgent fetches one agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	return scanAgent(s.pool.QueryRow(ctx, agentSelectByID, id))
}

// ListAgentsBySession returns every agent spawned within a session,
// ordered by creation (root agents first, by construction).
func (s *Store) ListAgentsBySession(ctx context.Context, sessionID string) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list agents by session: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		agent, err := scanAgentRow(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(row rowScanner) (models.Agent, error) {
	return scanAgentRow(row)
}

func scanAgentRow(row rowScanner) (models.Agent, error) {
	var a models.Agent
	var childIDsRaw, messagesRaw, snapshotsRaw, findingsRaw, createdCardsRaw, totalsRaw []byte

	err := row.Scan(&a.ID, &a.Scope, &a.Target.Path, &a.Target.Qualifier, &a.Status, &a.ParentID,
		&childIDsRaw, &a.SessionID, &messagesRaw, &snapshotsRaw, &findingsRaw, &createdCardsRaw, &totalsRaw,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.Agent{}, ErrNotFound
		}
		return models.Agent{}, fmt.Errorf("scan agent: %w", err)
	}

	_ = json.Unmarshal(childIDsRaw, &a.ChildIDs)
	_ = json.Unmarshal(messagesRaw, &a.Messages)
	_ = json.Unmarshal(snapshotsRaw, &a.Snapshots)
	_ = json.Unmarshal(findingsRaw, &a.Findings)
	_ = json.Unmarshal(createdCardsRaw, &a.CreatedCard)
	_ = json.Unmarshal(totalsRaw, &a.Totals)

	return a, nil
}
