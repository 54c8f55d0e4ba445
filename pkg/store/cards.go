package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cascade-analysis/cascade/pkg/idalloc"
	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/jackc/pgx/v5"
)

// CreateCard allocates a card id via the IdAllocator and inserts the
// card, all within one transaction. The card_created event is
// published only after the transaction commits (see Open's bus wiring
// in the caller), matching the spec's ordering guarantee.
func (s *Store) CreateCard(ctx context.Context, card models.Card) (models.Card, error) {
	kind, ok := card.Type.Kind()
	if !ok {
		return models.Card{}, fmt.Errorf("store: unknown card type %q", card.Type)
	}

	now := time.Now()
	card.CreatedAt = now
	card.UpdatedAt = now
	if card.Status == "" {
		card.Status = models.CardStatusNew
	}

	err := s.WithTx(ctx, func(tx pgxTx) error {
		alloc := idalloc.New(tx)
		seq, err := alloc.Next(ctx, "card_"+kind)
		if err != nil {
			return err
		}
		card.ID = fmt.Sprintf("PRJ-%d-%s-%04d", now.Year(), kind, seq)

		if card.ParentCardID != nil {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cards WHERE id = $1)`, *card.ParentCardID).Scan(&exists); err != nil {
				return fmt.Errorf("check parent card: %w", err)
			}
			if !exists {
				return ErrParentNotFound
			}
		}

		links, err := json.Marshal(card.Links)
		if err != nil {
			return err
		}
		childIDs, err := json.Marshal(card.ChildCardIDs)
		if err != nil {
			return err
		}
		routing, err := json.Marshal(card.Routing)
		if err != nil {
			return err
		}
		fix, err := json.Marshal(card.ProposedFix)
		if err != nil {
			return err
		}
		auditLog, err := json.Marshal(card.AuditLog)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO cards (id, type, status, priority, title, summary, owner_agent_id,
				parent_card_id, child_card_ids, links, risk, confidence, coverage_impact,
				routing, proposed_fix, audit_log, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			card.ID, card.Type, card.Status, card.Priority, card.Title, card.Summary,
			card.OwnerAgentID, card.ParentCardID, childIDs, links, card.Risk, card.Confidence,
			card.CoverageImpact, routing, fix, auditLog, card.CreatedAt, card.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert card: %w", err)
		}

		if card.ParentCardID != nil {
			_, err = tx.Exec(ctx, `
				UPDATE cards SET child_card_ids = child_card_ids || to_jsonb($1::text), updated_at = $2
				WHERE id = $3`, card.ID, now, *card.ParentCardID)
			if err != nil {
				return fmt.Errorf("append to parent child list: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return models.Card{}, err
	}

	s.bus.Publish(ctx, "card_created", card)
	return card, nil
}

// UpdateCard applies a partial patch to a card, validating any status
// transition against the card state machine and appending an audit
// entry, all in one transaction.
func (s *Store) UpdateCard(ctx context.Context, id string, patch models.CardPatch, actor string) (models.Card, error) {
	var updated models.Card

	err := s.WithTx(ctx, func(tx pgxTx) error {
		current, err := scanCard(tx.QueryRow(ctx, cardSelectByID, id))
		if err != nil {
			return err
		}

		event := "card_updated"
		if patch.Status != nil {
			if !current.Status.CanTransition(*patch.Status) {
				return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, *patch.Status)
			}
			if *patch.Status == models.CardStatusProposed && current.ProposedFix == nil && patch.ProposedFix == nil {
				return fmt.Errorf("%w: Proposed requires a proposed fix", ErrPreconditionFailed)
			}
			current.Status = *patch.Status
			event = "card_status_changed"
		}
		if patch.Priority != nil {
			current.Priority = *patch.Priority
		}
		if patch.Title != nil {
			current.Title = *patch.Title
		}
		if patch.Summary != nil {
			current.Summary = *patch.Summary
		}
		if patch.Links != nil {
			current.Links = *patch.Links
		}
		if patch.Risk != nil {
			current.Risk = *patch.Risk
		}
		if patch.Confidence != nil {
			current.Confidence = *patch.Confidence
		}
		if patch.CoverageImpact != nil {
			current.CoverageImpact = *patch.CoverageImpact
		}
		if patch.Routing != nil {
			current.Routing = patch.Routing
		}
		if patch.ProposedFix != nil {
			current.ProposedFix = patch.ProposedFix
		}

		current.UpdatedAt = time.Now()
		current.AuditLog = append(current.AuditLog, models.AuditEntry{
			Timestamp: current.UpdatedAt,
			Actor:     actor,
			Event:     event,
		})

		links, _ := json.Marshal(current.Links)
		childIDs, _ := json.Marshal(current.ChildCardIDs)
		routing, _ := json.Marshal(current.Routing)
		fix, _ := json.Marshal(current.ProposedFix)
		auditLog, _ := json.Marshal(current.AuditLog)

		_, err = tx.Exec(ctx, `
			UPDATE cards SET status=$1, priority=$2, title=$3, summary=$4, child_card_ids=$5,
				links=$6, risk=$7, confidence=$8, coverage_impact=$9, routing=$10,
				proposed_fix=$11, audit_log=$12, updated_at=$13
			WHERE id=$14`,
			current.Status, current.Priority, current.Title, current.Summary, childIDs,
			links, current.Risk, current.Confidence, current.CoverageImpact, routing,
			fix, auditLog, current.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("update card: %w", err)
		}

		updated = current
		return nil
	})
	if err != nil {
		return models.Card{}, err
	}

	s.bus.Publish(ctx, "card_updated", updated)
	return updated, nil
}

// AppendCardAudit records an audit entry without otherwise changing the
// card, for events that carry no field mutation of their own (e.g. a
// rejected ApplyFix attempt).
func (s *Store) AppendCardAudit(ctx context.Context, id string, entry models.AuditEntry) (models.Card, error) {
	var updated models.Card
	err := s.WithTx(ctx, func(tx pgxTx) error {
		current, err := scanCard(tx.QueryRow(ctx, cardSelectByID, id))
		if err != nil {
			return err
		}
		entry.Timestamp = time.Now()
		current.AuditLog = append(current.AuditLog, entry)
		current.UpdatedAt = entry.Timestamp

		auditLog, _ := json.Marshal(current.AuditLog)
		_, err = tx.Exec(ctx, `UPDATE cards SET audit_log = $1, updated_at = $2 WHERE id = $3`,
			auditLog, current.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("append card audit: %w", err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return models.Card{}, err
	}
	s.bus.Publish(ctx, "card_updated", updated)
	return updated, nil
}

// GetCard fetches one card by id.
func (s *Store) GetCard(ctx context.Context, id string) (models.Card, error) {
	return scanCard(s.pool.QueryRow(ctx, cardSelectByID, id))
}

// ListCards returns cards matching filter, ordered by created_at, with
// limit/offset pagination.
func (s *Store) ListCards(ctx context.Context, filter models.CardFilter) ([]models.Card, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + cardColumns + ` FROM cards WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Type != "" {
		query += " AND type = " + arg(filter.Type)
	}
	if filter.Status != "" {
		query += " AND status = " + arg(filter.Status)
	}
	if filter.OwnerAgentID != "" {
		query += " AND owner_agent_id = " + arg(filter.OwnerAgentID)
	}
	if filter.ParentCardID != "" {
		query += " AND parent_card_id = " + arg(filter.ParentCardID)
	}
	query += " ORDER BY created_at ASC LIMIT " + arg(limit) + " OFFSET " + arg(filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		card, err := scanCardRow(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

const cardColumns = `id, type, status, priority, title, summary, owner_agent_id,
	parent_card_id, child_card_ids, links, risk, confidence, coverage_impact,
	routing, proposed_fix, audit_log, created_at, updated_at`

const cardSelectByID = `SELECT ` + cardColumns + ` FROM cards WHERE id = $1`

// rowScanner abstracts pgx.Row/pgx.Rows for a single scan call.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (models.Card, error) {
	return scanCardRow(row)
}

func scanCardRow(row rowScanner) (models.Card, error) {
	var c models.Card
	var linksRaw, childIDsRaw, routingRaw, fixRaw, auditRaw []byte

	err := row.Scan(&c.ID, &c.Type, &c.Status, &c.Priority, &c.Title, &c.Summary, &c.OwnerAgentID,
		&c.ParentCardID, &childIDsRaw, &linksRaw, &c.Risk, &c.Confidence, &c.CoverageImpact,
		&routingRaw, &fixRaw, &auditRaw, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.Card{}, ErrNotFound
		}
		return models.Card{}, fmt.Errorf("scan card: %w", err)
	}

	_ = json.Unmarshal(childIDsRaw, &c.ChildCardIDs)
	_ = json.Unmarshal(linksRaw, &c.Links)
	if len(routingRaw) > 0 {
		_ = json.Unmarshal(routingRaw, &c.Routing)
	}
	if len(fixRaw) > 0 {
		_ = json.Unmarshal(fixRaw, &c.ProposedFix)
	}
	_ = json.Unmarshal(auditRaw, &c.AuditLog)

	return c, nil
}
