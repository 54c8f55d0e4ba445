package orchestrator

import (
	"context"
	"fmt"

	"github.com/cascade-analysis/cascade/pkg/agentruntime"
	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/cascade-analysis/cascade/pkg/provider"
)

// createSynthesisCard invokes the provider gateway once with a
// synthesis prompt built from fallbackSummary (the caller's local
// synthesize() digest of its children's findings), and writes the
// resulting summary as a parent-scope card (Architecture at System,
// Review everywhere else, per §4.9 step 8). If the provider call fails
// or returns no content, fallbackSummary itself becomes the card body
// and the card is still written — a failed synthesis call is
// non-fatal, while a store failure is returned. An empty
// fallbackSummary skips the provider call.
func (o *Orchestrator) createSynthesisCard(ctx context.Context, agent *agentruntime.Runtime, cardType models.CardType, title string, fallbackSummary string) (models.Card, error) {
	summary := fallbackSummary

	if len(fallbackSummary) > 0 {
		prompt := buildSynthesisPrompt([]string{fallbackSummary})
		req := provider.Request{
			ModelID:         o.cfg.Provider.Model,
			Messages:        []models.Message{{Role: models.RoleUser, Content: prompt}},
			EstimatedTokens: estimateTokens(prompt),
		}
		resp, err := o.gateway.Complete(ctx, o.cfg.Provider.Kind, req, agent)
		if err == nil && resp.Content != "" {
			agent.RecordMessage(messageFromResponse(prompt, resp))
			summary = resp.Content
		}
	}

	ownerID := agent.ID()
	card, err := o.store.CreateCard(ctx, models.Card{
		Type:         cardType,
		Priority:     models.PriorityP2,
		Title:        title,
		Summary:      summary,
		OwnerAgentID: ownerID,
	})
	if err != nil {
		return models.Card{}, fmt.Errorf("orchestrator: create synthesis card: %w", err)
	}
	agent.RecordCreatedCard(card.ID)
	return card, nil
}
