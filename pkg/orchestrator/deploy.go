package orchestrator

import (
	"context"
	"fmt"
	"path"

	"github.com/cascade-analysis/cascade/pkg/agentruntime"
	"github.com/cascade-analysis/cascade/pkg/codegraph"
	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/cascade-analysis/cascade/pkg/provider"
)

// deploySubsystem spawns one Module agent per module the subsystem
// owns (restricted to rs.allowed paths in incremental mode), waits for
// all of them, and synthesizes a Review card over their findings.
func (o *Orchestrator) deploySubsystem(ctx context.Context, sessionID string, parent *agentruntime.Runtime, group subsystemGroup, rs *runState) childResult {
	parentID := parent.ID()
	agent, err := agentruntime.Begin(ctx, o.store, sessionID, &parentID, models.ScopeSubsystem, models.Target{Path: group.name})
	if err != nil {
		return childResult{target: group.name, err: err}
	}
	parent.AttachChild(agent.ID())
	if err := agent.Advance(ctx, models.AgentStatusAnalyzing); err != nil {
		return childResult{target: group.name, err: err}
	}

	modules := make([]codegraph.Module, 0, len(group.modules))
	for _, m := range group.modules {
		if rs.allowed(m.Path) {
			modules = append(modules, m)
		}
	}

	results := o.deployChildren(ctx, len(modules), func(i int, out chan<- childResult) {
		mod := modules[i]
		if err := o.semModules.Acquire(ctx, 1); err != nil {
			out <- childResult{target: mod.Path, err: err}
			return
		}
		defer o.semModules.Release(1)
		out <- o.deployModule(ctx, sessionID, agent, mod, rs)
	})

	var findings []string
	for _, r := range results {
		if r.err != nil {
			rs.recordError(fmt.Sprintf("%s: %s", r.target, r.err.Error()))
			continue
		}
		findings = append(findings, r.findings...)
	}

	if err := agent.Advance(ctx, models.AgentStatusReporting); err != nil {
		return childResult{target: group.name, err: err}
	}

	summary := synthesize(findings)
	if len(findings) > 0 {
		if _, err := o.createSynthesisCard(ctx, agent, models.CardTypeReview, fmt.Sprintf("Subsystem review: %s", group.name), summary); err != nil {
			rs.recordError(fmt.Sprintf("%s: synthesis card: %s", group.name, err.Error()))
		}
	}

	if err := agent.Complete(ctx, summary); err != nil {
		return childResult{target: group.name, err: err}
	}

	return childResult{target: group.name, findings: []string{summary}}
}

// deployModule spawns a Class agent per class and a Function agent per
// top-level function, then synthesizes a Review card.
func (o *Orchestrator) deployModule(ctx context.Context, sessionID string, parent *agentruntime.Runtime, mod codegraph.Module, rs *runState) childResult {
	parentID := parent.ID()
	agent, err := agentruntime.Begin(ctx, o.store, sessionID, &parentID, models.ScopeModule, models.Target{Path: mod.Path})
	if err != nil {
		return childResult{target: mod.Path, err: err}
	}
	parent.AttachChild(agent.ID())
	if err := agent.Advance(ctx, models.AgentStatusAnalyzing); err != nil {
		return childResult{target: mod.Path, err: err}
	}

	rs.recordCounts(1, 0, 0, 0)

	classes := rs.graph.Classes(mod.Path)
	functions := rs.graph.Functions(mod.Path, "")

	classResults := o.deployChildren(ctx, len(classes), func(i int, out chan<- childResult) {
		out <- o.deployClass(ctx, sessionID, agent, mod.Path, classes[i], rs)
	})

	functionResults := o.deployChildren(ctx, len(functions), func(i int, out chan<- childResult) {
		fn := functions[i]
		if err := o.semFunctions.Acquire(ctx, 1); err != nil {
			out <- childResult{target: fn.ID, err: err}
			return
		}
		defer o.semFunctions.Release(1)
		out <- o.deployFunction(ctx, sessionID, agent, mod.Path, fn, rs)
	})

	var findings []string
	for _, r := range append(classResults, functionResults...) {
		if r.err != nil {
			rs.recordError(fmt.Sprintf("%s: %s", r.target, r.err.Error()))
			continue
		}
		findings = append(findings, r.findings...)
	}

	if err := agent.Advance(ctx, models.AgentStatusReporting); err != nil {
		return childResult{target: mod.Path, err: err}
	}

	summary := synthesize(findings)
	if len(findings) > 0 {
		if _, err := o.createSynthesisCard(ctx, agent, models.CardTypeReview, fmt.Sprintf("Module review: %s", mod.Path), summary); err != nil {
			rs.recordError(fmt.Sprintf("%s: synthesis card: %s", mod.Path, err.Error()))
		}
	}

	if err := agent.Complete(ctx, summary); err != nil {
		return childResult{target: mod.Path, err: err}
	}

	return childResult{target: mod.Path, findings: []string{summary}}
}

// deployClass spawns a Function agent per method and synthesizes a
// Review card scoped to the class.
func (o *Orchestrator) deployClass(ctx context.Context, sessionID string, parent *agentruntime.Runtime, modulePath string, class codegraph.Class, rs *runState) childResult {
	parentID := parent.ID()
	agent, err := agentruntime.Begin(ctx, o.store, sessionID, &parentID, models.ScopeClass, models.Target{Path: modulePath, Qualifier: class.Qualifier})
	if err != nil {
		return childResult{target: class.Qualifier, err: err}
	}
	parent.AttachChild(agent.ID())
	if err := agent.Advance(ctx, models.AgentStatusAnalyzing); err != nil {
		return childResult{target: class.Qualifier, err: err}
	}

	functions := rs.graph.Functions(modulePath, class.Qualifier)

	results := o.deployChildren(ctx, len(functions), func(i int, out chan<- childResult) {
		fn := functions[i]
		if err := o.semFunctions.Acquire(ctx, 1); err != nil {
			out <- childResult{target: fn.ID, err: err}
			return
		}
		defer o.semFunctions.Release(1)
		out <- o.deployFunction(ctx, sessionID, agent, modulePath, fn, rs)
	})

	var findings []string
	for _, r := range results {
		if r.err != nil {
			rs.recordError(fmt.Sprintf("%s: %s", r.target, r.err.Error()))
			continue
		}
		findings = append(findings, r.findings...)
	}

	if err := agent.Advance(ctx, models.AgentStatusReporting); err != nil {
		return childResult{target: class.Qualifier, err: err}
	}

	summary := synthesize(findings)
	if len(findings) > 0 {
		if _, err := o.createSynthesisCard(ctx, agent, models.CardTypeReview, fmt.Sprintf("Class review: %s", class.Qualifier), summary); err != nil {
			rs.recordError(fmt.Sprintf("%s: synthesis card: %s", class.Qualifier, err.Error()))
		}
	}

	if err := agent.Complete(ctx, summary); err != nil {
		return childResult{target: class.Qualifier, err: err}
	}

	return childResult{target: class.Qualifier, findings: []string{summary}}
}

// deployFunction is a leaf: it checks the cache, falls through to the
// provider on a miss, and creates a Review card from a freshly produced
// finding. A cache hit replays the finding into synthesis without a new
// card, since the original analysis already created one for it. Its
// cards are created before its parent's synthesis runs, satisfying the
// §4.9 emission-order guarantee (the parent only synthesizes after
// deployChildren returns).
func (o *Orchestrator) deployFunction(ctx context.Context, sessionID string, parent *agentruntime.Runtime, modulePath string, fn codegraph.Function, rs *runState) childResult {
	parentID := parent.ID()
	agent, err := agentruntime.Begin(ctx, o.store, sessionID, &parentID, models.ScopeFunction, models.Target{Path: modulePath, Qualifier: fn.Name})
	if err != nil {
		return childResult{target: fn.Name, err: err}
	}
	parent.AttachChild(agent.ID())
	if err := agent.Advance(ctx, models.AgentStatusAnalyzing); err != nil {
		return childResult{target: fn.Name, err: err}
	}

	content := []byte(fn.Source)
	finding, cacheHit, err := o.analyzeFunction(ctx, agent, modulePath, fn, content, rs.graph)
	if err != nil {
		rs.recordCounts(0, 1, 0, 0)
		_ = agent.Fail(ctx, err)
		return childResult{target: fn.Name, err: err}
	}

	if cacheHit {
		rs.recordCounts(0, 1, 1, 0)
	} else {
		rs.recordCounts(0, 1, 0, 1)
	}

	if err := agent.Advance(ctx, models.AgentStatusReporting); err != nil {
		return childResult{target: fn.Name, err: err}
	}

	if finding != "" && !cacheHit {
		card, err := o.store.CreateCard(ctx, models.Card{
			Type:         models.CardTypeReview,
			Priority:     models.PriorityP2,
			Title:        fmt.Sprintf("Review: %s", fn.Name),
			Summary:      finding,
			OwnerAgentID: agent.ID(),
			Links:        models.CardLinks{Code: []codeRef(modulePath, fn)},
		})
		if err != nil {
			rs.recordError(fmt.Sprintf("%s: create card: %s", fn.Name, err.Error()))
		} else {
			agent.RecordCreatedCard(card.ID)
		}
	}

	if err := agent.Complete(ctx, finding); err != nil {
		return childResult{target: fn.Name, err: err}
	}

	if finding == "" {
		return childResult{target: fn.Name}
	}
	return childResult{target: fn.Name, findings: []string{finding}}
}

func codeRef(modulePath string, fn codegraph.Function) models.CodeReference {
	return models.CodeReference{Path: path.Clean(modulePath), Line: fn.Line, Column: fn.Column}
}

// analyzeFunction checks the cache, then falls through to the provider
// gateway, returning the (possibly empty) finding text and whether the
// result came from cache.
func (o *Orchestrator) analyzeFunction(ctx context.Context, agent *agentruntime.Runtime, modulePath string, fn codegraph.Function, content []byte, graph codegraph.Graph) (string, bool, error) {
	if o.cfg.Analysis.CacheEnabled {
		entry, hit, err := o.cache.Lookup(ctx, content, models.ScopeFunction, fn.Name)
		if err == nil && hit {
			return entry.FindingPayload, true, nil
		}
	}

	prompt := buildFunctionPrompt(o.mask, fn, neighbors(graph, fn))
	req := provider.Request{
		ModelID:         o.cfg.Provider.Model,
		Messages:        []models.Message{{Role: models.RoleUser, Content: prompt}},
		EstimatedTokens: estimateTokens(prompt),
	}

	resp, err := o.gateway.Complete(ctx, o.cfg.Provider.Kind, req, agent)
	if err != nil {
		return "", false, err
	}

	agent.RecordMessage(messageFromResponse(prompt, resp))

	finding := resp.Content
	if o.cfg.Analysis.CacheEnabled && finding != "" {
		if err := o.cache.Store(ctx, content, models.ScopeFunction, fn.Name, finding, resp.InputTokens+resp.OutputTokens); err != nil {
			// cache write failures are non-fatal per §4.9
		}
	}

	return finding, false, nil
}

func estimateTokens(s string) int {
	return len(s)/4 + 1
}

