// Package orchestrator deploys the recursive System→Subsystem→Module→
// Class→Function agent tree over a repository, synthesizes findings
// bottom-up, and exposes the three entry points the rest of the system
// calls: AnalyzeFull, AnalyzeIncremental, ApplyFix.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/cascade-analysis/cascade/pkg/agentruntime"
	"github.com/cascade-analysis/cascade/pkg/cache"
	"github.com/cascade-analysis/cascade/pkg/codegraph"
	"github.com/cascade-analysis/cascade/pkg/config"
	"github.com/cascade-analysis/cascade/pkg/masking"
	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/cascade-analysis/cascade/pkg/progress"
	"github.com/cascade-analysis/cascade/pkg/provider"
	"github.com/cascade-analysis/cascade/pkg/vcs"
)

// Store is the subset of pkg/store.Store the orchestrator and the
// agents it deploys need. Narrowed to an interface for testability.
type Store interface {
	agentruntime.Persister
	CreateCard(ctx context.Context, card models.Card) (models.Card, error)
	UpdateCard(ctx context.Context, id string, patch models.CardPatch, actor string) (models.Card, error)
	GetCard(ctx context.Context, id string) (models.Card, error)
	AppendCardAudit(ctx context.Context, id string, entry models.AuditEntry) (models.Card, error)
	GetAgent(ctx context.Context, id string) (models.Agent, error)
	CreateSession(ctx context.Context, session models.AnalysisSession) (models.AnalysisSession, error)
	UpdateSessionProgress(ctx context.Context, id string, filesAnalyzed, filesSkipped []string, cacheHits, cacheMisses int) error
	CompleteSession(ctx context.Context, id string, moduleCount, functionCount int, errs []string) (models.AnalysisSession, error)
	GetSession(ctx context.Context, id string) (models.AnalysisSession, error)
	DeleteCacheEntriesForFile(ctx context.Context, fileSHA256 string) error
}

// Bus is the ProgressBus surface the orchestrator publishes lifecycle
// events to.
type Bus interface {
	PublishAnalysisStarted(ctx context.Context, sessionID, path, mode string)
	PublishAnalysisProgress(ctx context.Context, p progress.AnalysisProgressPayload)
	PublishAgentStatus(ctx context.Context, agentID, status, target string)
	PublishAnalysisCompleted(ctx context.Context, sessionID, summary string)
	PublishAnalysisError(ctx context.Context, sessionID string, err error)
}

// SessionSummary is the shape returned by AnalyzeFull/AnalyzeIncremental.
type SessionSummary struct {
	SessionID     string
	Status        string // "Completed" or "Degraded"
	ModuleCount   int
	FunctionCount int
	CacheHits     int
	CacheMisses   int
	Errors        []string
	CurrentCommit string
	CurrentBranch string
	BaseRef       string
	FilesModified int
	FilesAdded    int
	FilesDeleted  int
}

// Orchestrator wires every collaborator named in the component table
// and drives the scope-tree walk.
type Orchestrator struct {
	store      Store
	cache      *cache.Cache
	gateway    *provider.Gateway
	bus        Bus
	graphs     codegraph.Provider
	vcsAdapter vcs.Adapter
	mask       *masking.Service
	cfg        *config.Config

	semSubsystems *semaphore.Weighted
	semModules    *semaphore.Weighted
	semFunctions  *semaphore.Weighted
}

// New builds an Orchestrator. vcsAdapter may be nil; AnalyzeIncremental
// returns ErrVcsRequired in that case the same as it would for a
// non-repository path.
func New(store Store, c *cache.Cache, gateway *provider.Gateway, bus Bus, graphs codegraph.Provider, vcsAdapter vcs.Adapter, mask *masking.Service, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:         store,
		cache:         c,
		gateway:       gateway,
		bus:           bus,
		graphs:        graphs,
		vcsAdapter:    vcsAdapter,
		mask:          mask,
		cfg:           cfg,
		semSubsystems: semaphore.NewWeighted(int64(maxInt(cfg.Concurrency.MaxSubsystems, 1))),
		semModules:    semaphore.NewWeighted(int64(maxInt(cfg.Concurrency.MaxModules, 1))),
		semFunctions:  semaphore.NewWeighted(int64(maxInt(cfg.Concurrency.MaxFunctions, 1))),
	}
}

func maxInt(n, floor int) int {
	if n < floor {
		return floor
	}
	return n
}

// childResult is what a deployed child reports back to its parent:
// its own findings (for synthesis) plus whatever error it hit, which
// never propagates further than being recorded — per §4.9's
// "siblings and parent continue" rule.
type childResult struct {
	target   string
	findings []string
	err      error
}

// runState threads per-run collaborators that don't belong on the
// Orchestrator itself (it's shared across concurrent runs).
type runState struct {
	sessionID string
	graph     codegraph.Graph
	restrict  map[string]bool // non-nil in incremental mode: only these module paths are analyzed
	mu        sync.Mutex
	moduleN   int
	functionN int
	cacheHits int
	cacheMiss int
	errs      []string
}

func (rs *runState) recordError(msg string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.errs = append(rs.errs, msg)
}

func (rs *runState) recordCounts(modules, functions, hits, misses int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.moduleN += modules
	rs.functionN += functions
	rs.cacheHits += hits
	rs.cacheMiss += misses
}

func (rs *runState) allowed(path string) bool {
	if rs.restrict == nil {
		return true
	}
	return rs.restrict[path]
}

// AnalyzeFull runs a complete analysis of path from scratch.
func (o *Orchestrator) AnalyzeFull(ctx context.Context, path string) (SessionSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Analysis.Deadline())
	defer cancel()

	session, err := o.store.CreateSession(ctx, models.AnalysisSession{Path: path, Mode: models.ModeFull})
	if err != nil {
		return SessionSummary{}, fmt.Errorf("orchestrator: open session: %w", err)
	}
	o.bus.PublishAnalysisStarted(ctx, session.ID, path, string(models.ModeFull))

	graph, err := o.graphs.ParseDirectory(path)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("orchestrator: parse code graph: %w", err)
	}

	rs := &runState{sessionID: session.ID, graph: graph}
	summary, err := o.run(ctx, session.ID, path, rs)
	if err != nil {
		o.bus.PublishAnalysisError(ctx, session.ID, err)
		return SessionSummary{}, err
	}
	return summary, nil
}

// run deploys the System agent, partitions the root into subsystems,
// waits for all of them (never aborting on a sibling's error), runs
// System-level synthesis, and closes the session.
func (o *Orchestrator) run(ctx context.Context, sessionID, path string, rs *runState) (SessionSummary, error) {
	systemAgent, err := agentruntime.Begin(ctx, o.store, sessionID, nil, models.ScopeSystem, models.Target{Path: path})
	if err != nil {
		return SessionSummary{}, fmt.Errorf("orchestrator: begin system agent: %w", err)
	}
	if err := systemAgent.Advance(ctx, models.AgentStatusAnalyzing); err != nil {
		return SessionSummary{}, err
	}

	subsystems := partitionSubsystems(rs.graph.Modules())

	results := o.deployChildren(ctx, len(subsystems), func(i int, out chan<- childResult) {
		sub := subsystems[i]
		if err := o.semSubsystems.Acquire(ctx, 1); err != nil {
			out <- childResult{target: sub.name, err: err}
			return
		}
		defer o.semSubsystems.Release(1)
		out <- o.deploySubsystem(ctx, sessionID, systemAgent, sub, rs)
	})

	var errs []string
	var findings []string
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", r.target, r.err.Error()))
			continue
		}
		findings = append(findings, r.findings...)
	}
	rs.errs = append(rs.errs, errs...)

	if err := systemAgent.Advance(ctx, models.AgentStatusReporting); err != nil {
		return SessionSummary{}, err
	}

	summary := synthesize(findings)
	if _, err := o.createSynthesisCard(ctx, systemAgent, models.CardTypeArchitecture, "System architecture review", summary); err != nil {
		rs.recordError(fmt.Sprintf("system synthesis card: %s", err.Error()))
	}

	if err := systemAgent.Complete(ctx, summary); err != nil {
		return SessionSummary{}, err
	}

	status := "Completed"
	if len(rs.errs) > 0 {
		status = "Degraded"
	}

	completed, err := o.store.CompleteSession(ctx, sessionID, rs.moduleN, rs.functionN, rs.errs)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("orchestrator: complete session: %w", err)
	}
	o.bus.PublishAnalysisCompleted(ctx, sessionID, summary)

	return SessionSummary{
		SessionID:     completed.ID,
		Status:        status,
		ModuleCount:   rs.moduleN,
		FunctionCount: rs.functionN,
		CacheHits:     rs.cacheHits,
		CacheMisses:   rs.cacheMiss,
		Errors:        rs.errs,
	}, nil
}

// deployChildren runs n concurrent tasks and waits for every one to
// report, regardless of whether any reported an error — a deliberate
// divergence from errgroup's cancel-all-on-first-error default, since
// §4.9 requires a failing child to never abort its siblings.
func (o *Orchestrator) deployChildren(ctx context.Context, n int, task func(i int, out chan<- childResult)) []childResult {
	out := make(chan childResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task(i, out)
		}(i)
	}
	wg.Wait()
	close(out)

	results := make([]childResult, 0, n)
	for r := range out {
		results = append(results, r)
	}
	return results
}

type subsystemGroup struct {
	name    string
	modules []codegraph.Module
}

// partitionSubsystems groups modules by their top-level path component.
// A project with no subdirectories collapses to a single virtual "root"
// subsystem, per §4.9 step 4.
func partitionSubsystems(modules []codegraph.Module) []subsystemGroup {
	groups := map[string][]codegraph.Module{}
	var order []string

	for _, m := range modules {
		name := topLevelDir(m.Path)
		if _, seen := groups[name]; !seen {
			order = append(order, name)
		}
		groups[name] = append(groups[name], m)
	}

	if len(order) == 0 {
		return nil
	}

	out := make([]subsystemGroup, 0, len(order))
	for _, name := range order {
		out = append(out, subsystemGroup{name: name, modules: groups[name]})
	}
	return out
}

func topLevelDir(path string) string {
	clean := filepath.ToSlash(path)
	clean = strings.TrimPrefix(clean, "/")
	parts := strings.SplitN(clean, "/", 2)
	if len(parts) < 2 {
		return "root"
	}
	return parts[0]
}

