package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-analysis/cascade/pkg/cache"
	"github.com/cascade-analysis/cascade/pkg/codegraph"
	"github.com/cascade-analysis/cascade/pkg/config"
	"github.com/cascade-analysis/cascade/pkg/masking"
	"github.com/cascade-analysis/cascade/pkg/models"
	"github.com/cascade-analysis/cascade/pkg/progress"
	"github.com/cascade-analysis/cascade/pkg/provider"
	"github.com/cascade-analysis/cascade/pkg/resilience"
)

// contentRoutedAdapter is a provider.Adapter that picks its scripted
// response by matching a substring in the request prompt rather than
// by call order. deployModule fans its Function agents out over
// goroutines, so two agents' calls can reach a shared MockAdapter in
// either order; routing by content keeps a scenario's expected finding
// attached to the function it actually describes regardless of which
// one the scheduler runs first.
type contentRoutedAdapter struct {
	mu        sync.Mutex
	responses []struct {
		match string
		resp  provider.Response
	}
	calls []provider.Request
}

func newContentRoutedAdapter() *contentRoutedAdapter {
	return &contentRoutedAdapter{}
}

func (a *contentRoutedAdapter) on(match string, resp provider.Response) *contentRoutedAdapter {
	a.responses = append(a.responses, struct {
		match string
		resp  provider.Response
	}{match, resp})
	return a
}

func (a *contentRoutedAdapter) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)

	var content string
	if len(req.Messages) > 0 {
		content = req.Messages[0].Content
	}
	for _, r := range a.responses {
		if strings.Contains(content, r.match) {
			return r.resp, nil
		}
	}
	return provider.Response{}, nil
}

func (a *contentRoutedAdapter) Calls() []provider.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]provider.Request, len(a.calls))
	copy(out, a.calls)
	return out
}

// fakeAnalysisStore is a minimal in-memory Store double covering the
// full tree AnalyzeFull walks: sessions, every agent it spawns, cards,
// and the cache's durable tier, all keyed by auto-incrementing ids.
type fakeAnalysisStore struct {
	mu        sync.Mutex
	nextID    int
	agents    map[string]models.Agent
	sessions  map[string]models.AnalysisSession
	cards     []models.Card
	cacheRows map[models.CacheKey]models.CacheEntry
}

func newFakeAnalysisStore() *fakeAnalysisStore {
	return &fakeAnalysisStore{
		agents:    map[string]models.Agent{},
		sessions:  map[string]models.AnalysisSession{},
		cacheRows: map[models.CacheKey]models.CacheEntry{},
	}
}

func (f *fakeAnalysisStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeAnalysisStore) CreateAgent(ctx context.Context, agent models.Agent) (models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent.ID = f.id("agent")
	f.agents[agent.ID] = agent
	return agent, nil
}

func (f *fakeAnalysisStore) FlushAgent(ctx context.Context, agent models.Agent) (models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[agent.ID] = agent
	return agent, nil
}

func (f *fakeAnalysisStore) CreateCard(ctx context.Context, card models.Card) (models.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card.ID = f.id("card")
	f.cards = append(f.cards, card)
	return card, nil
}

func (f *fakeAnalysisStore) UpdateCard(ctx context.Context, id string, patch models.CardPatch, actor string) (models.Card, error) {
	return models.Card{}, fmt.Errorf("fakeAnalysisStore: UpdateCard unused")
}

func (f *fakeAnalysisStore) GetCard(ctx context.Context, id string) (models.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cards {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Card{}, fmt.Errorf("fakeAnalysisStore: card %s not found", id)
}

func (f *fakeAnalysisStore) AppendCardAudit(ctx context.Context, id string, entry models.AuditEntry) (models.Card, error) {
	return models.Card{}, fmt.Errorf("fakeAnalysisStore: AppendCardAudit unused")
}

func (f *fakeAnalysisStore) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[id], nil
}

func (f *fakeAnalysisStore) CreateSession(ctx context.Context, session models.AnalysisSession) (models.AnalysisSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session.ID = f.id("session")
	session.StartedAt = time.Unix(0, 0)
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeAnalysisStore) UpdateSessionProgress(ctx context.Context, id string, filesAnalyzed, filesSkipped []string, cacheHits, cacheMisses int) error {
	return nil
}

func (f *fakeAnalysisStore) CompleteSession(ctx context.Context, id string, moduleCount, functionCount int, errs []string) (models.AnalysisSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := f.sessions[id]
	session.ModuleCount = moduleCount
	session.FunctionCount = functionCount
	session.Errors = errs
	f.sessions[id] = session
	return session, nil
}

func (f *fakeAnalysisStore) GetSession(ctx context.Context, id string) (models.AnalysisSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id], nil
}

func (f *fakeAnalysisStore) DeleteCacheEntriesForFile(ctx context.Context, fileSHA256 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.cacheRows {
		if k.FileSHA256 == fileSHA256 {
			delete(f.cacheRows, k)
		}
	}
	return nil
}

// GetCacheEntry/PutCacheEntry satisfy cache.Durable, so the same fake
// backs both the orchestrator's Store and the cache's durable tier.
func (f *fakeAnalysisStore) GetCacheEntry(ctx context.Context, key models.CacheKey) (models.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cacheRows[key]
	if !ok {
		return models.CacheEntry{}, fmt.Errorf("fakeAnalysisStore: no cache row for %v", key)
	}
	return entry, nil
}

func (f *fakeAnalysisStore) PutCacheEntry(ctx context.Context, entry models.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheRows[entry.Key] = entry
	return nil
}

func (f *fakeAnalysisStore) cardsByOwnerScope(agents map[string]models.Agent, scope models.Scope) []models.Card {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Card
	for _, c := range f.cards {
		if owner, ok := agents[c.OwnerAgentID]; ok && owner.Scope == scope {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAnalysisStore) snapshotAgents() map[string]models.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.Agent, len(f.agents))
	for k, v := range f.agents {
		out[k] = v
	}
	return out
}

// noopBus discards every lifecycle event; the scenarios below assert
// against SessionSummary and the fake store directly.
type noopBus struct{}

func (noopBus) PublishAnalysisStarted(ctx context.Context, sessionID, path, mode string)       {}
func (noopBus) PublishAnalysisProgress(ctx context.Context, p progress.AnalysisProgressPayload) {}
func (noopBus) PublishAgentStatus(ctx context.Context, agentID, status, target string)          {}
func (noopBus) PublishAnalysisCompleted(ctx context.Context, sessionID, summary string)         {}
func (noopBus) PublishAnalysisError(ctx context.Context, sessionID string, err error)           {}

// singleFileGraph is a fake codegraph.Graph for a repository with one
// module declaring two top-level functions: add (trivial) and div (no
// zero check), with no classes and no call edges between them.
type singleFileGraph struct {
	modulePath string
}

func (g singleFileGraph) Modules() []codegraph.Module {
	return []codegraph.Module{{Path: g.modulePath, TopLevelFunctions: []string{"add", "div"}}}
}

func (g singleFileGraph) Classes(modulePath string) []codegraph.Class { return nil }

func (g singleFileGraph) Functions(modulePath, classQualifier string) []codegraph.Function {
	if modulePath != g.modulePath || classQualifier != "" {
		return nil
	}
	return []codegraph.Function{
		{
			ID:         g.modulePath + "#add",
			Name:       "add",
			Signature:  "func add(a, b int) int",
			ModulePath: g.modulePath,
			Source:     "func add(a, b int) int {\n\treturn a + b\n}",
			Line:       1,
		},
		{
			ID:         g.modulePath + "#div",
			Name:       "div",
			Signature:  "func div(a, b int) int",
			ModulePath: g.modulePath,
			Source:     "func div(a, b int) int {\n\treturn a / b\n}",
			Line:       4,
		},
	}
}

func (g singleFileGraph) Callers(functionID string) []string { return nil }
func (g singleFileGraph) Callees(functionID string) []string { return nil }
func (g singleFileGraph) ImportEdges() []codegraph.ImportEdge { return nil }

type fakeGraphProvider struct {
	graph codegraph.Graph
	err   error
}

func (p fakeGraphProvider) ParseDirectory(path string) (codegraph.Graph, error) {
	return p.graph, p.err
}

// testEnvelope builds a resilience.Envelope with short timings so
// breaker/retry behavior plays out in milliseconds under test.
func testEnvelope(maxRetries, breakerThreshold int, recovery time.Duration) *resilience.Envelope {
	return &resilience.Envelope{
		Limiter: resilience.NewRateLimiter(6000, 6_000_000),
		Timeout: time.Second,
		Breaker: resilience.NewCircuitBreaker(breakerThreshold, recovery),
		Retry: resilience.RetryPolicy{
			MaxRetries:        maxRetries,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Provider.Kind = "mock"
	cfg.Analysis.CacheEnabled = true
	cfg.Concurrency.MaxSubsystems = 2
	cfg.Concurrency.MaxModules = 2
	cfg.Concurrency.MaxFunctions = 2
	return cfg
}

func newTestOrchestrator(store *fakeAnalysisStore, adapter provider.Adapter, envelope *resilience.Envelope, graph codegraph.Graph, cfg *config.Config) *Orchestrator {
	c, err := cache.New(8, store)
	if err != nil {
		panic(err)
	}
	gateway := provider.NewGateway(map[string]provider.Adapter{"mock": adapter}, envelope)
	return New(store, c, gateway, noopBus{}, fakeGraphProvider{graph: graph}, nil, masking.NewService(), cfg)
}

// TestAnalyzeFullSingleFileHappyPath covers a repository with one
// module and two top-level functions: add, which raises no finding,
// and div, which does. It asserts the module/function agent counts,
// the cache-miss accounting, and that a Review card tied to div was
// created.
func TestAnalyzeFullSingleFileHappyPath(t *testing.T) {
	store := newFakeAnalysisStore()
	adapter := newContentRoutedAdapter().
		on(`"add"`, provider.Response{Content: ""}).
		on(`"div"`, provider.Response{Content: "div has no zero check"})
	envelope := testEnvelope(3, 3, time.Minute)
	graph := singleFileGraph{modulePath: "main.go"}
	o := newTestOrchestrator(store, adapter, envelope, graph, testConfig())

	summary, err := o.AnalyzeFull(context.Background(), "/repo")
	require.NoError(t, err)

	assert.Equal(t, "Completed", summary.Status)
	assert.Equal(t, 1, summary.ModuleCount)
	assert.Equal(t, 2, summary.FunctionCount)
	assert.Equal(t, 2, summary.CacheMisses)
	assert.Equal(t, 0, summary.CacheHits)
	assert.Empty(t, summary.Errors)

	agents := store.snapshotAgents()
	divCards := store.cardsByOwnerScope(agents, models.ScopeFunction)
	require.Len(t, divCards, 1, "only div should have produced a Review card")
	assert.Contains(t, divCards[0].Title, "div")
	assert.Equal(t, "div has no zero check", divCards[0].Summary)
}

// TestAnalyzeFullCacheHitAfterRerun reruns the single-file scenario a
// second time with no code change. The second run must serve both
// functions from cache (no new provider calls for them) while still
// running synthesis at every level above Function.
func TestAnalyzeFullCacheHitAfterRerun(t *testing.T) {
	store := newFakeAnalysisStore()
	adapter := newContentRoutedAdapter().
		on(`"add"`, provider.Response{Content: "add looks fine"}).
		on(`"div"`, provider.Response{Content: "div has no zero check"})
	envelope := testEnvelope(3, 3, time.Minute)
	graph := singleFileGraph{modulePath: "main.go"}
	o := newTestOrchestrator(store, adapter, envelope, graph, testConfig())

	first, err := o.AnalyzeFull(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Equal(t, 2, first.CacheMisses)
	assert.Equal(t, 0, first.CacheHits)

	callsBefore := len(adapter.Calls())

	second, err := o.AnalyzeFull(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Equal(t, 0, second.CacheMisses)
	assert.Equal(t, 2, second.CacheHits)

	// No code changed, so the two Function-level calls must have been
	// served from cache; only synthesis (Module, Subsystem, System)
	// should have reached the provider on the second run.
	callsDuringSecondRun := len(adapter.Calls()) - callsBefore
	assert.Equal(t, 3, callsDuringSecondRun)

	agents := store.snapshotAgents()
	functionCards := store.cardsByOwnerScope(agents, models.ScopeFunction)
	assert.Len(t, functionCards, 2, "cards from the first run must not be duplicated by the cache-hit rerun")
}

// TestAnalyzeFullCircuitTripDegradesSession drives a provider that
// fails every call with Overloaded. The shared breaker must trip well
// within the first nine attempts, later agents must fail fast instead
// of retrying against a dead upstream, and the run must still complete
// (as Degraded) rather than hang or panic.
func TestAnalyzeFullCircuitTripDegradesSession(t *testing.T) {
	store := newFakeAnalysisStore()
	adapter := provider.NewMockAdapter(provider.MockScript{
		Err: &resilience.Error{Kind: resilience.KindOverloaded, Message: "overloaded"},
	})
	envelope := testEnvelope(3, 3, time.Hour)
	graph := singleFileGraph{modulePath: "main.go"}
	o := newTestOrchestrator(store, adapter, envelope, graph, testConfig())

	summary, err := o.AnalyzeFull(context.Background(), "/repo")
	require.NoError(t, err)

	assert.Equal(t, "Degraded", summary.Status)
	assert.NotEmpty(t, summary.Errors)
	assert.LessOrEqual(t, len(adapter.Calls()), 9,
		"the breaker must trip at or before the ninth attempt (3 retries x 3 distinct calls)")

	agents := store.snapshotAgents()
	functionCards := store.cardsByOwnerScope(agents, models.ScopeFunction)
	assert.Empty(t, functionCards, "no Function agent succeeded, so none should have created a card")
}
