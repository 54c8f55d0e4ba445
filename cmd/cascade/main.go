// cascade walks a repository's System/Subsystem/Module/Class/Function
// structure with AI agents and records findings as cards. This binary
// is a thin CLI over pkg/orchestrator; it carries no HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cascade-analysis/cascade/pkg/cache"
	"github.com/cascade-analysis/cascade/pkg/codegraph"
	"github.com/cascade-analysis/cascade/pkg/config"
	"github.com/cascade-analysis/cascade/pkg/health"
	"github.com/cascade-analysis/cascade/pkg/masking"
	"github.com/cascade-analysis/cascade/pkg/orchestrator"
	"github.com/cascade-analysis/cascade/pkg/progress"
	"github.com/cascade-analysis/cascade/pkg/provider"
	"github.com/cascade-analysis/cascade/pkg/resilience"
	"github.com/cascade-analysis/cascade/pkg/store"
	"github.com/cascade-analysis/cascade/pkg/vcsgit"
	"github.com/cascade-analysis/cascade/pkg/version"
)

// Exit codes a wrapping process (CI, shell script) can branch on.
const (
	exitOK               = 0
	exitUsageError       = 64
	exitUpstreamDown     = 69
	exitInternalError    = 70
	exitCancelledBySig   = 130
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// newCodeGraphProvider is the seam a deployment wires a real static
// analyzer into; cascade's core only ever depends on codegraph.Provider
// by interface, so this binary ships without one built in.
var newCodeGraphProvider = func() (codegraph.Provider, error) {
	return nil, errors.New("cascade: no codegraph.Provider is wired into this build")
}

func main() {
	os.Exit(run())
}

func run() int {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cascade [-config-dir DIR] <analyze|analyze-incremental|apply-fix> ...")
		return exitUsageError
	}

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no .env at %s, using existing environment", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, filepath.Join(*configDir, "cascade.yaml"))
	if err != nil {
		log.Printf("config: %v", err)
		return exitUsageError
	}
	stats := cfg.Stats()
	slog.Info("cascade starting", "version", version.Full(), "provider_kind", stats.ProviderKind, "cache_enabled", stats.CacheEnabled, "max_concurrency", stats.MaxConcurrency)

	bus := progress.NewBus(256)

	st, err := store.Open(ctx, cfg.Store.DSN, bus)
	if err != nil {
		log.Printf("store: %v", err)
		return exitInternalError
	}
	defer st.Close()

	c, err := cache.New(cfg.Cache.HotTierSize, st)
	if err != nil {
		log.Printf("cache: %v", err)
		return exitInternalError
	}

	envelope := &resilience.Envelope{
		Limiter: resilience.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.TokensPerMinute),
		Timeout: cfg.Provider.Timeout(),
		Breaker: resilience.NewCircuitBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryTimeout()),
		Retry: resilience.RetryPolicy{
			MaxRetries:        cfg.Retry.MaxRetries,
			InitialBackoff:    cfg.Retry.InitialBackoff(),
			MaxBackoff:        cfg.Retry.MaxBackoff(),
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
	}

	adapters := map[string]provider.Adapter{
		"mock": provider.NewMockAdapter(provider.MockScript{Response: provider.Response{Content: ""}}),
	}
	if cfg.Provider.Kind != "mock" && cfg.Provider.BaseURL != "" {
		adapters[cfg.Provider.Kind] = provider.NewRESTAdapter(cfg.Provider.BaseURL, os.Getenv("CASCADE_PROVIDER_API_KEY"), cfg.Provider.Timeout())
	}
	gateway := provider.NewGateway(adapters, envelope)

	graphs, err := newCodeGraphProvider()
	if err != nil {
		log.Printf("codegraph: %v", err)
		return exitUsageError
	}

	vcsAdapter := vcsgit.New()
	mask := masking.NewService()

	o := orchestrator.New(st, c, gateway, bus, graphs, vcsAdapter, mask, cfg)
	probe := health.New(st, c, getEnv("CASCADE_DISK_PATH", "/"))

	switch args[0] {
	case "analyze":
		return runAnalyze(ctx, o, probe, args[1:])
	case "analyze-incremental":
		return runAnalyzeIncremental(ctx, o, probe, args[1:])
	case "apply-fix":
		return runApplyFix(ctx, o, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		return exitUsageError
	}
}

func runAnalyze(ctx context.Context, o *orchestrator.Orchestrator, probe *health.Probe, args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	path := fs.String("path", "", "repository path to analyze")
	if err := fs.Parse(args); err != nil || *path == "" {
		fmt.Fprintln(os.Stderr, "usage: cascade analyze -path DIR")
		return exitUsageError
	}

	if !probe.Readiness(ctx) {
		log.Printf("readiness check failed, continuing best-effort")
	}

	summary, err := o.AnalyzeFull(ctx, *path)
	return reportSummary(ctx, summary, err)
}

func runAnalyzeIncremental(ctx context.Context, o *orchestrator.Orchestrator, probe *health.Probe, args []string) int {
	fs := flag.NewFlagSet("analyze-incremental", flag.ContinueOnError)
	path := fs.String("path", "", "repository path to analyze")
	baseRef := fs.String("base-ref", "", "git ref to diff against")
	if err := fs.Parse(args); err != nil || *path == "" {
		fmt.Fprintln(os.Stderr, "usage: cascade analyze-incremental -path DIR [-base-ref REF]")
		return exitUsageError
	}

	summary, err := o.AnalyzeIncremental(ctx, *path, *baseRef)
	if errors.Is(err, orchestrator.ErrVcsRequired) {
		fmt.Fprintln(os.Stderr, "cascade: path is not a version-controlled working tree (VcsRequired)")
		return exitUsageError
	}
	return reportSummary(ctx, summary, err)
}

func reportSummary(ctx context.Context, summary orchestrator.SessionSummary, err error) int {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("cascade: analysis cancelled")
			return exitCancelledBySig
		}
		if kind, ok := resilience.KindOf(err); ok && kind == resilience.KindCircuitOpen {
			log.Printf("cascade: upstream unavailable: %v", err)
			return exitUpstreamDown
		}
		log.Printf("cascade: analysis failed: %v", err)
		return exitInternalError
	}

	fmt.Printf("session %s: %s (%d modules, %d functions, %d cache hits, %d misses, %d errors)\n",
		summary.SessionID, summary.Status, summary.ModuleCount, summary.FunctionCount,
		summary.CacheHits, summary.CacheMisses, len(summary.Errors))
	for _, e := range summary.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	if summary.Status == "Degraded" {
		return exitInternalError
	}
	return exitOK
}

func runApplyFix(ctx context.Context, o *orchestrator.Orchestrator, args []string) int {
	fs := flag.NewFlagSet("apply-fix", flag.ContinueOnError)
	cardID := fs.String("card-id", "", "card id carrying the proposed fix")
	if err := fs.Parse(args); err != nil || *cardID == "" {
		fmt.Fprintln(os.Stderr, "usage: cascade apply-fix -card-id ID")
		return exitUsageError
	}

	applyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ok, backupRef, err := o.ApplyFix(applyCtx, *cardID)
	switch {
	case errors.Is(err, orchestrator.ErrPathOutOfScope):
		fmt.Fprintln(os.Stderr, "cascade: PathOutOfScope")
		return exitUsageError
	case errors.Is(err, orchestrator.ErrMultiHunkUnsupported):
		fmt.Fprintln(os.Stderr, "cascade: MultiHunkUnsupported")
		return exitUsageError
	case err != nil:
		log.Printf("cascade: apply-fix failed: %v", err)
		return exitInternalError
	}

	fmt.Printf("ok=%v backup_ref=%s\n", ok, backupRef)
	return exitOK
}
