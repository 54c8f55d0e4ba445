// Package health runs component probes (store, cache, disk, memory)
// in parallel and folds them into one overall status, the way the
// database/MCP health checks in the rest of the stack do, generalized
// to a per-component probe table instead of a fixed pair of checks.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/cascade-analysis/cascade/pkg/cache"
	"github.com/cascade-analysis/cascade/pkg/store"
)

// perProbeDeadline bounds how long any single component probe may run
// before it's recorded unhealthy for timing out.
const perProbeDeadline = 2 * time.Second

// diskFreeFloor and diskUsedCeiling are the thresholds a disk probe
// must clear to be reported healthy.
const (
	diskFreeFloorBytes = 1 << 30 // 1 GiB
	diskUsedCeilingPct = 90.0
	memUsedCeilingPct  = 90.0
)

// ComponentStatus is one probe's result.
type ComponentStatus struct {
	Healthy   bool      `json:"healthy"`
	LatencyMS int64     `json:"latency_ms"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Report is CheckAll's result: the overall verdict plus each
// component's detail.
type Report struct {
	Overall    string                     `json:"overall"` // "Healthy" or "Degraded"
	Components map[string]ComponentStatus `json:"components"`
}

// StoreHealth is the subset of pkg/store.Store the Store probe needs.
type StoreHealth interface {
	Health(ctx context.Context) (*store.HealthStatus, error)
}

// Probe owns the component checks CheckAll runs. DiskPath is the
// filesystem CheckAll reports disk usage for (typically the analyzed
// repository's mount point or the process's working directory).
type Probe struct {
	store    StoreHealth
	cache    *cache.Cache
	diskPath string
}

// New builds a Probe. cache may be nil if caching is disabled, in
// which case the cache component always reports healthy with a note.
func New(storeHealth StoreHealth, c *cache.Cache, diskPath string) *Probe {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Probe{store: storeHealth, cache: c, diskPath: diskPath}
}

// CheckAll runs every component probe concurrently with a shared
// per-probe deadline and folds the results into one Report. Overall is
// Healthy iff every component is healthy.
func (p *Probe) CheckAll(ctx context.Context) Report {
	checks := map[string]func(context.Context) ComponentStatus{
		"store":  p.checkStore,
		"cache":  p.checkCache,
		"disk":   p.checkDisk,
		"memory": p.checkMemory,
	}

	var mu sync.Mutex
	components := make(map[string]ComponentStatus, len(checks))
	var wg sync.WaitGroup

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check func(context.Context) ComponentStatus) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, perProbeDeadline)
			defer cancel()
			result := check(probeCtx)
			mu.Lock()
			components[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	overall := "Healthy"
	for _, c := range components {
		if !c.Healthy {
			overall = "Degraded"
			break
		}
	}

	return Report{Overall: overall, Components: components}
}

// Liveness reports whether the process is responsive at all. Since
// CheckAll returning (rather than blocking forever) is itself the
// liveness signal, this is always true for a process that can run it.
func (p *Probe) Liveness() bool {
	return true
}

// Readiness reports whether the process should receive work: true iff
// CheckAll's overall verdict is Healthy.
func (p *Probe) Readiness(ctx context.Context) bool {
	return p.CheckAll(ctx).Overall == "Healthy"
}

func (p *Probe) checkStore(ctx context.Context) ComponentStatus {
	start := time.Now()
	status, err := p.store.Health(ctx)
	latency := time.Since(start)
	if err != nil {
		return ComponentStatus{Healthy: false, LatencyMS: latency.Milliseconds(), Message: err.Error(), LastCheck: time.Now()}
	}
	return ComponentStatus{Healthy: status.Status == "healthy", LatencyMS: latency.Milliseconds(), LastCheck: time.Now()}
}

func (p *Probe) checkCache(ctx context.Context) ComponentStatus {
	start := time.Now()
	if p.cache == nil {
		return ComponentStatus{Healthy: true, LatencyMS: 0, Message: "caching disabled", LastCheck: time.Now()}
	}
	entries, capacity := p.cache.Stats()
	return ComponentStatus{
		Healthy:   true,
		LatencyMS: time.Since(start).Milliseconds(),
		Message:   fmt.Sprintf("%d/%d hot entries", entries, capacity),
		LastCheck: time.Now(),
	}
}

func (p *Probe) checkDisk(ctx context.Context) ComponentStatus {
	start := time.Now()
	usage, err := disk.UsageWithContext(ctx, p.diskPath)
	latency := time.Since(start)
	if err != nil {
		return ComponentStatus{Healthy: false, LatencyMS: latency.Milliseconds(), Message: err.Error(), LastCheck: time.Now()}
	}
	healthy := usage.UsedPercent < diskUsedCeilingPct && usage.Free >= diskFreeFloorBytes
	msg := fmt.Sprintf("%.1f%% used, %d bytes free", usage.UsedPercent, usage.Free)
	return ComponentStatus{Healthy: healthy, LatencyMS: latency.Milliseconds(), Message: msg, LastCheck: time.Now()}
}

func (p *Probe) checkMemory(ctx context.Context) ComponentStatus {
	start := time.Now()
	vm, err := mem.VirtualMemoryWithContext(ctx)
	latency := time.Since(start)
	if err != nil {
		return ComponentStatus{Healthy: false, LatencyMS: latency.Milliseconds(), Message: err.Error(), LastCheck: time.Now()}
	}
	healthy := vm.UsedPercent < memUsedCeilingPct
	msg := fmt.Sprintf("%.1f%% used", vm.UsedPercent)
	return ComponentStatus{Healthy: healthy, LatencyMS: latency.Milliseconds(), Message: msg, LastCheck: time.Now()}
}
