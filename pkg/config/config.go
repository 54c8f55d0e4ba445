package config

import "sync"

// Config holds the fully resolved, validated configuration for one
// orchestrator process. It is built once at startup by Initialize and
// is safe for concurrent read access from every component that embeds
// a reference to it; Stats is the only method that takes the lock,
// since every other field is immutable after construction.
type Config struct {
	mu sync.RWMutex

	Provider    ProviderConfig
	RateLimit   RateLimitConfig
	Breaker     BreakerConfig
	Retry       RetryConfig
	Concurrency ConcurrencyConfig
	Analysis    AnalysisConfig
	Store       StoreConfig
	Cache       CacheConfig
}

// Stats summarizes the active configuration for startup logging.
type Stats struct {
	ProviderKind      string
	SourceExtensions  int
	MaxConcurrency    int
	CacheEnabled      bool
}

// Stats returns a snapshot of headline configuration values.
func (c *Config) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		ProviderKind:     c.Provider.Kind,
		SourceExtensions: len(c.Analysis.SourceExtensions),
		MaxConcurrency:   c.Concurrency.MaxSubsystems + c.Concurrency.MaxModules + c.Concurrency.MaxFunctions,
		CacheEnabled:     c.Analysis.CacheEnabled,
	}
}
