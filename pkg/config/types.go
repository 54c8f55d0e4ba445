package config

import "time"

// ProviderConfig configures the ProviderGateway's upstream binding.
type ProviderConfig struct {
	// Kind selects the ProviderAdapter: "vendor_a", "vendor_b_compatible", "mock".
	Kind string `yaml:"provider_kind"`
	// Model is passed through opaquely to the adapter.
	Model string `yaml:"provider_model"`
	// BaseURL overrides the default endpoint, honored by vendor_b_compatible.
	BaseURL string `yaml:"provider_base_url,omitempty"`
	// TimeoutSeconds bounds a single provider call attempt.
	TimeoutSeconds int `yaml:"ai_timeout_s"`
}

// Timeout returns the configured per-attempt provider deadline.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RateLimitConfig configures the token-bucket rate limiter in front of
// the provider.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"ai_rate_rpm"`
	TokensPerMinute   int `yaml:"ai_rate_tpm"`
}

// BreakerConfig configures the circuit breaker wrapping provider calls.
type BreakerConfig struct {
	FailureThreshold int `yaml:"ai_breaker_threshold"`
	RecoverySeconds  int `yaml:"ai_breaker_recovery_s"`
}

// RecoveryTimeout returns the duration the breaker stays Open before
// probing again.
func (c BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoverySeconds) * time.Second
}

// RetryConfig governs the outermost Retry wrapper of the resilience
// envelope.
type RetryConfig struct {
	MaxRetries          int     `yaml:"retry_max_attempts"`
	InitialBackoffMs    int     `yaml:"retry_initial_backoff_ms"`
	MaxBackoffMs        int     `yaml:"retry_max_backoff_ms"`
	BackoffMultiplier   float64 `yaml:"retry_backoff_multiplier"`
}

// InitialBackoff and MaxBackoff return the configured bounds as
// time.Duration.
func (c RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

func (c RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// ConcurrencyConfig bounds the number of simultaneously deployed agents
// at each scope level below System.
type ConcurrencyConfig struct {
	MaxSubsystems int `yaml:"max_concurrent_subsystems"`
	MaxModules    int `yaml:"max_concurrent_modules"`
	MaxFunctions  int `yaml:"max_concurrent_functions"`
}

// AnalysisConfig governs the orchestration run as a whole.
type AnalysisConfig struct {
	DeadlineSeconds   int      `yaml:"analysis_deadline_s"`
	CacheEnabled      bool     `yaml:"cache_enabled"`
	SourceExtensions  []string `yaml:"source_extensions"`
}

// Deadline returns the hard wall-clock budget for a single analysis run.
func (c AnalysisConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSeconds) * time.Second
}

// StoreConfig locates the persistent store.
type StoreConfig struct {
	// DSN is a postgres connection string. StorePath is kept for
	// filesystem-rooted deployments (migrations dir override, local
	// sqlite-style experiments); Store itself only requires DSN.
	DSN       string `yaml:"store_dsn"`
	StorePath string `yaml:"store_path,omitempty"`
}

// CacheConfig sizes the in-memory hot tier sitting in front of the
// durable, Store-backed cache table.
type CacheConfig struct {
	HotTierSize int `yaml:"cache_hot_tier_size"`
}
