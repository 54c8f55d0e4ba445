package config

// Default values applied when a key is absent from the loaded YAML,
// mirroring the defaults enumerated for configuration initialization.
const (
	DefaultProviderKind      = "mock"
	DefaultAITimeoutSeconds  = 90
	DefaultRateRPM           = 50
	DefaultRateTPM           = 40_000
	DefaultBreakerThreshold  = 3
	DefaultBreakerRecoveryS  = 120
	DefaultMaxRetries        = 3
	DefaultInitialBackoffMs  = 500
	DefaultMaxBackoffMs      = 20_000
	DefaultBackoffMultiplier = 2.0
	DefaultMaxSubsystems     = 4
	DefaultMaxModules        = 3
	DefaultMaxFunctions      = 10
	DefaultAnalysisDeadlineS = 3600
	DefaultCacheHotTierSize  = 4096
)

var defaultSourceExtensions = []string{".go", ".py", ".js", ".ts", ".java", ".rb", ".rs", ".c", ".cc", ".cpp", ".h", ".hpp"}

// Default returns a Config populated with built-in defaults. Initialize
// merges the loaded YAML on top of this, so every field has a sane value
// even for a minimal or absent config file.
func Default() *Config {
	exts := make([]string, len(defaultSourceExtensions))
	copy(exts, defaultSourceExtensions)

	return &Config{
		Provider: ProviderConfig{
			Kind:           DefaultProviderKind,
			TimeoutSeconds: DefaultAITimeoutSeconds,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: DefaultRateRPM,
			TokensPerMinute:   DefaultRateTPM,
		},
		Breaker: BreakerConfig{
			FailureThreshold: DefaultBreakerThreshold,
			RecoverySeconds:  DefaultBreakerRecoveryS,
		},
		Retry: RetryConfig{
			MaxRetries:        DefaultMaxRetries,
			InitialBackoffMs:  DefaultInitialBackoffMs,
			MaxBackoffMs:      DefaultMaxBackoffMs,
			BackoffMultiplier: DefaultBackoffMultiplier,
		},
		Concurrency: ConcurrencyConfig{
			MaxSubsystems: DefaultMaxSubsystems,
			MaxModules:    DefaultMaxModules,
			MaxFunctions:  DefaultMaxFunctions,
		},
		Analysis: AnalysisConfig{
			DeadlineSeconds:  DefaultAnalysisDeadlineS,
			CacheEnabled:     true,
			SourceExtensions: exts,
		},
		Cache: CacheConfig{
			HotTierSize: DefaultCacheHotTierSize,
		},
	}
}
