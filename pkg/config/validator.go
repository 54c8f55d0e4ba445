package config

import "fmt"

// Validate checks that every configuration value required by the
// resilience envelope, orchestrator, and store is present and sane.
func Validate(cfg *Config) error {
	switch cfg.Provider.Kind {
	case "vendor_a", "vendor_b_compatible", "mock":
	default:
		return NewValidationError("provider.kind", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Provider.Kind))
	}
	if cfg.Provider.TimeoutSeconds <= 0 {
		return NewValidationError("provider.ai_timeout_s", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		return NewValidationError("rate_limit.ai_rate_rpm", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.RateLimit.TokensPerMinute <= 0 {
		return NewValidationError("rate_limit.ai_rate_tpm", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		return NewValidationError("breaker.ai_breaker_threshold", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Breaker.RecoverySeconds <= 0 {
		return NewValidationError("breaker.ai_breaker_recovery_s", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Retry.MaxRetries < 0 {
		return NewValidationError("retry.retry_max_attempts", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if cfg.Retry.InitialBackoffMs <= 0 || cfg.Retry.MaxBackoffMs <= 0 {
		return NewValidationError("retry.backoff", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Concurrency.MaxSubsystems <= 0 || cfg.Concurrency.MaxModules <= 0 || cfg.Concurrency.MaxFunctions <= 0 {
		return NewValidationError("concurrency", fmt.Errorf("%w: all permits must be positive", ErrInvalidValue))
	}
	if cfg.Analysis.DeadlineSeconds <= 0 {
		return NewValidationError("analysis.analysis_deadline_s", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if len(cfg.Analysis.SourceExtensions) == 0 {
		return NewValidationError("analysis.source_extensions", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	if cfg.Store.DSN == "" {
		return NewValidationError("store.store_dsn", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	return nil
}
