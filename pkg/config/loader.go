package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the on-disk YAML document. Every section is a
// pointer so an absent section in the document is distinguishable from
// an explicit zero value and leaves the built-in default untouched.
type fileConfig struct {
	Provider    *ProviderConfig    `yaml:"provider,omitempty"`
	RateLimit   *RateLimitConfig   `yaml:"rate_limit,omitempty"`
	Breaker     *BreakerConfig     `yaml:"breaker,omitempty"`
	Concurrency *ConcurrencyConfig `yaml:"concurrency,omitempty"`
	Analysis    *AnalysisConfig    `yaml:"analysis,omitempty"`
	Store       *StoreConfig       `yaml:"store,omitempty"`
	Cache       *CacheConfig       `yaml:"cache,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps:
//  1. Start from built-in defaults.
//  2. Read the YAML file at configPath, if present.
//  3. Expand environment variables.
//  4. Merge the loaded document onto the defaults.
//  5. Validate.
func Initialize(_ context.Context, configPath string) (*Config, error) {
	log := slog.With("config_path", configPath)
	log.Info("initializing configuration")

	cfg := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		data = ExpandEnv(data)
		var doc fileConfig
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, NewLoadError(configPath, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		if err := mergeOverYAML(cfg, &doc); err != nil {
			return nil, NewLoadError(configPath, err)
		}
	case os.IsNotExist(err):
		log.Info("no configuration file found, using built-in defaults")
	default:
		return nil, NewLoadError(configPath, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"provider_kind", stats.ProviderKind,
		"source_extensions", stats.SourceExtensions,
		"cache_enabled", stats.CacheEnabled)

	return cfg, nil
}
