package config

import "dario.cat/mergo"

// mergeOverYAML merges a YAML-sourced file struct onto the built-in
// defaults, letting any non-zero field in the loaded document override
// the default. Nil/zero fields in the loaded document are left as the
// default value.
func mergeOverYAML(dst *Config, src *fileConfig) error {
	if src.Provider != nil {
		if err := mergo.Merge(&dst.Provider, *src.Provider, mergo.WithOverride); err != nil {
			return err
		}
	}
	if src.RateLimit != nil {
		if err := mergo.Merge(&dst.RateLimit, *src.RateLimit, mergo.WithOverride); err != nil {
			return err
		}
	}
	if src.Breaker != nil {
		if err := mergo.Merge(&dst.Breaker, *src.Breaker, mergo.WithOverride); err != nil {
			return err
		}
	}
	if src.Concurrency != nil {
		if err := mergo.Merge(&dst.Concurrency, *src.Concurrency, mergo.WithOverride); err != nil {
			return err
		}
	}
	if src.Analysis != nil {
		if err := mergo.Merge(&dst.Analysis, *src.Analysis, mergo.WithOverride); err != nil {
			return err
		}
		if len(src.Analysis.SourceExtensions) > 0 {
			dst.Analysis.SourceExtensions = src.Analysis.SourceExtensions
		}
	}
	if src.Store != nil {
		if err := mergo.Merge(&dst.Store, *src.Store, mergo.WithOverride); err != nil {
			return err
		}
	}
	if src.Cache != nil {
		if err := mergo.Merge(&dst.Cache, *src.Cache, mergo.WithOverride); err != nil {
			return err
		}
	}
	return nil
}
