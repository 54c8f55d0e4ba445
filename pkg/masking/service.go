package masking

import (
	"log/slog"
)

// Service scrubs secrets out of source text and prompts before they leave
// the process for an AI provider. Created once per process (stateless
// aside from its compiled pattern catalogue) and safe for concurrent use.
type Service struct {
	patterns []*CompiledPattern
}

// NewService builds a masking service with the built-in pattern catalogue
// compiled. Invalid patterns are logged and skipped rather than failing
// startup.
func NewService() *Service {
	s := &Service{}
	s.compileBuiltinPatterns()

	slog.Info("masking service initialized", "compiled_patterns", len(s.patterns))

	return s
}

// Mask scrubs known secret shapes out of content before it is attached to
// a provider request. It never errors: content that matches nothing is
// returned unchanged rather than blocking analysis.
func (s *Service) Mask(content string) string {
	if content == "" {
		return content
	}

	masked := content
	for _, pattern := range s.patterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked
}
