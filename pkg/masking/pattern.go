package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPattern is the declarative form compiled at service construction.
type builtinPattern struct {
	name        string
	pattern     string
	replacement string
	description string
}

// builtinPatterns is the catalogue of secret shapes scrubbed from any
// source text or prompt handed to a ProviderAdapter. Patterns favor
// precision over recall: a missed secret is bad, but a masker that
// mangles ordinary source code on every run is worse.
var builtinPatterns = []builtinPattern{
	{
		name:        "aws_access_key_id",
		pattern:     `\bAKIA[0-9A-Z]{16}\b`,
		replacement: "[MASKED_AWS_ACCESS_KEY_ID]",
		description: "AWS access key id",
	},
	{
		name:        "aws_secret_access_key",
		pattern:     `(?i)(aws_secret_access_key\s*[:=]\s*)['"]?[A-Za-z0-9/+=]{40}['"]?`,
		replacement: "${1}[MASKED_AWS_SECRET_ACCESS_KEY]",
		description: "AWS secret access key assignment",
	},
	{
		name:        "generic_api_key_assignment",
		pattern:     `(?i)((?:api[_-]?key|secret|token|password|passwd)\s*[:=]\s*)['"]([A-Za-z0-9_\-./+]{12,})['"]`,
		replacement: "${1}\"[MASKED_SECRET]\"",
		description: "quoted secret-shaped assignment",
	},
	{
		name:        "bearer_token",
		pattern:     `(?i)(Bearer\s+)[A-Za-z0-9_\-.=]{16,}`,
		replacement: "${1}[MASKED_TOKEN]",
		description: "HTTP bearer token",
	},
	{
		name:        "private_key_block",
		pattern:     `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`,
		replacement: "[MASKED_PRIVATE_KEY]",
		description: "PEM private key block",
	},
	{
		name:        "github_token",
		pattern:     `\bgh[pousr]_[A-Za-z0-9]{36,}\b`,
		replacement: "[MASKED_GITHUB_TOKEN]",
		description: "GitHub personal access / app token",
	},
	{
		name:        "slack_token",
		pattern:     `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`,
		replacement: "[MASKED_SLACK_TOKEN]",
		description: "Slack bot/app token",
	},
	{
		name:        "jwt",
		pattern:     `\bey[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`,
		replacement: "[MASKED_JWT]",
		description: "JSON Web Token",
	},
}

// compileBuiltinPatterns compiles the static catalogue. Invalid patterns
// (none expected at rest, but a future addition might regress) are logged
// and skipped rather than failing service construction.
func (s *Service) compileBuiltinPatterns() {
	for _, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("failed to compile built-in masking pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       compiled,
			Replacement: p.replacement,
			Description: p.description,
		})
	}
}
