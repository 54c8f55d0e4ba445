package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileBuiltinPatternsCompilesAll(t *testing.T) {
	svc := &Service{}
	svc.compileBuiltinPatterns()
	require.Len(t, svc.patterns, len(builtinPatterns))
	for _, p := range svc.patterns {
		assert.NotNil(t, p.Regex)
		assert.NotEmpty(t, p.Replacement)
	}
}

func TestBuiltinPatternNamesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, p := range builtinPatterns {
		assert.False(t, seen[p.name], "duplicate pattern name %q", p.name)
		seen[p.name] = true
	}
}
