package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "braced substitution",
			input: "dsn: ${DB_DSN}",
			env:   map[string]string{"DB_DSN": "postgres://localhost"},
			want:  "dsn: postgres://localhost",
		},
		{
			name:  "bare substitution",
			input: "dsn: $DB_DSN",
			env:   map[string]string{"DB_DSN": "postgres://localhost"},
			want:  "dsn: postgres://localhost",
		},
		{
			name:  "missing variable expands to empty",
			input: "token: ${MISSING_TOKEN}",
			env:   map[string]string{},
			want:  "token: ",
		},
		{
			name:  "multiple variables",
			input: "url: ${PROTOCOL}://${HOST}:${PORT}",
			env: map[string]string{
				"PROTOCOL": "https",
				"HOST":     "example.com",
				"PORT":     "443",
			},
			want: "url: https://example.com:443",
		},
		{
			name:  "no variables unchanged",
			input: "static: value",
			env:   map[string]string{},
			want:  "static: value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(result))
		})
	}
}

func TestExpandEnvEmptyInput(t *testing.T) {
	assert.Equal(t, "", string(ExpandEnv([]byte(""))))
}
