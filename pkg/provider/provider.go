// Package provider wraps outbound calls to an AI provider behind a
// single Gateway.Complete operation, resolving the concrete adapter by
// configured provider_kind and applying the resilience envelope around
// every call.
package provider

import (
	"context"

	"github.com/cascade-analysis/cascade/pkg/models"
)

// Request carries everything an adapter needs for one completion call.
type Request struct {
	ModelID         string
	Messages        []models.Message
	MaxTokens       int
	ToolDefinitions []ToolDefinition
	EstimatedTokens int
}

// ToolDefinition describes a tool an adapter may offer the model, left
// opaque to the gateway — it is passed through verbatim.
type ToolDefinition struct {
	Name        string
	Description string
	ParametersJSON string
}

// Response is what a successful Complete call returns.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	ToolCalls    []models.ToolCall
	Raw          string
}

// Adapter is the per-vendor binding a Gateway dispatches to.
// Implementations translate Request/Response into their wire format
// and classify failures with a resilience.Kind so the envelope can
// decide whether to retry.
type Adapter interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
