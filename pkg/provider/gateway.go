package provider

import (
	"context"
	"fmt"

	"github.com/cascade-analysis/cascade/pkg/resilience"
)

// UsageRecorder receives token usage after a successful call, so the
// gateway can credit it to whichever agent made the request without
// importing the agent runtime package itself.
type UsageRecorder interface {
	RecordUsage(inputTokens, outputTokens int)
}

// Gateway resolves an Adapter by provider_kind and wraps every call in
// a resilience.Envelope. One Gateway instance is shared by every agent
// in an analysis run; the envelope's rate limiter and circuit breaker
// are therefore shared too, matching the "per logical upstream" scope
// the envelope is specified against.
type Gateway struct {
	adapters map[string]Adapter
	envelope *resilience.Envelope
}

// NewGateway builds a Gateway over the given provider_kind -> Adapter
// registry, wrapped by envelope.
func NewGateway(adapters map[string]Adapter, envelope *resilience.Envelope) *Gateway {
	return &Gateway{adapters: adapters, envelope: envelope}
}

// Complete resolves the adapter for providerKind, executes req through
// the resilience envelope, and reports actual token usage back to the
// rate limiter and, if recorder is non-nil, to the calling agent.
func (g *Gateway) Complete(ctx context.Context, providerKind string, req Request, recorder UsageRecorder) (Response, error) {
	adapter, ok := g.adapters[providerKind]
	if !ok {
		return Response{}, fmt.Errorf("provider: unknown provider_kind %q", providerKind)
	}

	result, err := g.envelope.Execute(ctx, req.EstimatedTokens, func(ctx context.Context) (any, error) {
		return adapter.Complete(ctx, req)
	})
	if err != nil {
		return Response{}, err
	}

	resp := result.(Response)
	g.envelope.Limiter.Report(req.EstimatedTokens, resp.InputTokens+resp.OutputTokens)
	if recorder != nil {
		recorder.RecordUsage(resp.InputTokens, resp.OutputTokens)
	}
	return resp, nil
}
