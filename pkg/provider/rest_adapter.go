package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cascade-analysis/cascade/pkg/resilience"
)

// RESTAdapter speaks a generic OpenAI-compatible JSON-over-HTTP
// completion protocol. It serves both vendor_b_compatible directly and
// vendor_a with a different base URL/auth header shape, since real
// vendor SDKs are out of scope for this core.
type RESTAdapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	authHeader string // "Authorization" for bearer-style vendors, vendor-specific otherwise
	authPrefix string // e.g. "Bearer "
}

// RESTAdapterOption configures a RESTAdapter.
type RESTAdapterOption func(*RESTAdapter)

// WithAuthHeader overrides the header name and value prefix used to
// carry the API key, for vendors that don't use "Authorization: Bearer".
func WithAuthHeader(header, prefix string) RESTAdapterOption {
	return func(a *RESTAdapter) {
		a.authHeader = header
		a.authPrefix = prefix
	}
}

// NewRESTAdapter builds a RESTAdapter targeting baseURL with apiKey,
// defaulting to a bearer Authorization header.
func NewRESTAdapter(baseURL, apiKey string, timeout time.Duration, opts ...RESTAdapterOption) *RESTAdapter {
	a := &RESTAdapter{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		authHeader: "Authorization",
		authPrefix: "Bearer ",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type restMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type restRequest struct {
	Model     string        `json:"model"`
	Messages  []restMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type restChoice struct {
	Message restMessage `json:"message"`
}

type restUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type restResponse struct {
	Choices []restChoice `json:"choices"`
	Usage   restUsage    `json:"usage"`
	Error   *restError   `json:"error,omitempty"`
}

type restError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Complete sends req to the completions endpoint and classifies any
// failure by HTTP status into a retryable or non-retryable
// resilience.Error.
func (a *RESTAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	body := restRequest{Model: req.ModelID, MaxTokens: req.MaxTokens}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, restMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("provider: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(a.authHeader, a.authPrefix+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, &resilience.Error{Kind: resilience.KindUpstreamTransient, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &resilience.Error{Kind: resilience.KindUpstreamTransient, Message: "read response body", Cause: err}
	}

	if kind, retryMsg := classifyStatus(resp.StatusCode); kind != "" {
		return Response{}, &resilience.Error{Kind: kind, Message: retryMsg}
	}

	var parsed restResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("provider: decode response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, &resilience.Error{Kind: resilience.KindBadRequest, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return Response{}, &resilience.Error{Kind: resilience.KindBadRequest, Message: "empty choices in response"}
	}

	return Response{
		Content:      parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		Raw:          string(raw),
	}, nil
}

func classifyStatus(status int) (resilience.Kind, string) {
	switch {
	case status == http.StatusOK:
		return "", ""
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return resilience.KindAuth, fmt.Sprintf("upstream returned %d", status)
	case status == http.StatusTooManyRequests:
		return resilience.KindRateLimited, fmt.Sprintf("upstream returned %d", status)
	case status == http.StatusBadRequest:
		return resilience.KindBadRequest, fmt.Sprintf("upstream returned %d", status)
	case status == http.StatusNotFound:
		return resilience.KindNotFound, fmt.Sprintf("upstream returned %d", status)
	case status >= 500:
		return resilience.KindOverloaded, fmt.Sprintf("upstream returned %d", status)
	default:
		return resilience.KindUpstreamTransient, fmt.Sprintf("upstream returned %d", status)
	}
}
