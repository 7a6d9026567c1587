// Package llm provides the outbound model-call contract for narrative
// generation: a uniform Complete over heterogeneous completion providers.
// Fallback across models is owned by the pipeline, not this package; a
// client makes exactly one attempt per call.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseSize caps the response body read to prevent memory exhaustion
// from a misbehaving provider.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// DefaultCallTimeout bounds a single model call when the caller's context
// carries no deadline.
const DefaultCallTimeout = 30 * time.Second

// ModelConfig describes one configured remote model. The pipeline tries
// models in the order they are configured.
type ModelConfig struct {
	// Name identifies the model in audits and logs.
	Name string `yaml:"name" json:"name"`

	// Provider selects the wire adapter ("anthropic", "openai", "ollama").
	Provider string `yaml:"provider" json:"provider"`

	// URL overrides the provider's default API base URL.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Model is the provider-side model identifier.
	Model string `yaml:"model" json:"model"`

	// Temperature controls sampling randomness.
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// MaxTokens bounds the completion length.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// CostPer1K is the blended cost per 1000 tokens in USD, used for
	// estimated-cost accounting.
	CostPer1K float64 `yaml:"cost_per_1k" json:"cost_per_1k"`
}

// Message is a chat message in a completion request.
type Message struct {
	Role    string `json:"role"`    // "system" or "user"
	Content string `json:"content"` // message text
}

// Prompt is a fully built generation prompt.
type Prompt struct {
	// System carries the domain and tenant instructions.
	System string

	// User carries the case facts to narrate.
	User string

	// Version identifies the prompt template that produced this prompt.
	Version string
}

// Messages renders the prompt as provider messages.
func (p Prompt) Messages() []Message {
	msgs := make([]Message, 0, 2)
	if p.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: p.System})
	}
	msgs = append(msgs, Message{Role: "user", Content: p.User})
	return msgs
}

// Size returns the prompt length in characters, for token estimation.
func (p Prompt) Size() int {
	return len(p.System) + len(p.User)
}

// Completer is the model-call contract consumed by the pipeline. Providers
// are black boxes: they may error, hang until the context deadline, or
// return malformed content.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt, model ModelConfig) (string, error)
}

// Client is an HTTP Completer over the registered providers.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates an LLM client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultCallTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends one completion request to the model's provider and returns
// the generated text. There is no retry: a failed model is the pipeline's
// cue to advance to the next candidate.
func (c *Client) Complete(ctx context.Context, prompt Prompt, model ModelConfig) (string, error) {
	provider := GetProvider(model.Provider)
	if provider == nil {
		return "", NewFatalError(fmt.Errorf("unknown provider: %s", model.Provider))
	}

	temperature := model.Temperature
	body, err := provider.BuildRequestBody(model.Model, prompt.Messages(), &temperature, model.MaxTokens)
	if err != nil {
		return "", NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	url := provider.BuildURL(model.URL)

	c.logger.Debug("Sending completion request",
		"model", model.Name,
		"provider", model.Provider,
		"url", url)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return "", NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(httpResp.StatusCode, respBody)
	}

	content, err := provider.ParseResponse(respBody)
	if err != nil {
		return "", NewTransientError(err)
	}
	return content, nil
}

// classifyHTTPError splits provider HTTP failures into transient and fatal.
// The pipeline advances past both, but the distinction drives log detail.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("provider API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		return NewTransientError(err)
	default:
		// Auth and bad-request errors, and anything unrecognized, are
		// permanent for this call.
		return NewFatalError(err)
	}
}
