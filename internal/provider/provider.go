// Package provider is the gateway to the external reasoning backends. Every
// backend is wrapped in an adapter with the same two-method contract, and a
// Registry resolves model IDs to lazily built, cached adapters.
//
// Adapters never return Go errors: a missing credential, a non-2xx response,
// a network failure or a timeout all come back as Response{Success: false}.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/arena-engine/internal/metrics"
)

var (
	// ErrMissingCredential is reported when a backend has no API key.
	ErrMissingCredential = errors.New("provider: missing credential")

	// ErrUnknownModel is returned by the registry for an unregistered model ID.
	ErrUnknownModel = errors.New("provider: unknown model")

	// ErrUnknownBackend is returned when a model spec names no known backend.
	ErrUnknownBackend = errors.New("provider: unknown backend")

	// ErrEmptyResponse is reported when a backend answers with no content.
	ErrEmptyResponse = errors.New("provider: empty response")
)

// DefaultTimeout bounds a single chat call when none is configured.
const DefaultTimeout = 90 * time.Second

// Response is the uniform result of one chat call.
type Response struct {
	Success    bool   `json:"success"`
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// Provider is one external reasoning backend.
type Provider interface {
	// ID is the model identifier this adapter serves.
	ID() string
	// Available reports whether credentials are present.
	Available() bool
	// Chat sends one system+user prompt pair and waits for the answer.
	Chat(ctx context.Context, system, user string) Response
}

// Backends.
const (
	BackendOpenAI    = "openai" // OpenAI and OpenAI-compatible APIs
	BackendAnthropic = "anthropic"
	BackendGemini    = "gemini"
)

// ModelSpec describes one model in the catalog.
type ModelSpec struct {
	ID          string  `yaml:"id" json:"id"`
	DisplayName string  `yaml:"display_name" json:"display_name"`
	Backend     string  `yaml:"backend" json:"backend"`
	Model       string  `yaml:"model" json:"model"` // upstream model name
	BaseURL     string  `yaml:"base_url" json:"base_url,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env" json:"api_key_env,omitempty"`
	APIKey      string  `yaml:"-" json:"-"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens,omitempty"`
	Temperature float32 `yaml:"temperature" json:"temperature,omitempty"`
}

const defaultMaxTokens = 4096

func (s ModelSpec) maxTokens() int {
	if s.MaxTokens > 0 {
		return s.MaxTokens
	}
	return defaultMaxTokens
}

// New builds the adapter for spec. A spec without a key still yields an
// adapter; it reports Available() == false and fails every call.
func New(spec ModelSpec, timeout time.Duration) (Provider, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch spec.Backend {
	case BackendOpenAI:
		return NewOpenAI(spec, timeout), nil
	case BackendAnthropic:
		return NewAnthropic(spec, timeout), nil
	case BackendGemini:
		return NewGemini(spec, timeout, nil), nil
	}
	return nil, fmt.Errorf("%w: %q for model %s", ErrUnknownBackend, spec.Backend, spec.ID)
}

// chatFunc performs the backend-specific request and returns the content
// and total tokens used.
type chatFunc func(ctx context.Context) (string, int, error)

// invoke runs fn under a per-call deadline and converts the outcome into a
// Response, recording metrics on the way.
func invoke(ctx context.Context, id string, timeout time.Duration, fn chatFunc) Response {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	content, tokens, err := fn(ctx)
	latency := time.Since(start)

	metrics.ProviderLatency.WithLabelValues(id).Observe(latency.Seconds())
	resp := Response{
		Content:    content,
		TokensUsed: tokens,
		LatencyMs:  latency.Milliseconds(),
	}
	if err == nil && content == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		resp.Error = err.Error()
		metrics.ProviderCalls.WithLabelValues(id, "error").Inc()
		slog.Warn("provider call failed", "model", id, "latency_ms", resp.LatencyMs, "err", err)
		return resp
	}

	resp.Success = true
	metrics.ProviderCalls.WithLabelValues(id, "ok").Inc()
	metrics.TokensUsed.WithLabelValues(id).Add(float64(tokens))
	slog.Info("provider call completed", "model", id, "latency_ms", resp.LatencyMs, "tokens", tokens)
	return resp
}

func missingCredential(id string) Response {
	metrics.ProviderCalls.WithLabelValues(id, "unavailable").Inc()
	return Response{Error: fmt.Sprintf("%v for %s", ErrMissingCredential, id)}
}
