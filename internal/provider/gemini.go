package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Gemini adapts the Gemini API through the genai SDK.
type Gemini struct {
	spec       ModelSpec
	timeout    time.Duration
	httpClient *http.Client
}

// NewGemini creates the adapter. A nil client uses the SDK default. An empty
// spec.BaseURL targets the public Gemini endpoint.
func NewGemini(spec ModelSpec, timeout time.Duration, httpClient *http.Client) *Gemini {
	return &Gemini{spec: spec, timeout: timeout, httpClient: httpClient}
}

func (p *Gemini) ID() string      { return p.spec.ID }
func (p *Gemini) Available() bool { return strings.TrimSpace(p.spec.APIKey) != "" }

func (p *Gemini) Chat(ctx context.Context, system, user string) Response {
	if !p.Available() {
		return missingCredential(p.spec.ID)
	}
	return invoke(ctx, p.spec.ID, p.timeout, func(ctx context.Context) (string, int, error) {
		return p.generate(ctx, system, user)
	})
}

func (p *Gemini) client(ctx context.Context) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:     p.spec.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if base := strings.TrimSpace(p.spec.BaseURL); base != "" {
		cfg.HTTPOptions.BaseURL = strings.TrimRight(base, "/") + "/"
	}
	return genai.NewClient(ctx, cfg)
}

func (p *Gemini) generate(ctx context.Context, system, user string) (string, int, error) {
	client, err := p.client(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("gemini client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   int32(p.spec.maxTokens()),
	}
	if p.spec.Temperature > 0 {
		cfg.Temperature = genai.Ptr(p.spec.Temperature)
	}

	resp, err := client.Models.GenerateContent(ctx, p.spec.Model, genai.Text(user), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", 0, fmt.Errorf("gemini status %d: %s", apiErr.Code, strings.TrimSpace(apiErr.Message))
		}
		return "", 0, fmt.Errorf("gemini request failed: %w", err)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 {
		return "", tokens, ErrEmptyResponse
	}
	return resp.Text(), tokens, nil
}
