package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAI adapts OpenAI and every OpenAI-compatible chat completions API
// (DeepSeek, Qwen via DashScope, Moonshot, Zhipu) by swapping the base URL.
type OpenAI struct {
	spec    ModelSpec
	timeout time.Duration
	client  *openai.Client
}

// NewOpenAI creates the adapter. The client is only built when a key is set.
func NewOpenAI(spec ModelSpec, timeout time.Duration) *OpenAI {
	p := &OpenAI{spec: spec, timeout: timeout}
	if strings.TrimSpace(spec.APIKey) != "" {
		cfg := openai.DefaultConfig(spec.APIKey)
		if spec.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(spec.BaseURL, "/")
		}
		p.client = openai.NewClientWithConfig(cfg)
	}
	return p
}

func (p *OpenAI) ID() string      { return p.spec.ID }
func (p *OpenAI) Available() bool { return p.client != nil }

func (p *OpenAI) Chat(ctx context.Context, system, user string) Response {
	if !p.Available() {
		return missingCredential(p.spec.ID)
	}
	return invoke(ctx, p.spec.ID, p.timeout, func(ctx context.Context) (string, int, error) {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       p.spec.Model,
			MaxTokens:   p.spec.maxTokens(),
			Temperature: p.spec.Temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return "", 0, fmt.Errorf("openai api error: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", resp.Usage.TotalTokens, ErrEmptyResponse
		}
		return resp.Choices[0].Message.Content, resp.Usage.TotalTokens, nil
	})
}
