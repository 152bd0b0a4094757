package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic adapts the Claude Messages API.
type Anthropic struct {
	spec    ModelSpec
	timeout time.Duration
	client  *anthropic.Client
}

// NewAnthropic creates the adapter. The client is only built when a key is
// set. SDK retries are disabled; the next session is the retry.
func NewAnthropic(spec ModelSpec, timeout time.Duration) *Anthropic {
	p := &Anthropic{spec: spec, timeout: timeout}
	if strings.TrimSpace(spec.APIKey) != "" {
		opts := []option.RequestOption{
			option.WithAPIKey(spec.APIKey),
			option.WithMaxRetries(0),
		}
		if spec.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(spec.BaseURL))
		}
		client := anthropic.NewClient(opts...)
		p.client = &client
	}
	return p
}

func (p *Anthropic) ID() string      { return p.spec.ID }
func (p *Anthropic) Available() bool { return p.client != nil }

func (p *Anthropic) Chat(ctx context.Context, system, user string) Response {
	if !p.Available() {
		return missingCredential(p.spec.ID)
	}
	return invoke(ctx, p.spec.ID, p.timeout, func(ctx context.Context) (string, int, error) {
		req := anthropic.MessageNewParams{
			Model:     anthropic.Model(p.spec.Model),
			MaxTokens: int64(p.spec.maxTokens()),
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		}
		if p.spec.Temperature > 0 {
			req.Temperature = anthropic.Float(float64(p.spec.Temperature))
		}

		message, err := p.client.Messages.New(ctx, req)
		if err != nil {
			return "", 0, fmt.Errorf("anthropic api error: %w", err)
		}
		tokens := int(message.Usage.InputTokens + message.Usage.OutputTokens)

		var text strings.Builder
		for _, block := range message.Content {
			text.WriteString(block.Text)
		}
		return text.String(), tokens, nil
	})
}
