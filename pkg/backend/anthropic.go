package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicInvoker implements the Invoker interface for Claude models.
type AnthropicInvoker struct {
	client anthropic.Client
}

// NewAnthropicInvoker creates a new Anthropic invoker.
func NewAnthropicInvoker(apiKey string) (*AnthropicInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient()
	return &AnthropicInvoker{client: client}, nil
}

// Name returns the invoker identifier.
func (a *AnthropicInvoker) Name() string {
	return "anthropic"
}

// Invoke sends a prompt to Claude and reports the outcome.
func (a *AnthropicInvoker) Invoke(ctx context.Context, model, prompt string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return resultFromErr("anthropic", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return OK(content, EstimateConfidence(content))
}
