package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
)

// OpenAIInvoker implements the Invoker interface for OpenAI models.
type OpenAIInvoker struct {
	client openai.Client
}

// NewOpenAIInvoker creates a new OpenAI invoker.
func NewOpenAIInvoker(apiKey string) (*OpenAIInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	client := openai.NewClient()
	return &OpenAIInvoker{client: client}, nil
}

// Name returns the invoker identifier.
func (o *OpenAIInvoker) Name() string {
	return "openai"
}

// Invoke sends a prompt to OpenAI and reports the outcome.
func (o *OpenAIInvoker) Invoke(ctx context.Context, model, prompt string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(4096),
	})
	if err != nil {
		return resultFromErr("openai", err)
	}

	if len(resp.Choices) == 0 {
		return ProtocolError("openai: no choices returned")
	}

	content := resp.Choices[0].Message.Content
	return OK(content, EstimateConfidence(content))
}
