package backend

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GoogleInvoker implements the Invoker interface for Gemini models.
type GoogleInvoker struct {
	client *genai.Client
}

// NewGoogleInvoker creates a new Google Gemini invoker.
func NewGoogleInvoker(apiKey string) (*GoogleInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleInvoker{client: client}, nil
}

// Name returns the invoker identifier.
func (g *GoogleInvoker) Name() string {
	return "google"
}

// Invoke sends a prompt to Gemini and reports the outcome.
func (g *GoogleInvoker) Invoke(ctx context.Context, model, prompt string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return resultFromErr("google", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return ProtocolError("google: no candidates returned")
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	return OK(content, EstimateConfidence(content))
}
