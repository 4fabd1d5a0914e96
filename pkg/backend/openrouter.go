package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterInvoker implements the Invoker interface for models behind the
// OpenRouter aggregator, which speaks the OpenAI-compatible API format.
type OpenRouterInvoker struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenRouterInvoker creates a new OpenRouter invoker.
func NewOpenRouterInvoker(apiKey string) (*OpenRouterInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}

	return &OpenRouterInvoker{
		apiKey:     apiKey,
		baseURL:    openRouterBaseURL,
		httpClient: &http.Client{},
	}, nil
}

// Name returns the invoker identifier.
func (o *OpenRouterInvoker) Name() string {
	return "openrouter"
}

// Invoke sends a prompt through OpenRouter and reports the outcome.
// Rate-limit and payment-required statuses become zero-confidence protocol
// results so the ladder moves on without tripping the tier's breaker.
func (o *OpenRouterInvoker) Invoke(ctx context.Context, model, prompt string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens: 4096,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return ProtocolError(fmt.Sprintf("openrouter: failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return ProtocolError(fmt.Sprintf("openrouter: failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return resultFromErr("openrouter", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resultFromErr("openrouter", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return ProtocolError("openrouter: rate limited")
	case http.StatusPaymentRequired:
		return ProtocolError("openrouter: payment required")
	default:
		return ProtocolError(fmt.Sprintf("openrouter: status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ProtocolError(fmt.Sprintf("openrouter: failed to parse response: %v", err))
	}
	if parsed.Error != nil {
		return ProtocolError(fmt.Sprintf("openrouter: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return ProtocolError("openrouter: no choices returned")
	}

	content := parsed.Choices[0].Message.Content
	return OK(content, EstimateConfidence(content))
}
