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

// probeTimeout bounds the liveness check so a dead local server fails fast
// as a timeout instead of hanging for the full tier timeout.
const probeTimeout = 2 * time.Second

// LocalInvoker talks to a locally reachable OpenAI-compatible model server
// (LM Studio, Ollama's compat endpoint, vLLM and similar).
type LocalInvoker struct {
	baseURL    string
	httpClient *http.Client
}

// chatRequest is the OpenAI-compatible chat completion request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// chatMessage represents a chat message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the OpenAI-compatible chat completion response.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// modelsResponse is the OpenAI-compatible model listing response.
type modelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// NewLocalInvoker creates an invoker for a local model server.
func NewLocalInvoker(baseURL string) (*LocalInvoker, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("local base URL is required")
	}

	return &LocalInvoker{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}, nil
}

// Name returns the invoker identifier.
func (l *LocalInvoker) Name() string {
	return "local"
}

// Alive probes the local server's model listing endpoint with a short
// deadline. Used both before real calls and for constrained-mode admission.
func (l *LocalInvoker) Alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", l.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// ListModels queries the server's available models.
func (l *LocalInvoker) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", l.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local model listing failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local model listing returned status %d", resp.StatusCode)
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse model listing: %w", err)
	}

	models := make([]Model, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, Model{
			ID:       m.ID,
			Metadata: map[string]string{"owned_by": m.OwnedBy},
		})
	}
	return models, nil
}

// Invoke sends a prompt to the local server. A failed liveness probe is
// reported as a timeout so a dead server fails fast.
func (l *LocalInvoker) Invoke(ctx context.Context, model, prompt string, timeout time.Duration) Result {
	if !l.Alive(ctx) {
		return Timeout("local: liveness probe failed")
	}

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
		return ProtocolError(fmt.Sprintf("local: failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return ProtocolError(fmt.Sprintf("local: failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return resultFromErr("local", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resultFromErr("local", err)
	}

	if resp.StatusCode != http.StatusOK {
		return ProtocolError(fmt.Sprintf("local: status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ProtocolError(fmt.Sprintf("local: failed to parse response: %v", err))
	}
	if parsed.Error != nil {
		return ProtocolError(fmt.Sprintf("local: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return ProtocolError("local: no choices returned")
	}

	content := parsed.Choices[0].Message.Content
	return OK(content, EstimateConfidence(content))
}
