package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaClient calls a local Ollama server's non-streaming generate API.
type OllamaClient struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	baseURL := normalizeBaseURL(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	return &OllamaClient{
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: clientTimeout(cfg.Timeout)},
	}, nil
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	payload := ollamaGenerateRequest{Model: c.model, Prompt: prompt, Stream: false}
	if c.temperature > 0 {
		payload.Options = map[string]any{"temperature": c.temperature}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", unavailable("request generate: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", unavailable("read generate response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", unavailable("generate failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", unavailable("decode generate response: %v", err)
	}
	text := strings.TrimSpace(parsed.Response)
	if text == "" {
		return "", unavailable("model returned an empty response")
	}
	return text, nil
}

// Ping lists local models, which answers quickly without loading one.
func (c *OllamaClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build tags request: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return unavailable("request tags: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return unavailable("tags status=%d", resp.StatusCode)
	}
	return nil
}
