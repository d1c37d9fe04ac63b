package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
)

// AnthropicClient talks to the Anthropic messages API.
type AnthropicClient struct {
	baseURL   string
	apiKey    string
	maxTokens int
	client    *http.Client
}

func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicClient{
		baseURL:   baseURL,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{Timeout: normalizedTimeout(cfg.Timeout)},
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultAnthropicModel
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		System:    req.System,
		MaxTokens: normalizedMaxTokens(req.MaxTokens, c.maxTokens),
		Messages:  []anthropicMessage{{Role: "user", Content: req.User}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal messages payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build messages request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read messages response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError("messages", resp.StatusCode, rawRespBody)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode messages response: %w", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("messages response has no text content")
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}
