// Package nl2sql is the text-generation capability behind the assistant:
// given a system prompt and user text it returns the model's literal reply.
package nl2sql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type CompletionRequest struct {
	System    string
	User      string
	Model     string
	MaxTokens int
}

// Completer returns the raw completion text. Implementations make exactly
// one upstream call and do not retry.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ModelRegistry maps assistant roles to model names.
type ModelRegistry struct {
	SQL               string `yaml:"sql"`
	ReasoningFallback string `yaml:"reasoning_fallback"`
}

// Merge fills empty entries of r from other.
func (r ModelRegistry) Merge(other ModelRegistry) ModelRegistry {
	if strings.TrimSpace(r.SQL) == "" {
		r.SQL = other.SQL
	}
	if strings.TrimSpace(r.ReasoningFallback) == "" {
		r.ReasoningFallback = other.ReasoningFallback
	}
	return r
}

type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func NewClient(cfg Config) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		return NewOpenAIClient(cfg)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unknown model provider %q (supported: openai, anthropic)", cfg.Provider)
	}
}

func normalizedTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 60 * time.Second
	}
	return timeout
}

func normalizedMaxTokens(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	if fallback > 0 {
		return fallback
	}
	return 1024
}

const maxErrorMessageLen = 200

// apiErrorResponse is the error envelope both providers use.
type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusError describes a failed provider call using only the provider's
// error message. The raw body is never included.
func statusError(operation string, status int, body []byte) error {
	var parsed apiErrorResponse
	if json.Unmarshal(body, &parsed) != nil || parsed.Error.Message == "" {
		return fmt.Errorf("%s failed status=%d", operation, status)
	}
	message := parsed.Error.Message
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen] + "..."
	}
	return fmt.Errorf("%s failed status=%d: %s", operation, status, message)
}
