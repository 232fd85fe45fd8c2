// Package llm wraps the single external capability the service depends on:
// send prompt text, get completion text. On top of that it provides
// structured decoding with a bounded repair loop.
package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// systemPrompt pins the model to machine-parseable output for every call.
const systemPrompt = "You are a precise AI assistant. Always respond with valid JSON only, no markdown formatting."

// maxTemperature caps sampling randomness to keep run-to-run variance low.
const maxTemperature = 0.3

// DefaultMaxAttempts is the structured-decode attempt bound used when the
// caller leaves MaxAttempts unset.
const DefaultMaxAttempts = 3

// Completer is the entire outbound LLM contract. A scripted implementation
// substitutes for the real client in tests.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds LLM client settings, passed in explicitly so the core stays
// testable without environment setup.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float32       // clamped to 0.3
	RequestTimeout time.Duration // per attempt; zero means no timeout
	MaxAttempts    int           // structured-decode attempts, default 3
}

// Client wraps an OpenAI-compatible API endpoint (OpenAI, Groq, Ollama).
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewClient creates a new LLM client from the given config.
func NewClient(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	temp := cfg.Temperature
	if temp <= 0 || temp > maxTemperature {
		temp = maxTemperature
	}
	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		temperature: temp,
		timeout:     cfg.RequestTimeout,
	}
}

// Complete sends one prompt and returns the raw completion text. The
// configured request timeout applies to this single attempt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping verifies the endpoint is reachable and the credentials work.
func (c *Client) Ping(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}
