// Package model wraps the external text-generation service behind a small
// Generator interface. Consistency sampling, verifier passes, and
// shadow-state classification all go through it.
package model

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// #region types

// SamplingParams controls one generation call.
type SamplingParams struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
	Stop        []string
}

// Generator is the model-invocation collaborator.
type Generator interface {
	Generate(ctx context.Context, prompt string, params SamplingParams) (string, error)
}

// #endregion types

// #region client

// OpenAIClient calls any OpenAI-compatible chat-completion endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client. baseURL may be empty for the default
// endpoint; model must name a chat model served by it.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// #endregion client

// #region generate

// Generate sends a single-turn prompt and returns the raw text.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, params SamplingParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature > 0 {
		req.Temperature = params.Temperature
	}
	if params.TopP > 0 {
		req.TopP = params.TopP
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// #endregion generate
