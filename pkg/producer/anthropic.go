package producer

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient wraps the Anthropic API client. It is the default
// producer and supports liveness probes.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic creates an Anthropic-backed producer. An empty model
// selects the default.
func NewAnthropic(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Produce sends one completion request and returns the concatenated text
// blocks of the response.
func (c *AnthropicClient) Produce(ctx context.Context, prompt, preamble string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)},
			},
		},
		Temperature: anthropic.Float(defaultTemperature),
	}
	if preamble != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: preamble,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from anthropic API")
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	return text, nil
}

// Ping issues a minimal one-token request so the watchdog can tell a slow
// completion from an unreachable provider.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	_, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock("ping")},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("anthropic ping failed: %w", err)
	}
	return nil
}
