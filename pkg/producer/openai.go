package producer

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIClient wraps the official OpenAI client using the Responses API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-backed producer. An empty model selects the
// default.
func NewOpenAI(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Produce sends one completion request. The Responses API takes a single
// input string, so the preamble is folded in ahead of the prompt.
func (c *OpenAIClient) Produce(ctx context.Context, prompt, preamble string) (string, error) {
	input := prompt
	if preamble != "" {
		input = fmt.Sprintf("System: %s\n\n%s", preamble, prompt)
	}

	resp, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(defaultMaxTokens),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("empty response from openai API")
	}
	return resp.OutputText(), nil
}
