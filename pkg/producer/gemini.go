package producer

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient wraps the Google GenAI client. Client construction needs a
// context, so it is deferred to the first Produce call.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGemini creates a Gemini-backed producer. An empty model selects the
// default.
func NewGemini(apiKey, model string) *GeminiClient {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
	}
}

func (c *GeminiClient) ensureClient(ctx context.Context) error {
	if c.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create gemini client: %w", err)
	}
	c.client = client
	return nil
}

// Produce sends one completion request with the preamble as the system
// instruction.
func (c *GeminiClient) Produce(ctx context.Context, prompt, preamble string) (string, error) {
	if err := c.ensureClient(ctx); err != nil {
		return "", err
	}

	temperature := float32(defaultTemperature)
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: defaultMaxTokens,
	}
	if preamble != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: preamble}},
		}
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	if result == nil {
		return "", fmt.Errorf("empty response from gemini API")
	}
	return result.Text(), nil
}
