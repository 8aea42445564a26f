package producer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaClient talks to a local Ollama runtime, for running the loop
// against open-source models without an API key.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllama creates an Ollama-backed producer. Empty hostURL and model
// select the defaults.
func NewOllama(hostURL, model string) *OllamaClient {
	if hostURL == "" {
		hostURL = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		parsedURL, _ = url.Parse(DefaultOllamaHost)
	}
	return &OllamaClient{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}
}

// Produce sends one non-streaming chat request.
func (c *OllamaClient) Produce(ctx context.Context, prompt, preamble string) (string, error) {
	var messages []api.Message
	if preamble != "" {
		messages = append(messages, api.Message{Role: "system", Content: preamble})
	}
	messages = append(messages, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": defaultTemperature,
			"num_predict": defaultMaxTokens,
		},
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama completion failed: %w", err)
	}
	return response.Message.Content, nil
}

// Ping checks that the Ollama server is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	if err := c.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama ping failed: %w", err)
	}
	return nil
}
