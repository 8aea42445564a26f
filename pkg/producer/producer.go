// Package producer provides provider-backed implementations of the loop's
// Producer interface. Each client sends the preamble as the system prompt
// and the task prompt as a single user turn, returning the raw completion
// text. Tool use and streaming are not exposed here; the loop executes
// commands itself.
package producer

import "context"

// Request limits shared by all providers.
const (
	defaultMaxTokens   = 8192
	defaultTemperature = 0.2
)

// Default models per provider.
const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultOpenAIModel    = "gpt-5"
	DefaultOllamaModel    = "qwen2.5-coder"
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultOllamaHost     = "http://localhost:11434"
)

// Pinger is implemented by clients that support cheap liveness probes.
// The shell's health watchdog uses it to detect a stalled provider; the
// caller bounds each probe with a context deadline.
type Pinger interface {
	Ping(ctx context.Context) error
}
