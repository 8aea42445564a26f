// Package tokens provides tiktoken-based token counting, used to log the
// prompt cost of each loop iteration.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with a tiktoken codec. All supported providers are
// approximated with GPT-4 encoding, which is close enough for logging and
// budget hints.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a token counter.
func NewCounter() (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &Counter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text. On codec failure it
// falls back to a character-based estimate (4 chars per token).
func (c *Counter) CountTokens(text string) int {
	if c.codec == nil {
		return len(text) / 4
	}
	count, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// FitsLimit reports whether text stays within limit tokens.
func (c *Counter) FitsLimit(text string, limit int) bool {
	return c.CountTokens(text) <= limit
}
