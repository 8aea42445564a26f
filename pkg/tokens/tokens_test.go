package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewCounter()
	require.NoError(t, err)

	assert.Equal(t, 0, counter.CountTokens(""))
	assert.Greater(t, counter.CountTokens("hello world"), 0)

	long := strings.Repeat("the quick brown fox ", 100)
	short := "the quick brown fox"
	assert.Greater(t, counter.CountTokens(long), counter.CountTokens(short))
}

func TestCountTokensFallback(t *testing.T) {
	// A zero-value counter has no codec and estimates by characters.
	var counter Counter
	assert.Equal(t, 5, counter.CountTokens(strings.Repeat("a", 20)))
}

func TestFitsLimit(t *testing.T) {
	counter, err := NewCounter()
	require.NoError(t, err)

	assert.True(t, counter.FitsLimit("short", 100))
	assert.False(t, counter.FitsLimit(strings.Repeat("word ", 1000), 10))
}
