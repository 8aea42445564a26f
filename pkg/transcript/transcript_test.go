package transcript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTailMissingFile(t *testing.T) {
	_, err := Tail(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}

func TestTailEmptyFile(t *testing.T) {
	path := writeTranscript(t)
	tail, err := Tail(path)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func TestTailReturnsLastRecordText(t *testing.T) {
	path := writeTranscript(t,
		`{"message":{"content":[{"type":"text","text":"first turn"}]}}`,
		`{"message":{"content":[{"type":"text","text":"working"},{"type":"text","text":"<promise>DONE</promise>"}]}}`,
	)

	tail, err := Tail(path)
	require.NoError(t, err)
	assert.Equal(t, "working\n<promise>DONE</promise>", tail)
}

func TestTailSkipsTrailingBlankLines(t *testing.T) {
	path := writeTranscript(t,
		`{"message":{"content":[{"type":"text","text":"last"}]}}`,
		"",
		"   ",
	)

	tail, err := Tail(path)
	require.NoError(t, err)
	assert.Equal(t, "last", tail)
}

func TestTailFallsBackToRawLine(t *testing.T) {
	path := writeTranscript(t, "plain text with <promise>DONE</promise>")

	tail, err := Tail(path)
	require.NoError(t, err)
	assert.Equal(t, "plain text with <promise>DONE</promise>", tail)
}

func TestTailFallsBackWhenNoTextBlocks(t *testing.T) {
	line := `{"message":{"content":[{"type":"tool_use"}]}}`
	path := writeTranscript(t, line)

	tail, err := Tail(path)
	require.NoError(t, err)
	assert.Equal(t, line, tail)
}
