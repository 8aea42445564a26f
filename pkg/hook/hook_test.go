package hook

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loopctl/pkg/loopfile"
)

func newTestHook(t *testing.T) (*Hook, *loopfile.Store) {
	t.Helper()
	store := loopfile.NewStore(filepath.Join(t.TempDir(), "loop.md"))
	return New(store, nil), store
}

func saveRecord(t *testing.T, store *loopfile.Store, iteration, max int, promise, prompt string) {
	t.Helper()
	require.NoError(t, store.Save(&loopfile.Record{
		Iteration:     iteration,
		MaxIterations: max,
		Promise:       promise,
		Prompt:        prompt,
	}))
}

func writeTranscript(t *testing.T, lastText string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	line := fmt.Sprintf(`{"message":{"content":[{"type":"text","text":%q}]}}`, lastText)
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o644))
	return path
}

func stopPayload(transcriptPath string) []byte {
	return []byte(fmt.Sprintf(`{"session_id":"abc","transcript_path":%q}`, transcriptPath))
}

func TestHandleInvokeStartsLoop(t *testing.T) {
	h, store := newTestHook(t)

	err := h.HandleInvoke([]byte(`{"prompt":"ship the feature","max_iterations":5,"completion_promise":"DONE"}`))
	require.NoError(t, err)

	record, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, record.Iteration)
	assert.Equal(t, 5, record.MaxIterations)
	assert.Equal(t, "DONE", record.Promise)
	assert.Equal(t, "ship the feature", record.Prompt)
}

func TestHandleInvokeDefaults(t *testing.T) {
	h, store := newTestHook(t)

	require.NoError(t, h.HandleInvoke([]byte(`{"prompt":"just a task"}`)))

	record, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, record.MaxIterations)
	assert.NotEmpty(t, record.Promise)
}

func TestHandleInvokeEmptyPromptIsNoop(t *testing.T) {
	h, store := newTestHook(t)
	require.NoError(t, h.HandleInvoke([]byte(`{"max_iterations":5}`)))
	assert.False(t, store.Exists())
}

func TestHandleInvokeMutualExclusion(t *testing.T) {
	h, store := newTestHook(t)
	saveRecord(t, store, 3, 5, "DONE", "original task")

	require.NoError(t, h.HandleInvoke([]byte(`{"prompt":"second loop"}`)))

	record, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "original task", record.Prompt, "existing loop must not be replaced")
	assert.Equal(t, 3, record.Iteration)
}

func TestHandleInvokeNestedToolInput(t *testing.T) {
	h, store := newTestHook(t)

	payload := `{"tool_name":"loop","tool_input":{"prompt":"nested task","max_iterations":"7"}}`
	require.NoError(t, h.HandleInvoke([]byte(payload)))

	record, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "nested task", record.Prompt)
	assert.Equal(t, 7, record.MaxIterations, "quoted integers are accepted")
}

func TestHandleInvokeStripsANSI(t *testing.T) {
	h, store := newTestHook(t)

	require.NoError(t, h.HandleInvoke([]byte(`{"prompt":"\u001b[32mgreen task\u001b[0m"}`)))

	record, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "green task", record.Prompt)
}

func TestHandlePromptUpdate(t *testing.T) {
	h, store := newTestHook(t)
	saveRecord(t, store, 4, 10, "DONE", "old task")

	require.NoError(t, h.HandlePromptUpdate([]byte(`{"prompt":"refined task"}`)))

	record, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "refined task", record.Prompt)
	assert.Equal(t, 4, record.Iteration, "counters preserved")
	assert.Equal(t, 10, record.MaxIterations)
}

func TestHandlePromptUpdateWithoutLoop(t *testing.T) {
	h, store := newTestHook(t)
	require.NoError(t, h.HandlePromptUpdate([]byte(`{"prompt":"orphan"}`)))
	assert.False(t, store.Exists())
}

func TestHandleStopNoRecordAllowsExit(t *testing.T) {
	h, _ := newTestHook(t)
	decision, err := h.HandleStop(stopPayload("/nonexistent"))
	require.NoError(t, err)
	assert.Nil(t, decision)
}

func TestHandleStopBlocksAndIncrements(t *testing.T) {
	// Scenario: mid-budget loop, no completion marker in the transcript.
	h, store := newTestHook(t)
	prompt := "keep polishing\nuntil done"
	saveRecord(t, store, 1, 5, "DONE", prompt)
	path := writeTranscript(t, "still working on it")

	decision, err := h.HandleStop(stopPayload(path))
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, "block", decision.Decision)
	assert.Contains(t, decision.Reason, prompt)
	assert.Contains(t, decision.Reason, "iteration 2 of 5")
	assert.Contains(t, decision.SystemMessage, "2/5")

	record, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, record.Iteration)
	assert.Equal(t, prompt, record.Prompt, "prompt body preserved verbatim")
}

func TestHandleStopBudgetExhausted(t *testing.T) {
	// At the ceiling the loop ends regardless of transcript content.
	h, store := newTestHook(t)
	saveRecord(t, store, 5, 5, "DONE", "task")
	path := writeTranscript(t, "<promise>DONE</promise>")

	decision, err := h.HandleStop(stopPayload(path))
	require.NoError(t, err)
	assert.Nil(t, decision)
	assert.False(t, store.Exists())
}

func TestHandleStopCompletionDetected(t *testing.T) {
	h, store := newTestHook(t)
	saveRecord(t, store, 3, 5, "DONE", "task")
	path := writeTranscript(t, "all finished\n<promise>DONE</promise>")

	decision, err := h.HandleStop(stopPayload(path))
	require.NoError(t, err)
	assert.Nil(t, decision)
	assert.False(t, store.Exists())
}

func TestHandleStopGraceThresholdSkipsCompletion(t *testing.T) {
	// Below the grace threshold a matching phrase is ignored and the
	// loop continues.
	h, store := newTestHook(t)
	saveRecord(t, store, 2, 5, "DONE", "task")
	path := writeTranscript(t, "<promise>DONE</promise>")

	decision, err := h.HandleStop(stopPayload(path))
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, "block", decision.Decision)

	record, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, record.Iteration)
}

func TestHandleStopUnboundedLoop(t *testing.T) {
	h, store := newTestHook(t)
	saveRecord(t, store, 100, 0, "DONE", "task")
	path := writeTranscript(t, "no marker here")

	decision, err := h.HandleStop(stopPayload(path))
	require.NoError(t, err)
	require.NotNil(t, decision, "unbounded loops only stop on completion")

	record, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 101, record.Iteration)
}

func TestHandleStopCorruptRecordFailsOpen(t *testing.T) {
	h, store := newTestHook(t)
	corrupt := "# --- loopctl state ---\niteration: NaN\nmax_iterations: 5\n# --- end loopctl state ---\n\ntask"
	require.NoError(t, os.WriteFile(store.Path(), []byte(corrupt), 0o644))

	decision, err := h.HandleStop(stopPayload("/nonexistent"))
	require.NoError(t, err)
	assert.Nil(t, decision)
	assert.False(t, store.Exists(), "corrupt record deleted")
}

func TestHandleStopMissingTranscriptContinues(t *testing.T) {
	h, store := newTestHook(t)
	saveRecord(t, store, 3, 5, "DONE", "task")

	decision, err := h.HandleStop(stopPayload(filepath.Join(t.TempDir(), "absent.jsonl")))
	require.NoError(t, err)
	require.NotNil(t, decision, "unreadable transcript means no completion detected")
}

func TestSanitizePromptGuards(t *testing.T) {
	payload := []byte(`{"prompt":"x"}`)

	assert.Equal(t, "task", sanitizePrompt("task", payload))
	assert.Empty(t, sanitizePrompt("", payload))
	assert.Empty(t, sanitizePrompt("   ", payload))

	// An extraction equal to the whole payload is a failed extraction.
	assert.Empty(t, sanitizePrompt(string(payload), payload))

	// Oversized extractions are rejected.
	huge := make([]byte, maxPromptBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	assert.Empty(t, sanitizePrompt(string(huge), payload))
}
