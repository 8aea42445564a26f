package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestStartRunAndIterations(t *testing.T) {
	h := openTestHistory(t)

	runID, err := h.StartRun("session-1", "fix the build")
	require.NoError(t, err)
	require.NotZero(t, runID)

	require.NoError(t, h.RecordIteration(runID, 1, "continue"))
	require.NoError(t, h.RecordIteration(runID, 2, "completed"))

	iterations, err := h.RunIterations(runID)
	require.NoError(t, err)
	require.Len(t, iterations, 2)
	assert.Equal(t, 1, iterations[0].Iteration)
	assert.Equal(t, "continue", iterations[0].Outcome)
	assert.Equal(t, "completed", iterations[1].Outcome)
}

func TestRecentRunsNewestFirst(t *testing.T) {
	h := openTestHistory(t)

	first, err := h.StartRun("session-1", "first task")
	require.NoError(t, err)
	second, err := h.StartRun("session-1", "second task")
	require.NoError(t, err)

	runs, err := h.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, first, runs[1].ID)
	assert.Equal(t, "second task", runs[0].Prompt)
}

func TestRecentRunsLimit(t *testing.T) {
	h := openTestHistory(t)
	for i := 0; i < 5; i++ {
		_, err := h.StartRun("session-1", "task")
		require.NoError(t, err)
	}

	runs, err := h.RecentRuns(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestRunIterationsEmpty(t *testing.T) {
	h := openTestHistory(t)
	iterations, err := h.RunIterations(42)
	require.NoError(t, err)
	assert.Empty(t, iterations)
}
