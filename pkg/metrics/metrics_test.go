package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderIsolatedRegistries(t *testing.T) {
	// Two recorders in one process must not collide on registration.
	a := NewRecorder()
	b := NewRecorder()
	a.ObserveIteration("auto", "continue", time.Second)
	b.ObserveIteration("auto", "continue", time.Second)
}

func TestWriteSnapshot(t *testing.T) {
	r := NewRecorder()
	r.ObserveIteration("auto", "continue", 250*time.Millisecond)
	r.ObserveIteration("confirm", "completed", time.Second)
	r.ObserveCompletion(2)

	path := filepath.Join(t.TempDir(), "sub", "metrics.prom")
	require.NoError(t, r.WriteSnapshot(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "loopctl_iterations_total")
	assert.Contains(t, text, `outcome="completed"`)
	assert.Contains(t, text, "loopctl_completions_total 1")
	assert.Contains(t, text, "loopctl_producer_duration_seconds")
}
