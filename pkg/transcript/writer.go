package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"loopctl/pkg/loop"
)

// Writer appends JSONL transcript records in the same shape Tail reads, so
// an interactive session leaves behind a transcript the exit hook's
// completion check can scan.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// NewWriter opens (creating if needed) a transcript file for appending.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	return &Writer{file: file}, nil
}

// Append writes one text record and flushes it to disk, so a crash never
// loses the line the exit hook would need.
func (w *Writer) Append(text string) error {
	rec := record{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	rec.Message.Content = []contentBlock{{Type: "text", Text: text}}

	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to serialize transcript record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write transcript record: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync transcript file: %w", err)
	}
	return nil
}

// Close closes the transcript file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// WrapExecutor decorates an executor so every command's output is appended
// to the transcript. Write failures are reported through the returned
// executor's error only when the command itself succeeded.
func WrapExecutor(inner loop.Executor, w *Writer) loop.Executor {
	return &teeExecutor{inner: inner, writer: w}
}

type teeExecutor struct {
	inner  loop.Executor
	writer *Writer
}

func (t *teeExecutor) Execute(ctx context.Context, action, preamble string) (string, error) {
	out, err := t.inner.Execute(ctx, action, preamble)
	if err != nil {
		return out, err
	}
	if writeErr := t.writer.Append(out); writeErr != nil {
		return out, writeErr
	}
	return out, nil
}
