// Package loopfile reads and writes the persisted loop record: a small
// text file whose presence is the sole signal that a loop is active across
// host restarts. The record holds the iteration counters and completion
// phrase in a delimited header, followed by the verbatim task prompt.
package loopfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Header delimiter lines. Only the first header block is parsed, so a
// prompt body containing these lines round-trips untouched.
const (
	headerOpen  = "# --- loopctl state ---"
	headerClose = "# --- end loopctl state ---"
)

// Record is the persisted counterpart of the in-process loop state. The
// two must never disagree on termination; both apply the same detection
// and budget rules from pkg/loop.
type Record struct {
	Iteration     int
	MaxIterations int // 0 means unbounded
	Promise       string
	Prompt        string // preserved verbatim across rewrites
}

// ErrCorrupt marks a record whose counters cannot be parsed. Callers
// fail open: delete the record and allow the host to exit.
type ErrCorrupt struct {
	Field string
	Value string
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("corrupt loop record: field %s has unparseable value %q", e.Field, e.Value)
}

// Render serializes the record into its on-disk form.
func (r *Record) Render() string {
	var b strings.Builder
	b.WriteString(headerOpen + "\n")
	fmt.Fprintf(&b, "iteration: %d\n", r.Iteration)
	fmt.Fprintf(&b, "max_iterations: %d\n", r.MaxIterations)
	fmt.Fprintf(&b, "completion_promise: %q\n", r.Promise)
	b.WriteString(headerClose + "\n")
	b.WriteString("\n")
	b.WriteString(r.Prompt)
	return b.String()
}

// Parse decodes an on-disk record. Unknown header keys are ignored;
// non-integer counters return *ErrCorrupt.
func Parse(data string) (*Record, error) {
	lines := strings.Split(data, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != headerOpen {
		return nil, fmt.Errorf("missing header delimiter")
	}

	record := &Record{}
	i := 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == headerClose {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "iteration":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, &ErrCorrupt{Field: "iteration", Value: value}
			}
			record.Iteration = n
		case "max_iterations":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, &ErrCorrupt{Field: "max_iterations", Value: value}
			}
			record.MaxIterations = n
		case "completion_promise":
			if unquoted, err := strconv.Unquote(value); err == nil {
				record.Promise = unquoted
			} else {
				record.Promise = value
			}
		}
	}
	if i >= len(lines) {
		return nil, fmt.Errorf("missing closing header delimiter")
	}

	// Body starts after the delimiter and one blank separator line.
	body := i + 1
	if body < len(lines) && lines[body] == "" {
		body++
	}
	if body < len(lines) {
		record.Prompt = strings.Join(lines[body:], "\n")
	}

	return record, nil
}

// Store manages the record file at a fixed path. The file's existence acts
// as the mutual exclusion for "at most one active loop".
type Store struct {
	path string
}

// NewStore creates a store for the record at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the record file location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a loop is currently active.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and parses the record. Returns os.ErrNotExist when no loop is
// active.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read loop record: %w", err)
	}
	record, err := Parse(string(data))
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Save writes the record with an atomic-enough replace (temp file plus
// rename) so a crashed writer never leaves a half-written record.
func (s *Store) Save(record *Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".loopctl-*")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(record.Render()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write loop record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp record: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace loop record: %w", err)
	}
	return nil
}

// Delete removes the record. Deleting a record that does not exist is a
// no-op.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete loop record: %w", err)
	}
	return nil
}
