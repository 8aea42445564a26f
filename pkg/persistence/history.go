// Package persistence provides SQLite-based run history. Every submitted
// prompt becomes a run row; every loop iteration appends an iteration row,
// so past sessions can be inspected after the fact.
package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"loopctl/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS iterations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	iteration INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id);
`

// History stores run and iteration records in a SQLite database.
type History struct {
	db     *sql.DB
	logger *logx.Logger
}

// Run is a persisted top-level prompt submission.
type Run struct {
	ID        int64
	SessionID string
	Prompt    string
	StartedAt time.Time
}

// Iteration is one persisted loop step.
type Iteration struct {
	ID        int64
	RunID     int64
	Iteration int
	Outcome   string
}

// Open opens (creating if needed) the history database at path.
func Open(path string, logger *logx.Logger) (*History, error) {
	if logger == nil {
		logger = logx.NewLogger("persistence")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &History{db: db, logger: logger}, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// StartRun records a new top-level prompt and returns its run ID.
func (h *History) StartRun(sessionID, prompt string) (int64, error) {
	result, err := h.db.Exec(
		`INSERT INTO runs (session_id, prompt) VALUES (?, ?)`,
		sessionID, prompt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

// RecordIteration appends one iteration outcome to a run.
func (h *History) RecordIteration(runID int64, iteration int, outcome string) error {
	_, err := h.db.Exec(
		`INSERT INTO iterations (run_id, iteration, outcome) VALUES (?, ?, ?)`,
		runID, iteration, outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to insert iteration: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (h *History) RecentRuns(limit int) ([]Run, error) {
	rows, err := h.db.Query(
		`SELECT id, session_id, prompt, started_at FROM runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Prompt, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// RunIterations returns a run's iterations in order.
func (h *History) RunIterations(runID int64) ([]Iteration, error) {
	rows, err := h.db.Query(
		`SELECT id, run_id, iteration, outcome FROM iterations WHERE run_id = ? ORDER BY iteration`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var iterations []Iteration
	for rows.Next() {
		var it Iteration
		if err := rows.Scan(&it.ID, &it.RunID, &it.Iteration, &it.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		iterations = append(iterations, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate iterations: %w", err)
	}
	return iterations, nil
}
