// Package hook implements the out-of-process peer of the loop controller:
// short-lived, stateless invocations that reconstruct the loop decision
// from the persisted record on every host lifecycle event. Detection and
// budget logic come from pkg/loop, so the two lifetimes cannot drift.
package hook

import (
	"errors"
	"fmt"
	"os"

	"loopctl/pkg/logx"
	"loopctl/pkg/loop"
	"loopctl/pkg/loopfile"
	"loopctl/pkg/transcript"
)

// DefaultMaxIterations is the iteration ceiling applied when a tool
// invocation does not specify one.
const DefaultMaxIterations = 50

// graceIterations is the number of early iterations during which the
// completion check is skipped; a freshly started loop should not stop on a
// phrase left over in the transcript from before the loop began.
const graceIterations = 2

// Decision is the hook's output. A nil Decision means "allow the host to
// exit"; Block tells the host to stay alive and re-dispatch the prompt.
type Decision struct {
	Decision      string `json:"decision,omitempty"`
	Reason        string `json:"reason,omitempty"`
	SystemMessage string `json:"systemMessage,omitempty"`
}

// Hook evaluates host lifecycle events against the persisted record.
type Hook struct {
	records *loopfile.Store
	logger  *logx.Logger
}

// New creates a hook over the record store.
func New(records *loopfile.Store, logger *logx.Logger) *Hook {
	if logger == nil {
		logger = logx.NewLogger("hook")
	}
	return &Hook{records: records, logger: logger}
}

// HandleInvoke processes a tool-invocation event. A payload without a task
// prompt is not a loop invocation and is ignored; an already-active loop
// is left untouched (at most one record may exist).
func (h *Hook) HandleInvoke(payload []byte) error {
	params, err := parseInvoke(payload, DefaultMaxIterations, loop.DefaultPromise)
	if err != nil {
		return err
	}
	if params.Prompt == "" {
		h.logger.Debug("invocation carries no task prompt, ignoring")
		return nil
	}
	if h.records.Exists() {
		h.logger.Warn("loop already active, refusing to start another")
		return nil
	}

	record := &loopfile.Record{
		Iteration:     1,
		MaxIterations: params.MaxIterations,
		Promise:       params.Promise,
		Prompt:        params.Prompt,
	}
	if err := h.records.Save(record); err != nil {
		return fmt.Errorf("failed to start loop: %w", err)
	}
	h.logger.Info("loop started: max_iterations=%d promise=%q", params.MaxIterations, params.Promise)
	return nil
}

// HandlePromptUpdate rewrites the stored task prompt when a new human
// input arrives while a loop is active. The header counters are preserved
// untouched.
func (h *Hook) HandlePromptUpdate(payload []byte) error {
	if !h.records.Exists() {
		return nil
	}
	prompt := parsePrompt(payload)
	if prompt == "" {
		return nil
	}

	record, err := h.records.Load()
	if err != nil {
		return h.failOpen(err)
	}
	record.Prompt = prompt
	if err := h.records.Save(record); err != nil {
		return fmt.Errorf("failed to update loop prompt: %w", err)
	}
	h.logger.Info("loop prompt updated at iteration %d", record.Iteration)
	return nil
}

// HandleStop decides whether the host may exit. Returns nil to allow the
// exit, or a block Decision carrying the stored prompt and counters.
func (h *Hook) HandleStop(payload []byte) (*Decision, error) {
	if !h.records.Exists() {
		return nil, nil
	}

	record, err := h.records.Load()
	if err != nil {
		// Unparseable state must never block the host's exit.
		return nil, h.failOpen(err)
	}

	if record.MaxIterations > 0 && record.Iteration >= record.MaxIterations {
		h.logger.Info("iteration budget exhausted (%d/%d), stopping loop", record.Iteration, record.MaxIterations)
		return nil, h.records.Delete()
	}

	if record.Iteration > graceIterations {
		if path := parseTranscriptPath(payload); path != "" {
			tail, tailErr := transcript.Tail(path)
			if tailErr != nil {
				// No transcript means no completion detected; fall
				// through to the budget decision.
				h.logger.Debug("transcript unavailable: %v", tailErr)
			} else if loop.Detect(tail, record.Promise) {
				h.logger.Info("completion phrase detected at iteration %d, stopping loop", record.Iteration)
				return nil, h.records.Delete()
			}
		}
	}

	record.Iteration++
	if err := h.records.Save(record); err != nil {
		return nil, fmt.Errorf("failed to advance loop record: %w", err)
	}

	reason := fmt.Sprintf("%s\n\nTask:\n%s",
		loop.RenderPreamble(record.Iteration, record.MaxIterations, record.Promise),
		record.Prompt)

	return &Decision{
		Decision:      "block",
		Reason:        reason,
		SystemMessage: fmt.Sprintf("loopctl: continuing, iteration %d/%d", record.Iteration, record.MaxIterations),
	}, nil
}

// failOpen deletes an unusable record and swallows the original error so
// the host can exit; only the cleanup error propagates.
func (h *Hook) failOpen(cause error) error {
	var corrupt *loopfile.ErrCorrupt
	switch {
	case errors.As(cause, &corrupt):
		h.logger.Warn("deleting corrupt loop record: %v", cause)
	case errors.Is(cause, os.ErrNotExist):
		return nil
	default:
		h.logger.Warn("deleting unreadable loop record: %v", cause)
	}
	return h.records.Delete()
}
