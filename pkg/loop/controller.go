package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"loopctl/pkg/logx"
)

// ExitPrompt is the reserved prompt that tells the front end to shut down.
// It is dispatched to the producer once so the backend session can wind
// down, but it is never executed and never re-enters the loop.
const ExitPrompt = "exit"

// ErrPaused is returned by Submit and Resume when an interrupt paused the
// loop before the current step could finish.
var ErrPaused = errors.New("loop paused")

// Producer generates the next action text for a prompt.
type Producer interface {
	Produce(ctx context.Context, prompt, preamble string) (string, error)
}

// Executor performs an action and returns its output.
type Executor interface {
	Execute(ctx context.Context, action, preamble string) (string, error)
}

// Gate reviews a proposed action before execution. It returns the action to
// execute (possibly rewritten by a human) and false to skip execution for
// this step; a skipped step still participates in the completion and budget
// checks with empty content.
type Gate func(action string) (string, bool)

// Mode selects whether executor calls are gated by a human.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeConfirm Mode = "confirm"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle                 State = "idle"
	StateRunning              State = "running"
	StatePaused               State = "paused"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateCompleted            State = "completed"
)

// Recorder observes loop activity. Implemented by pkg/metrics.
type Recorder interface {
	ObserveIteration(mode, outcome string, producerDuration time.Duration)
	ObserveCompletion(iteration int)
}

// HistoryStore persists run and iteration outcomes. Implemented by
// pkg/persistence.
type HistoryStore interface {
	StartRun(sessionID, prompt string) (int64, error)
	RecordIteration(runID int64, iteration int, outcome string) error
}

// TokenCounter measures token footprints. Implemented by pkg/tokens.
type TokenCounter interface {
	CountTokens(text string) int
	FitsLimit(text string, limit int) bool
}

// promptTokenWarn is the combined preamble+prompt size past which a
// warning is logged. Providers degrade well before their hard limits.
const promptTokenWarn = 32768

// Config carries the controller's collaborators and limits.
type Config struct {
	Producer      Producer
	Executor      Executor
	MaxIterations int
	Promise       string
	Mode          Mode
	SessionID     string
	Logger        *logx.Logger
	Recorder      Recorder     // optional
	History       HistoryStore // optional
	Tokens        TokenCounter // optional
	OnExit        func()       // invoked once on the terminal step
}

// Controller drives the produce/gate/execute/check cycle for one live
// producer/executor pair. All blocking happens inside Submit/Resume; Pause
// and SetMode are safe to call from other goroutines.
type Controller struct {
	cfg    Config
	logger *logx.Logger

	paused atomic.Bool

	mu            sync.Mutex
	state         State
	mode          Mode
	iteration     int
	currentPrompt string
	gate          Gate
	runID         int64
}

// NewController validates cfg and returns an idle controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Promise == "" {
		cfg.Promise = DefaultPromise
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Logger == nil {
		cfg.Logger = logx.NewLogger("loop")
	}

	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger,
		state:  StateIdle,
		mode:   cfg.Mode,
	}, nil
}

// Submit starts a new top-level run: the iteration counter resets, any
// pause is cleared, and the loop runs until completion, budget exhaustion,
// or a pause. Returns ErrPaused when interrupted.
func (c *Controller) Submit(ctx context.Context, prompt string, gate Gate) error {
	if prompt == ExitPrompt {
		// Wind-down dispatch: the counters describe the last real
		// iteration and must not reset.
		return c.terminalStep(ctx)
	}

	c.mu.Lock()
	if c.state == StateRunning || c.state == StateAwaitingConfirmation {
		c.mu.Unlock()
		return fmt.Errorf("a run is already active")
	}
	c.iteration = 0
	c.currentPrompt = prompt
	c.gate = gate
	c.runID = 0
	c.mu.Unlock()
	c.paused.Store(false)

	if c.cfg.History != nil {
		runID, err := c.cfg.History.StartRun(c.cfg.SessionID, prompt)
		if err != nil {
			c.logger.Warn("failed to record run start: %v", err)
		} else {
			c.mu.Lock()
			c.runID = runID
			c.mu.Unlock()
		}
	}

	return c.run(ctx, prompt)
}

// Resume continues a paused run with the same prompt and gate. The
// iteration counter is preserved.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	prompt := c.currentPrompt
	c.mu.Unlock()
	if prompt == "" {
		return fmt.Errorf("nothing to resume")
	}
	c.paused.Store(false)
	return c.run(ctx, prompt)
}

// Pause requests a cooperative stop. The in-flight step observes the flag
// at its next blocking boundary and abandons further side effects.
func (c *Controller) Pause() {
	c.paused.Store(true)
}

// Paused reports whether a pause has been requested.
func (c *Controller) Paused() bool {
	return c.paused.Load()
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Iteration returns the current iteration count.
func (c *Controller) Iteration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iteration
}

// Mode returns the current gating mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches between auto and confirm gating at runtime.
func (c *Controller) SetMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// MaxIterations returns the configured iteration ceiling.
func (c *Controller) MaxIterations() int {
	return c.cfg.MaxIterations
}

// SetOnExit registers fn to run after the terminal dispatch. The front
// end uses it to observe loop-initiated shutdown.
func (c *Controller) SetOnExit(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.OnExit = fn
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// run drives steps until a terminal step or a pause. Iterative on purpose:
// an unbounded budget must not grow the stack.
func (c *Controller) run(ctx context.Context, prompt string) error {
	c.setState(StateRunning)

	next := prompt
	for {
		nextPrompt, done, err := c.step(ctx, next)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		next = nextPrompt
	}
}

// step runs one produce/gate/execute/check cycle. It returns the prompt
// for the next cycle, or done=true after the terminal dispatch.
func (c *Controller) step(ctx context.Context, prompt string) (string, bool, error) {
	if c.paused.Load() {
		c.setState(StatePaused)
		return "", false, ErrPaused
	}
	if err := ctx.Err(); err != nil {
		c.setState(StateIdle)
		return "", false, fmt.Errorf("step cancelled: %w", err)
	}

	if prompt == ExitPrompt {
		return "", true, c.terminalStep(ctx)
	}

	c.mu.Lock()
	c.iteration++
	iteration := c.iteration
	c.currentPrompt = prompt
	gate := c.gate
	mode := c.mode
	runID := c.runID
	c.mu.Unlock()

	preamble := RenderPreamble(iteration, c.cfg.MaxIterations, c.cfg.Promise)
	if c.cfg.Tokens != nil {
		combined := preamble + "\n" + prompt
		c.logger.Debug("iteration %d prompt: %d tokens", iteration, c.cfg.Tokens.CountTokens(combined))
		if !c.cfg.Tokens.FitsLimit(combined, promptTokenWarn) {
			c.logger.Warn("iteration %d prompt exceeds %d tokens", iteration, promptTokenWarn)
		}
	}

	start := time.Now()
	action, err := c.cfg.Producer.Produce(ctx, prompt, preamble)
	producerDuration := time.Since(start)
	if err != nil {
		// A failing producer still participates in the completion and
		// budget checks rather than crashing the loop.
		c.logger.Error("producer failed on iteration %d: %v", iteration, err)
		action = fmt.Sprintf("producer error: %v", err)
	}

	if c.paused.Load() {
		c.setState(StatePaused)
		return "", false, ErrPaused
	}

	toRun := action
	execute := true
	if mode == ModeConfirm && gate != nil {
		c.setState(StateAwaitingConfirmation)
		toRun, execute = gate(action)
		c.setState(StateRunning)
		if toRun == "" {
			toRun = action
		}
		if c.paused.Load() {
			c.setState(StatePaused)
			return "", false, ErrPaused
		}
	}

	var content string
	if execute {
		out, execErr := c.cfg.Executor.Execute(ctx, toRun, preamble)
		if execErr != nil {
			c.logger.Error("executor failed on iteration %d: %v", iteration, execErr)
			out = fmt.Sprintf("command failed: %v", execErr)
		}
		content = out
	} else {
		c.logger.Info("iteration %d skipped by operator", iteration)
	}

	if c.paused.Load() {
		c.setState(StatePaused)
		return "", false, ErrPaused
	}

	next, outcome := c.attemptCompletion(content, prompt)

	if c.cfg.Recorder != nil {
		c.cfg.Recorder.ObserveIteration(string(mode), outcome, producerDuration)
	}
	if c.cfg.History != nil && runID != 0 {
		if histErr := c.cfg.History.RecordIteration(runID, iteration, outcome); histErr != nil {
			c.logger.Warn("failed to record iteration %d: %v", iteration, histErr)
		}
	}

	return next, false, nil
}

// attemptCompletion decides the next prompt: the terminal sentinel when the
// completion phrase was detected or the budget is exhausted, otherwise the
// same prompt again. Continuation momentum comes entirely from the
// producer/executor side effects, not from prompt rewriting.
func (c *Controller) attemptCompletion(content, originalPrompt string) (next, outcome string) {
	c.mu.Lock()
	iteration := c.iteration
	c.mu.Unlock()

	if Detect(content, c.cfg.Promise) {
		c.logger.Info("completion phrase detected on iteration %d/%d", iteration, c.cfg.MaxIterations)
		if c.cfg.Recorder != nil {
			c.cfg.Recorder.ObserveCompletion(iteration)
		}
		return ExitPrompt, "completed"
	}

	if !ShouldContinue(iteration, c.cfg.MaxIterations) {
		c.logger.Info("iteration budget exhausted (%d/%d)", iteration, c.cfg.MaxIterations)
		return ExitPrompt, "exhausted"
	}

	return originalPrompt, "continue"
}

// terminalStep dispatches the exit sentinel to the producer once so the
// backend session can close, then fires the exit callback. The executor is
// never invoked for the sentinel.
func (c *Controller) terminalStep(ctx context.Context) error {
	c.mu.Lock()
	iteration := c.iteration
	onExit := c.cfg.OnExit
	c.mu.Unlock()

	preamble := RenderPreamble(iteration, c.cfg.MaxIterations, c.cfg.Promise)
	if _, err := c.cfg.Producer.Produce(ctx, ExitPrompt, preamble); err != nil {
		c.logger.Debug("terminal dispatch failed: %v", err)
	}

	c.setState(StateCompleted)
	if onExit != nil {
		onExit()
	}
	return nil
}
