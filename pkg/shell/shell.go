// Package shell is the interactive front end over the loop controller: a
// line-reading prompt with slash commands, a confirmation gate for
// producer-proposed commands, and interrupt handling tuned so a stray
// Ctrl-C never permanently stalls an unattended run.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"loopctl/pkg/logx"
	"loopctl/pkg/loop"
)

// resumeDebounce is how long a paused Auto-mode run waits for a second
// interrupt before resuming on its own.
const resumeDebounce = time.Second

// Shell wraps a loop controller with a human-facing line loop.
type Shell struct {
	ctrl   *loop.Controller
	in     *bufio.Reader
	out    io.Writer
	logger *logx.Logger

	// reopen supplies a fresh input stream after an unexpected EOF.
	reopen func() io.Reader

	quitting    atomic.Bool
	interrupts  chan os.Signal
	pauseNotify chan struct{}
}

// New creates a shell over stdin/stdout.
func New(ctrl *loop.Controller, logger *logx.Logger) *Shell {
	if logger == nil {
		logger = logx.NewLogger("shell")
	}
	s := &Shell{
		ctrl:        ctrl,
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		logger:      logger,
		reopen:      reopenTerminal,
		interrupts:  make(chan os.Signal, 2),
		pauseNotify: make(chan struct{}, 1),
	}
	// The terminal dispatch ends the session whether the loop or the
	// operator initiated it.
	ctrl.SetOnExit(func() { s.quitting.Store(true) })
	return s
}

// reopenTerminal reattaches input to the controlling terminal when stdin
// closes unexpectedly.
func reopenTerminal() io.Reader {
	if tty, err := os.Open("/dev/tty"); err == nil {
		return tty
	}
	return os.Stdin
}

// Run drives the input loop until the user quits or ctx is cancelled.
func (s *Shell) Run(ctx context.Context) error {
	signal.Notify(s.interrupts, os.Interrupt)
	defer signal.Stop(s.interrupts)
	go s.pumpInterrupts(ctx)

	s.printf("loopctl (mode %s, max %d iterations). /help for commands.\n", s.ctrl.Mode(), s.ctrl.MaxIterations())

	for {
		if s.quitting.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.printf("loopctl> ")

		line, err := s.readLine()
		if err != nil && strings.TrimSpace(line) == "" {
			if s.quitting.Load() {
				return nil
			}
			// Accidental stream closure is non-fatal; only an explicit
			// quit ends the process.
			s.logger.Warn("input stream closed unexpectedly, reopening")
			s.in = bufio.NewReader(s.reopen())
			continue
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			if s.handleCommand(ctx, line) {
				return nil
			}
		case line == loop.ExitPrompt:
			return s.quit(ctx)
		default:
			s.runPrompt(ctx, line)
		}
	}
}

// pumpInterrupts turns SIGINT into a controller pause plus a notification
// the debounce wait can observe.
func (s *Shell) pumpInterrupts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.interrupts:
			s.ctrl.Pause()
			select {
			case s.pauseNotify <- struct{}{}:
			default:
			}
		}
	}
}

// handleCommand dispatches a slash command. It returns true when the
// shell should exit.
func (s *Shell) handleCommand(ctx context.Context, line string) bool {
	switch line {
	case "/help":
		s.printf(`commands:
  /auto      run without confirmation
  /confirm   confirm each command before it runs
  /quit      end the loop and exit
type anything else to start a run with that prompt.
`)
	case "/auto":
		s.ctrl.SetMode(loop.ModeAuto)
		s.printf("mode: auto\n")
	case "/confirm":
		s.ctrl.SetMode(loop.ModeConfirm)
		s.printf("mode: confirm\n")
	case "/quit":
		if err := s.quit(ctx); err != nil {
			s.printf("error: %v\n", err)
		}
		return true
	default:
		s.printf("unknown command %s (try /help)\n", line)
	}
	return false
}

// quit dispatches the terminal sentinel once so the producer backend can
// wind down, then marks the shell as quitting.
func (s *Shell) quit(ctx context.Context) error {
	s.quitting.Store(true)
	if err := s.ctrl.Submit(ctx, loop.ExitPrompt, nil); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("terminal step failed: %v", err)
	}
	s.printf("bye\n")
	return nil
}

// runPrompt submits a fresh prompt and services pause/resume until the run
// finishes one way or another.
func (s *Shell) runPrompt(ctx context.Context, prompt string) {
	start := func() error { return s.ctrl.Submit(ctx, prompt, s.confirmGate) }

	for {
		err := start()
		switch {
		case err == nil:
			s.printf("run finished after %d iteration(s)\n", s.ctrl.Iteration())
			return
		case errors.Is(err, loop.ErrPaused):
			if !s.waitForResume(ctx) {
				return
			}
			start = func() error { return s.ctrl.Resume(ctx) }
		case errors.Is(err, ErrStalled):
			s.printf("backend appears stalled, returning to prompt: %v\n", err)
			return
		case errors.Is(err, context.Canceled):
			return
		default:
			s.printf("run failed: %v\n", err)
			return
		}
	}
}

// waitForResume implements the interrupt contract: Confirm mode resumes
// immediately, Auto mode waits out the debounce window unless a second
// interrupt arrives first. Returns false when ctx ended.
func (s *Shell) waitForResume(ctx context.Context) bool {
	if s.ctrl.Mode() == loop.ModeConfirm {
		s.printf("interrupted, resuming\n")
		return ctx.Err() == nil
	}

	// Drop any notification from the press that caused the pause.
	select {
	case <-s.pauseNotify:
	default:
	}

	s.printf("interrupted, resuming in %s (press Ctrl-C again to resume now)\n", resumeDebounce)
	select {
	case <-s.pauseNotify:
		s.printf("resuming\n")
		return true
	case <-time.After(resumeDebounce):
		s.printf("resuming\n")
		return true
	case <-ctx.Done():
		return false
	}
}

// confirmGate is the three-way accept/skip/edit prompt used in Confirm
// mode.
func (s *Shell) confirmGate(action string) (string, bool) {
	s.printf("proposed command:\n  %s\n", action)
	for {
		s.printf("[a]ccept / [s]kip / [e]dit: ")
		line, err := s.readLine()
		if err != nil {
			return "", false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "a", "accept", "":
			return action, true
		case "s", "skip":
			return "", false
		case "e", "edit":
			s.printf("replacement (blank keeps original): ")
			edited, err := s.readLine()
			if err != nil {
				return action, true
			}
			edited = strings.TrimSpace(edited)
			if edited == "" {
				return action, true
			}
			return edited, true
		default:
			s.printf("unrecognized choice %q\n", strings.TrimSpace(line))
		}
	}
}

func (s *Shell) readLine() (string, error) {
	return s.in.ReadString('\n')
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
