package exec

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// outputLimit caps how much command output is fed back to the producer.
const outputLimit = 64 * 1024

// Shell adapts the local executor to the loop: each produced action is run
// as a shell command line, and the combined output becomes the next prompt
// content.
type Shell struct {
	local   *Local
	workDir string
	timeout time.Duration
}

// NewShell creates a shell executor rooted at workDir. A zero timeout
// falls back to DefaultTimeout.
func NewShell(workDir string, timeout time.Duration) *Shell {
	return &Shell{
		local:   NewLocal(),
		workDir: workDir,
		timeout: timeout,
	}
}

// Execute runs the action with `bash -lc` and returns its combined output
// annotated with the exit status. Failed commands are reported in the
// output, not as errors, so the producer can react to them.
func (s *Shell) Execute(ctx context.Context, action, _ string) (string, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return "", fmt.Errorf("empty command")
	}

	result, err := s.local.Run(ctx, []string{"bash", "-lc", action}, Opts{
		WorkDir: s.workDir,
		Timeout: s.timeout,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if result.Stdout != "" {
		b.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(result.Stderr)
	}
	switch {
	case result.TimedOut:
		fmt.Fprintf(&b, "\n[command timed out after %s]", result.Duration.Round(time.Second))
	case result.ExitCode != 0:
		fmt.Fprintf(&b, "\n[exit status %d]", result.ExitCode)
	}

	return truncate(b.String(), outputLimit), nil
}

// truncate keeps the head and tail of oversized output; the middle is the
// least useful part of a long build log.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	half := limit / 2
	return s[:half] + "\n[... output truncated ...]\n" + s[len(s)-half:]
}
