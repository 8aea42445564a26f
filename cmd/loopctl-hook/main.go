// loopctl-hook is the crash-tolerant half of loopctl: a short-lived binary
// the host process invokes on its lifecycle events. It keeps loop state in
// a small record file, so the loop survives host restarts.
//
// Usage:
//
//	loopctl-hook invoke  < event.json   start a loop from a tool invocation
//	loopctl-hook prompt  < event.json   replace the stored task prompt
//	loopctl-hook stop    < event.json   decide whether the host may exit
//
// The stop subcommand writes a decision object to stdout when the host
// must stay alive; no output means the exit is allowed.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"loopctl/pkg/config"
	"loopctl/pkg/hook"
	"loopctl/pkg/logx"
	"loopctl/pkg/loopfile"
)

func main() {
	logger := logx.NewLogger("hook")
	defer logx.CloseDebugFiles()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: loopctl-hook invoke|prompt|stop")
		os.Exit(2)
	}

	if err := run(os.Args[1], logger); err != nil {
		// Hook failures must never block the host; report and exit clean.
		logger.Error("%v", err)
	}
}

func run(subcommand string, logger *logx.Logger) error {
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read event payload: %w", err)
	}

	h := hook.New(loopfile.NewStore(config.LoopFileName), logger)

	switch subcommand {
	case "invoke":
		return h.HandleInvoke(payload)
	case "prompt":
		return h.HandlePromptUpdate(payload)
	case "stop":
		decision, err := h.HandleStop(payload)
		if err != nil {
			return err
		}
		if decision == nil {
			return nil
		}
		if err := json.NewEncoder(os.Stdout).Encode(decision); err != nil {
			return fmt.Errorf("failed to write decision: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown subcommand %q", subcommand)
	}
}
