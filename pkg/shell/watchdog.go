package shell

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loopctl/pkg/logx"
	"loopctl/pkg/loop"
)

// Watchdog probe parameters.
const (
	probeInterval    = 5 * time.Second
	probeTimeout     = 2 * time.Second
	maxProbeFailures = 3
)

// ErrStalled reports that the producer backend stopped answering liveness
// probes while a completion was in flight. The shell treats it as
// recoverable and returns to its input prompt.
var ErrStalled = errors.New("producer backend stalled")

// Pinger is a cheap liveness probe against the producer's backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Watchdog wraps a producer and races each Produce call against periodic
// liveness probes. Enough consecutive probe failures cancel the in-flight
// call; its eventual result is discarded.
type Watchdog struct {
	inner  loop.Producer
	probe  Pinger
	logger *logx.Logger

	interval    time.Duration
	timeout     time.Duration
	maxFailures int

	// OnStall, when set, is called once per aborted Produce call.
	OnStall func()
}

// NewWatchdog wraps producer with a health watchdog. A nil probe disables
// monitoring and Produce calls pass straight through.
func NewWatchdog(producer loop.Producer, probe Pinger, logger *logx.Logger) *Watchdog {
	if logger == nil {
		logger = logx.NewLogger("watchdog")
	}
	return &Watchdog{
		inner:       producer,
		probe:       probe,
		logger:      logger,
		interval:    probeInterval,
		timeout:     probeTimeout,
		maxFailures: maxProbeFailures,
	}
}

// Produce forwards to the wrapped producer while probing the backend.
func (w *Watchdog) Produce(ctx context.Context, prompt, preamble string) (string, error) {
	if w.probe == nil {
		return w.inner.Produce(ctx, prompt, preamble)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := w.inner.Produce(ctx, prompt, preamble)
		done <- result{text: text, err: err}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case r := <-done:
			return r.text, r.err
		case <-ticker.C:
			probeCtx, probeCancel := context.WithTimeout(ctx, w.timeout)
			err := w.probe.Ping(probeCtx)
			probeCancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			w.logger.Warn("liveness probe failed (%d/%d): %v", failures, w.maxFailures, err)
			if failures >= w.maxFailures {
				// The in-flight call is abandoned, not awaited: a
				// producer that ignores cancellation drains into the
				// buffered channel on its own time.
				cancel()
				if w.OnStall != nil {
					w.OnStall()
				}
				return "", fmt.Errorf("%d consecutive probe failures: %w", failures, ErrStalled)
			}
		}
	}
}
