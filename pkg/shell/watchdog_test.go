package shell

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loopctl/pkg/loop"
)

type slowProducer struct {
	delay time.Duration
	reply string
}

func (p *slowProducer) Produce(ctx context.Context, _, _ string) (string, error) {
	select {
	case <-time.After(p.delay):
		return p.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type fakeProbe struct {
	mu  sync.Mutex
	err error
}

func (p *fakeProbe) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProbe) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// stubbornProducer ignores cancellation entirely.
type stubbornProducer struct {
	delay time.Duration
}

func (p *stubbornProducer) Produce(context.Context, string, string) (string, error) {
	time.Sleep(p.delay)
	return "late", nil
}

func newTestWatchdog(producer loop.Producer, probe Pinger) *Watchdog {
	w := NewWatchdog(producer, probe, nil)
	w.interval = 10 * time.Millisecond
	w.timeout = 5 * time.Millisecond
	return w
}

func TestWatchdogPassesThroughWithoutProbe(t *testing.T) {
	w := NewWatchdog(&slowProducer{reply: "hello"}, nil, nil)

	out, err := w.Produce(context.Background(), "p", "s")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestWatchdogHealthyBackend(t *testing.T) {
	w := newTestWatchdog(&slowProducer{delay: 50 * time.Millisecond, reply: "done"}, &fakeProbe{})

	out, err := w.Produce(context.Background(), "p", "s")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestWatchdogAbortsStalledBackend(t *testing.T) {
	producer := &slowProducer{delay: 10 * time.Second}
	w := newTestWatchdog(producer, &fakeProbe{err: errors.New("unreachable")})
	stalls := 0
	w.OnStall = func() { stalls++ }

	start := time.Now()
	_, err := w.Produce(context.Background(), "p", "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStalled)
	assert.Less(t, time.Since(start), 5*time.Second, "stall must abort long before the producer would finish")
	assert.Equal(t, 1, stalls)
}

func TestWatchdogAbandonsUncancellableProducer(t *testing.T) {
	// A producer that ignores cancellation must not delay the stall
	// return; its eventual result drains into the buffered channel.
	producer := &stubbornProducer{delay: 3 * time.Second}
	w := newTestWatchdog(producer, &fakeProbe{err: errors.New("unreachable")})

	start := time.Now()
	_, err := w.Produce(context.Background(), "p", "s")
	require.ErrorIs(t, err, ErrStalled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWatchdogRecoveringProbeResetsFailures(t *testing.T) {
	probe := &fakeProbe{err: errors.New("flaky")}
	producer := &slowProducer{delay: 60 * time.Millisecond, reply: "ok"}
	w := newTestWatchdog(producer, probe)

	// Clear the failure before the third strike.
	go func() {
		time.Sleep(25 * time.Millisecond)
		probe.setErr(nil)
	}()

	out, err := w.Produce(context.Background(), "p", "s")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}
