// Package metrics provides Prometheus-based metrics recording for loop
// runs. loopctl is a short-lived CLI rather than a server, so instead of
// an exposition endpoint the collected metrics can be dumped to a text
// snapshot on exit.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Recorder implements the loop's metrics hooks over a private registry.
type Recorder struct {
	registry *prometheus.Registry

	iterationsTotal  *prometheus.CounterVec
	completionsTotal prometheus.Counter
	completionAt     prometheus.Histogram
	producerDuration *prometheus.HistogramVec
	stallsTotal      prometheus.Counter
}

// NewRecorder creates a recorder with its own registry, so repeated
// construction in one process never collides.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		iterationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loopctl_iterations_total",
				Help: "Total loop iterations by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		completionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "loopctl_completions_total",
				Help: "Total runs that ended with the completion phrase",
			},
		),
		completionAt: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loopctl_completion_iteration",
				Help:    "Iteration number at which runs completed",
				Buckets: prometheus.LinearBuckets(1, 2, 10),
			},
		),
		producerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loopctl_producer_duration_seconds",
				Help:    "Duration of producer calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		stallsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "loopctl_watchdog_stalls_total",
				Help: "Producer calls aborted by the health watchdog",
			},
		),
	}
}

// ObserveIteration records one completed iteration.
func (r *Recorder) ObserveIteration(mode, outcome string, producerDuration time.Duration) {
	r.iterationsTotal.WithLabelValues(mode, outcome).Inc()
	r.producerDuration.WithLabelValues(mode).Observe(producerDuration.Seconds())
}

// ObserveCompletion records a run that ended with the completion phrase.
func (r *Recorder) ObserveCompletion(iteration int) {
	r.completionsTotal.Inc()
	r.completionAt.Observe(float64(iteration))
}

// ObserveStall records a producer call aborted by the health watchdog.
func (r *Recorder) ObserveStall() {
	r.stallsTotal.Inc()
}

// WriteSnapshot dumps the registry in the Prometheus text format.
func (r *Recorder) WriteSnapshot(path string) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	encoder := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", family.GetName(), err)
		}
	}
	return nil
}
