package worker

import (
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-appfw/internal/metrics"
)

// StopPolicy decides what happens to queued jobs when a worker stops.
type StopPolicy uint8

const (
	// Drain runs every queued job before the worker exits.
	Drain StopPolicy = iota
	// Discard fails queued jobs with ErrWorkerUnavailable.
	Discard
)

func (p StopPolicy) String() string {
	if p == Discard {
		return "discard"
	}

	return "drain"
}

func (p StopPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText accepts "drain" or "discard".
func (p *StopPolicy) UnmarshalText(b []byte) error {
	switch string(b) {
	case "drain":
		*p = Drain
	case "discard":
		*p = Discard
	default:
		return fmt.Errorf("stop policy %q: want drain or discard", b)
	}

	return nil
}

// DefaultQueueSize bounds the normal lane when no size is configured.
const DefaultQueueSize = 1024

// Option configures a Worker.
type Option func(*Worker)

// WithQueueSize bounds the normal lane; n <= 0 means unbounded.
func WithQueueSize(n int) Option {
	return func(w *Worker) { w.queueSize = n }
}

// WithStopPolicy sets how queued jobs are handled on Stop.
func WithStopPolicy(p StopPolicy) Option {
	return func(w *Worker) { w.policy = p }
}

// WithLogger sets the logger; nil discards.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithMetrics records job outcomes, queue depth and sync waits.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}
