package worker

import (
	"context"
	"sync/atomic"
)

type ctxKey struct{}

// execMark ties a job context to its worker for the duration of one body.
type execMark struct {
	w      *Worker
	active atomic.Bool
}

// Current returns the worker executing the job that ctx was handed to, or nil
// when ctx does not come from a running job body.
func Current(ctx context.Context) *Worker {
	if ctx == nil {
		return nil
	}

	m, ok := ctx.Value(ctxKey{}).(*execMark)
	if !ok || !m.active.Load() {
		return nil
	}

	return m.w
}

// OnWorker reports whether ctx belongs to a job running on w.
func (w *Worker) OnWorker(ctx context.Context) bool {
	return w != nil && Current(ctx) == w
}
