package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/internal/log"
	"github.com/next-trace/scg-appfw/internal/metrics"
	"github.com/next-trace/scg-appfw/job"
)

// State is the worker state machine: Idle <-> Running, then Stopped.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

const (
	laneControl = "control"
	laneNormal  = "normal"
)

// Worker owns two FIFO lanes and the goroutine that drains them.
// Force-run jobs go to the control lane, which is unbounded, ignores Pause and
// is served first.
type Worker struct {
	name      string
	queueSize int
	policy    StopPolicy
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	control  []*job.Job
	normal   []*job.Job
	paused   bool
	started  bool
	stopping bool
	discard  bool

	wake   chan struct{}
	quit   chan struct{}
	exited chan struct{}
	state  atomic.Int32
}

// New creates a worker. Jobs may be posted before Start; they run once it starts.
func New(name string, opts ...Option) *Worker {
	w := &Worker{
		name:      name,
		queueSize: DefaultQueueSize,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.logger = log.OrDiscard(w.logger).With(slog.String("worker", name))

	return w
}

func (w *Worker) Name() string { return w.name }

func (w *Worker) State() State { return State(w.state.Load()) }

// Started reports whether Start has been called.
func (w *Worker) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.started
}

// Len returns the number of queued jobs in both lanes.
func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.control) + len(w.normal)
}

// Start launches the worker goroutine. Starting twice is a no-op.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopping {
		return fmt.Errorf("start worker %s: %w", w.name, berr.ErrWorkerUnavailable)
	}

	if w.started {
		return nil
	}

	w.started = true

	go w.loop()

	w.logger.Debug("worker started", slog.Int("queue_size", w.queueSize))

	return nil
}

// Post enqueues j and returns immediately. On error j is already completed
// with that error.
func (w *Worker) Post(j *job.Job) error {
	return w.enqueue(j)
}

// PostFunc wraps fn in a job and posts it.
func (w *Worker) PostFunc(name string, fn job.Func, opts ...job.Option) error {
	return w.enqueue(job.New(name, fn, opts...))
}

// Send runs j on the worker and waits for it. Called with a context that
// belongs to a job running on w, it runs j inline.
//
// If ctx ends first Send returns ctx.Err(); the job itself is not cancelled.
// A worker that stops before running j fails it with ErrWorkerUnavailable.
// Unlike Post, Send does not wait for Start: on a worker that was never
// started it fails j with ErrWorkerUnavailable right away.
func (w *Worker) Send(ctx context.Context, j *job.Job) error {
	if Current(ctx) == w {
		return j.Run(ctx)
	}

	if !w.Started() {
		err := fmt.Errorf("worker %s not started: %w", w.name, berr.ErrWorkerUnavailable)
		j.Fail(err)

		return err
	}

	start := time.Now()
	defer func() { w.metrics.SyncWait(w.name, time.Since(start)) }()

	if err := w.enqueue(j); err != nil {
		return err
	}

	select {
	case <-j.Done():
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on w with Send semantics and returns its typed result.
// The result is written by the worker before the job completes.
func Call[T any](ctx context.Context, w *Worker, name string, fn func(ctx context.Context) (T, error), opts ...job.Option) (T, error) {
	var out T

	j := job.New(name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}

		out = v

		return nil
	}, opts...)

	if err := w.Send(ctx, j); err != nil {
		var zero T
		return zero, err
	}

	return out, nil
}

// Pause holds back normal jobs; force-run jobs keep running.
func (w *Worker) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume releases normal jobs held by Pause.
func (w *Worker) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	w.signal()
}

// Stop moves the worker to Stopped. Queued jobs are drained or failed per the
// stop policy; jobs still queued when ctx ends are failed. New submissions fail
// with ErrWorkerUnavailable. Stop called from one of w's own jobs does not wait.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	first := !w.stopping
	w.stopping = true
	started := w.started
	w.mu.Unlock()

	if first {
		close(w.quit)
		w.logger.Debug("worker stopping", slog.String("policy", w.policy.String()))
	}

	if !started {
		w.failPending()
		w.state.Store(int32(StateStopped))

		return nil
	}

	if Current(ctx) == w {
		return nil
	}

	select {
	case <-w.exited:
		return nil
	case <-ctx.Done():
		w.mu.Lock()
		w.discard = true
		w.mu.Unlock()
		w.failPending()
		w.logger.Warn("worker stop timed out; pending jobs failed")

		return ctx.Err()
	}
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.exited }

func (w *Worker) enqueue(j *job.Job) error {
	w.mu.Lock()

	if w.stopping {
		w.mu.Unlock()

		err := fmt.Errorf("worker %s: %w", w.name, berr.ErrWorkerUnavailable)
		j.Fail(err)

		return err
	}

	if j.Policy() == job.ForceRun {
		w.control = append(w.control, j)
	} else {
		if w.queueSize > 0 && len(w.normal) >= w.queueSize {
			w.mu.Unlock()

			err := fmt.Errorf("worker %s: %w", w.name, berr.ErrQueueFull)
			j.Fail(err)

			return err
		}

		w.normal = append(w.normal, j)
	}

	w.recordDepthLocked()
	w.mu.Unlock()
	w.signal()

	return nil
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) loop() {
	defer func() {
		w.failPending()
		w.state.Store(int32(StateStopped))
		close(w.exited)
		w.logger.Debug("worker stopped")
	}()

	for {
		j, ok := w.next()
		if !ok {
			return
		}

		w.exec(j)
	}
}

// next blocks until a job is runnable or the worker has nothing left to do.
func (w *Worker) next() (*job.Job, bool) {
	for {
		w.mu.Lock()
		j := w.popLocked()
		stopping := w.stopping
		w.mu.Unlock()

		if j != nil {
			return j, true
		}

		if stopping {
			return nil, false
		}

		select {
		case <-w.wake:
		case <-w.quit:
		}
	}
}

func (w *Worker) popLocked() *job.Job {
	if w.discard || (w.stopping && w.policy == Discard) {
		return nil
	}

	var j *job.Job

	switch {
	case len(w.control) > 0:
		j = w.control[0]
		w.control[0] = nil
		w.control = w.control[1:]
	case len(w.normal) > 0 && (!w.paused || w.stopping):
		j = w.normal[0]
		w.normal[0] = nil
		w.normal = w.normal[1:]
	default:
		return nil
	}

	w.recordDepthLocked()

	return j
}

func (w *Worker) exec(j *job.Job) {
	w.state.Store(int32(StateRunning))
	defer w.state.Store(int32(StateIdle))

	mark := &execMark{w: w}
	mark.active.Store(true)
	ctx := context.WithValue(context.Background(), ctxKey{}, mark)

	err := j.Run(ctx)
	mark.active.Store(false)

	switch {
	case err == nil:
		w.metrics.JobFinished(w.name, metrics.OutcomeDone)
	case j.State() == job.StateSkipped:
		w.metrics.JobFinished(w.name, metrics.OutcomeSkipped)
		w.logger.Debug("job skipped", slog.String("job", j.Name()), slog.String("job_id", j.ID().String()))
	default:
		w.metrics.JobFinished(w.name, metrics.OutcomeError)

		if errors.Is(err, berr.ErrJobPanicked) {
			w.logger.Error("job panicked", slog.String("job", j.Name()), slog.Any("err", err))
		}
	}
}

// failPending completes every queued job with ErrWorkerUnavailable.
func (w *Worker) failPending() {
	w.mu.Lock()
	left := make([]*job.Job, 0, len(w.control)+len(w.normal))
	left = append(left, w.control...)
	left = append(left, w.normal...)
	w.control, w.normal = nil, nil
	w.recordDepthLocked()
	w.mu.Unlock()

	if len(left) == 0 {
		return
	}

	err := fmt.Errorf("worker %s: %w", w.name, berr.ErrWorkerUnavailable)
	for _, j := range left {
		j.Fail(err)
		w.metrics.JobFinished(w.name, metrics.OutcomeFailed)
	}

	w.logger.Debug("pending jobs failed", slog.Int("count", len(left)))
}

func (w *Worker) recordDepthLocked() {
	w.metrics.QueueDepth(w.name, laneControl, len(w.control))
	w.metrics.QueueDepth(w.name, laneNormal, len(w.normal))
}
