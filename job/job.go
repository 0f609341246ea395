package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-appfw/contract/errors"
)

// State represents the lifecycle state of a job.
type State int32

const (
	// StatePending means the job is waiting in a worker queue.
	StatePending State = iota
	// StateRunning means the worker is executing the job body.
	StateRunning
	// StateDone means the body ran; Err reports its outcome.
	StateDone
	// StateSkipped means the owner was gone when the job came up; the body never ran.
	StateSkipped
	// StateFailed means the job never ran because the worker became unavailable.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Policy decides how a job is admitted to a worker queue.
type Policy uint8

const (
	// Normal jobs are subject to queue capacity and pausing.
	Normal Policy = iota
	// ForceRun jobs are control operations; they are admitted even when the
	// normal queue is full or paused and run ahead of normal jobs.
	ForceRun
)

func (p Policy) String() string {
	if p == ForceRun {
		return "force-run"
	}

	return "normal"
}

// Func is a job body.
type Func func(ctx context.Context) error

// Job is a unit of deferred work. A Job is single-use.
type Job struct {
	id     uuid.UUID
	name   string
	fn     Func
	policy Policy
	owner  *Liveness

	state atomic.Int32
	once  sync.Once
	done  chan struct{}
	err   error
}

// Option configures a Job.
type Option func(*Job)

// WithPolicy sets the admission policy.
func WithPolicy(p Policy) Option {
	return func(j *Job) { j.policy = p }
}

// WithOwner ties the job to an owner; the body is skipped once the owner is gone.
func WithOwner(l *Liveness) Option {
	return func(j *Job) { j.owner = l }
}

// New creates a pending job.
func New(name string, fn Func, opts ...Option) *Job {
	j := &Job{
		id:   uuid.New(),
		name: name,
		fn:   fn,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}

	return j
}

func (j *Job) ID() uuid.UUID    { return j.id }
func (j *Job) Name() string     { return j.name }
func (j *Job) Policy() Policy   { return j.policy }
func (j *Job) State() State     { return State(j.state.Load()) }
func (j *Job) Owner() *Liveness { return j.owner }

// Done is closed once the job reached a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err returns the job outcome. It is only meaningful after Done is closed.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// Run executes the body unless the owner is gone. It must only be called by
// the worker that owns the job; later calls return the recorded outcome.
// A panicking body completes the job with ErrJobPanicked.
func (j *Job) Run(ctx context.Context) (err error) {
	if !j.owner.Alive() {
		j.complete(StateSkipped, fmt.Errorf("job %s: %w", j.name, berr.ErrStaleJobTarget))
		return j.Err()
	}

	if !j.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		return j.Err()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s: panic: %v: %w", j.name, r, berr.ErrJobPanicked)
		}

		j.complete(StateDone, err)
	}()

	if j.fn != nil {
		err = j.fn(ctx)
	}

	return err
}

// Fail completes a job that will never run.
func (j *Job) Fail(err error) {
	j.complete(StateFailed, err)
}

// complete writes the outcome once and then releases waiters.
func (j *Job) complete(s State, err error) {
	j.once.Do(func() {
		j.err = err
		j.state.Store(int32(s))
		close(j.done)
	})
}
