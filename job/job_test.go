package job_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/job"
)

func TestRun_WritesOutcomeOnce(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	j := job.New("once", func(context.Context) error {
		calls++
		return boom
	})

	require.Equal(t, job.StatePending, j.State())
	require.NoError(t, j.Err(), "Err before completion must be nil")

	require.ErrorIs(t, j.Run(t.Context()), boom)
	<-j.Done()
	require.ErrorIs(t, j.Err(), boom)
	require.Equal(t, job.StateDone, j.State())

	// a later Fail must not overwrite the recorded outcome
	j.Fail(berr.ErrWorkerUnavailable)
	require.ErrorIs(t, j.Err(), boom)
	require.Equal(t, job.StateDone, j.State())
	require.Equal(t, 1, calls)
}

func TestRun_SkipsDeadOwner(t *testing.T) {
	owner := job.NewLiveness()
	ran := false
	j := job.New("stale", func(context.Context) error {
		ran = true
		return nil
	}, job.WithOwner(owner))

	require.True(t, owner.Kill())
	require.False(t, owner.Kill(), "second kill reports already dead")

	err := j.Run(t.Context())
	require.ErrorIs(t, err, berr.ErrStaleJobTarget)
	require.False(t, ran)
	require.Equal(t, job.StateSkipped, j.State())
}

func TestFail_ReleasesWaiters(t *testing.T) {
	j := job.New("never", nil, job.WithPolicy(job.ForceRun))
	require.Equal(t, job.ForceRun, j.Policy())

	j.Fail(berr.ErrWorkerUnavailable)

	select {
	case <-j.Done():
	default:
		t.Fatal("Done must be closed after Fail")
	}

	require.ErrorIs(t, j.Err(), berr.ErrWorkerUnavailable)
	require.Equal(t, job.StateFailed, j.State())
}

func TestLiveness_NilIsAlive(t *testing.T) {
	var l *job.Liveness
	require.True(t, l.Alive())
	require.True(t, job.NewLiveness().Alive())
}

func TestRun_RecoversPanic(t *testing.T) {
	j := job.New("panics", func(context.Context) error { panic("kaboom") })

	err := j.Run(t.Context())
	require.ErrorIs(t, err, berr.ErrJobPanicked)
	require.ErrorContains(t, err, "kaboom")
	require.Equal(t, job.StateDone, j.State())

	// a second Run does not execute the body again
	require.ErrorIs(t, j.Run(t.Context()), berr.ErrJobPanicked)
}
