package component_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/next-trace/scg-appfw/adapters/inmemory"
	"github.com/next-trace/scg-appfw/appfw"
	"github.com/next-trace/scg-appfw/component"
	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/endpoint"
	"github.com/next-trace/scg-appfw/worker"
)

const wait = 2 * time.Second

func startFramework(t *testing.T, tr cbus.Transport) *appfw.Framework {
	t.Helper()

	fw, err := appfw.New(appfw.DefaultConfig("media"), tr)
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	t.Cleanup(func() { _ = fw.Close(context.Background()) })

	return fw
}

func startWorker(t *testing.T, name string) *worker.Worker {
	t.Helper()

	w := worker.New(name)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop(context.Background()) })

	return w
}

// flush waits until every job queued on w before the call has run.
func flush(t *testing.T, w *worker.Worker) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	_, err := worker.Call(ctx, w, "flush", func(context.Context) (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)
}

func nopEvent(context.Context, cbus.Message) error { return nil }

func TestComponent_ConcurrentQueriesShareOneClient(t *testing.T) {
	tr := inmemory.New()
	fw := startFramework(t, tr)

	const callers = 16

	got := make([]*endpoint.Client, callers)

	var g errgroup.Group
	for i := range callers {
		comp := component.New(fw, fmt.Sprintf("comp-%d", i))

		g.Go(func() error {
			cl, err := comp.QueryService(t.Context(), "x",
				cbus.EventTable{cbus.Code(100 + i): nopEvent}, nil)
			got[i] = cl

			return err
		})
	}

	require.NoError(t, g.Wait())

	for i := range callers {
		require.Same(t, got[0], got[i])
		require.True(t, got[0].HasEvent(cbus.Code(100+i)))
	}

	require.Equal(t, 1, tr.DialCount(fw.ServiceURL("x")))
	require.Same(t, got[0], fw.FindClient("x"))
}

// probe counts Dial calls that overlap in time.
type probe struct {
	*inmemory.Transport
	inside   atomic.Int32
	overlaps atomic.Int32
}

func (p *probe) Dial(ctx context.Context, url string, peer cbus.Peer) (cbus.Session, error) {
	if p.inside.Add(1) > 1 {
		p.overlaps.Add(1)
	}
	defer p.inside.Add(-1)

	time.Sleep(time.Millisecond)

	return p.Transport.Dial(ctx, url, peer)
}

func TestComponent_ResolutionBodiesNeverOverlap(t *testing.T) {
	tr := &probe{Transport: inmemory.New()}
	fw := startFramework(t, tr)
	comp := component.New(fw, "player")

	var g errgroup.Group
	for i := range 24 {
		g.Go(func() error {
			_, err := comp.QueryService(t.Context(), fmt.Sprintf("bus-%d", i%6), nil, nil)
			return err
		})
	}

	require.NoError(t, g.Wait())
	require.Zero(t, tr.overlaps.Load())
	require.Len(t, fw.Registry().Clients(), 6)

	for i := range 6 {
		require.Equal(t, 1, tr.DialCount(fw.ServiceURL(fmt.Sprintf("bus-%d", i))))
	}
}

func TestComponent_MediaBus(t *testing.T) {
	fw := startFramework(t, inmemory.New())
	uiWorker := startWorker(t, "ui")

	engine := component.New(fw, "engine")
	ui := component.New(fw, "ui", component.WithWorker(uiWorker))

	const (
		codePlay    cbus.Code = 1
		codeStarted cbus.Code = 7
	)

	requests := make(chan cbus.Message, 1)
	srv, err := engine.OfferService(t.Context(), "media.bus", cbus.MsgTable{
		codePlay: func(_ context.Context, m cbus.Message) error {
			requests <- m
			return nil
		},
	}, nil)
	require.NoError(t, err)
	require.True(t, srv.EventCacheEnabled())

	onlineOnUI := make(chan bool, 4)
	events := make(chan cbus.Message, 1)

	cl, err := ui.QueryService(t.Context(), "media.bus",
		cbus.EventTable{codeStarted: func(_ context.Context, m cbus.Message) error {
			events <- m
			return nil
		}},
		func(ctx context.Context, ev cbus.ConnEvent) {
			if ev.State == cbus.Online {
				onlineOnUI <- uiWorker.OnWorker(ctx)
			}
		})
	require.NoError(t, err)
	require.Equal(t, "media", cl.Label())

	select {
	case onUI := <-onlineOnUI:
		require.True(t, onUI, "callback must run on the component worker")
	case <-time.After(wait):
		t.Fatal("no online notification")
	}

	require.NoError(t, cl.Invoke(t.Context(), codePlay, []byte("track-1")))

	select {
	case m := <-requests:
		require.Equal(t, []byte("track-1"), m.Payload)
		require.Equal(t, cbus.KindRequest, m.Kind)
	case <-time.After(wait):
		t.Fatal("request not delivered")
	}

	require.NoError(t, srv.Broadcast(t.Context(), codeStarted, []byte("track-1")))

	select {
	case m := <-events:
		require.Equal(t, codeStarted, m.Code)
	case <-time.After(wait):
		t.Fatal("event not delivered")
	}
}

func TestComponent_InlineOnDesignatedWorker(t *testing.T) {
	fw := startFramework(t, inmemory.New())
	comp := component.New(fw, "nested")

	ctx, cancel := context.WithTimeout(t.Context(), wait)
	defer cancel()

	cl, err := worker.Call(ctx, fw.DefaultWorker(), "outer",
		func(ctx context.Context) (*endpoint.Client, error) {
			return comp.QueryService(ctx, "nested.bus", nil, nil)
		})
	require.NoError(t, err)
	require.Same(t, cl, fw.FindClient("nested.bus"))
}

func TestComponent_QueryFromConnCallback(t *testing.T) {
	fw := startFramework(t, inmemory.New())
	comp := component.New(fw, "chain")

	_, err := comp.OfferService(t.Context(), "first", nil, nil)
	require.NoError(t, err)

	chained := make(chan error, 1)

	var once sync.Once
	_, err = comp.QueryService(t.Context(), "first", nil, func(ctx context.Context, ev cbus.ConnEvent) {
		once.Do(func() {
			_, qerr := comp.QueryService(ctx, "second", nil, nil)
			chained <- qerr
		})
	})
	require.NoError(t, err)

	select {
	case err := <-chained:
		require.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("query from callback deadlocked")
	}

	require.NotNil(t, fw.FindClient("second"))
}

func TestComponent_DuplicateCodesRejectTable(t *testing.T) {
	fw := startFramework(t, inmemory.New())
	a := component.New(fw, "a")
	b := component.New(fw, "b")

	first := make(chan struct{}, 1)
	cl, err := a.QueryService(t.Context(), "x", cbus.EventTable{
		1: func(context.Context, cbus.Message) error { first <- struct{}{}; return nil },
	}, nil)
	require.NoError(t, err)

	got, err := b.QueryService(t.Context(), "x", cbus.EventTable{
		1: nopEvent,
		2: nopEvent,
	}, func(context.Context, cbus.ConnEvent) {})
	require.ErrorIs(t, err, berr.ErrDuplicateRegistration)
	require.Nil(t, got)

	require.True(t, cl.HasEvent(1))
	require.False(t, cl.HasEvent(2), "rejected table must not be partially merged")
	require.Empty(t, b.Handles())
}

func TestComponent_ConnectFailure(t *testing.T) {
	tr := inmemory.New()
	tr.DialErr = errors.New("connection refused")
	fw := startFramework(t, tr)
	comp := component.New(fw, "player")

	cl, err := comp.QueryService(t.Context(), "x", nil, nil)
	require.ErrorIs(t, err, berr.ErrConnectFailed)
	require.Nil(t, cl)
	require.Nil(t, fw.FindClient("x"))

	tr.DialErr = nil

	cl, err = comp.QueryService(t.Context(), "x", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, cl)
}

func TestComponent_BindFailure(t *testing.T) {
	tr := inmemory.New()
	tr.ListenErr = errors.New("address in use")
	fw := startFramework(t, tr)
	comp := component.New(fw, "engine")

	srv, err := comp.OfferService(t.Context(), "x", nil, nil)
	require.ErrorIs(t, err, berr.ErrBindFailed)
	require.Nil(t, srv)
	require.Nil(t, fw.FindService("x"))
}

func TestComponent_InvalidBusName(t *testing.T) {
	fw := startFramework(t, inmemory.New())
	comp := component.New(fw, "player")

	_, err := comp.QueryService(t.Context(), "bad/name", nil, nil)
	require.ErrorIs(t, err, berr.ErrInvalidBusName)
	require.Empty(t, fw.Registry().Clients())
}

func TestComponent_ClosedComponentIsStale(t *testing.T) {
	fw := startFramework(t, inmemory.New())
	uiWorker := startWorker(t, "ui")
	comp := component.New(fw, "ui", component.WithWorker(uiWorker))

	var calls atomic.Int32
	cl, err := comp.QueryService(t.Context(), "x", cbus.EventTable{3: nopEvent},
		func(context.Context, cbus.ConnEvent) { calls.Add(1) })
	require.NoError(t, err)
	require.Len(t, comp.Handles(), 1)

	require.NoError(t, comp.Close(t.Context()))
	require.NoError(t, comp.Close(t.Context()))
	require.False(t, comp.Liveness().Alive())
	require.False(t, cl.HasEvent(3))
	require.Empty(t, comp.Handles())

	// A server appearing now would have notified the client's callbacks.
	other := component.New(fw, "engine")
	_, err = other.OfferService(t.Context(), "x", nil, nil)
	require.NoError(t, err)

	flush(t, fw.DefaultWorker())
	flush(t, uiWorker)
	require.Zero(t, calls.Load())

	_, err = comp.QueryService(t.Context(), "y", nil, nil)
	require.ErrorIs(t, err, berr.ErrStaleJobTarget)
	require.Nil(t, fw.FindClient("y"))
}

func TestComponent_StoppedWorkerFailsFast(t *testing.T) {
	fw, err := appfw.New(appfw.DefaultConfig("media"), inmemory.New())
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	require.NoError(t, fw.Close(t.Context()))

	comp := component.New(fw, "late")

	done := make(chan error, 1)
	go func() {
		_, qerr := comp.QueryService(context.Background(), "x", nil, nil)
		done <- qerr
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, berr.ErrWorkerUnavailable)
	case <-time.After(wait):
		t.Fatal("query against a stopped worker blocked")
	}

	require.NoError(t, comp.Close(t.Context()))
}

func TestComponent_UnstartedFrameworkFailsFast(t *testing.T) {
	fw, err := appfw.New(appfw.DefaultConfig("media"), inmemory.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Close(context.Background()) })

	comp := component.New(fw, "early")

	done := make(chan error, 1)
	go func() {
		_, qerr := comp.QueryService(context.Background(), "x", nil, nil)
		done <- qerr
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, berr.ErrWorkerUnavailable)
	case <-time.After(wait):
		t.Fatal("query against an unstarted framework blocked")
	}

	require.Nil(t, fw.FindClient("x"))
	require.NoError(t, comp.Close(t.Context()))
}

// gatedTransport holds every client session Close until release is closed.
type gatedTransport struct {
	*inmemory.Transport
	closing chan struct{}
	release chan struct{}
}

type gatedSession struct {
	cbus.Session
	t *gatedTransport
}

func (s gatedSession) Close() error {
	s.t.closing <- struct{}{}
	<-s.t.release

	return s.Session.Close()
}

func (t *gatedTransport) Dial(ctx context.Context, url string, peer cbus.Peer) (cbus.Session, error) {
	s, err := t.Transport.Dial(ctx, url, peer)
	if err != nil {
		return nil, err
	}

	return gatedSession{Session: s, t: t}, nil
}

func TestComponent_ResolutionDuringFrameworkClose(t *testing.T) {
	tr := &gatedTransport{Transport: inmemory.New(), closing: make(chan struct{}, 1), release: make(chan struct{})}
	fw := startFramework(t, tr)
	comp := component.New(fw, "player")

	_, err := comp.QueryService(t.Context(), "media.bus", nil, nil)
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- fw.Close(context.Background()) }()

	select {
	case <-tr.closing:
	case <-time.After(wait):
		t.Fatalf("framework close never reached the endpoints")
	}

	// The registry is already detached and the worker still runs.
	cl, err := comp.QueryService(t.Context(), "late.bus", nil, nil)
	require.ErrorIs(t, err, berr.ErrWorkerUnavailable)
	require.Nil(t, cl)
	require.Nil(t, fw.FindClient("late.bus"))
	require.Zero(t, tr.DialCount(fw.ServiceURL("late.bus")))

	srv, err := comp.OfferService(t.Context(), "late.bus", nil, nil)
	require.ErrorIs(t, err, berr.ErrWorkerUnavailable)
	require.Nil(t, srv)
	require.Nil(t, fw.FindService("late.bus"))

	close(tr.release)
	require.NoError(t, <-closed)
}
