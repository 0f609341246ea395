package appfw_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/next-trace/scg-appfw/adapters/inmemory"
	"github.com/next-trace/scg-appfw/appfw"
	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/endpoint"
	"github.com/next-trace/scg-appfw/worker"
)

func newFramework(t *testing.T, tr cbus.Transport) *appfw.Framework {
	t.Helper()

	fw, err := appfw.New(appfw.DefaultConfig("media"), tr)
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	t.Cleanup(func() { _ = fw.Close(context.Background()) })

	return fw
}

func TestFramework_NewValidatesConfig(t *testing.T) {
	_, err := appfw.New(appfw.Config{}, inmemory.New())
	if !errors.Is(err, berr.ErrInvalidConfig) {
		t.Fatalf("want ErrInvalidConfig, got %v", err)
	}
}

func TestFramework_EndpointsAreLabelledAndBound(t *testing.T) {
	fw := newFramework(t, inmemory.New())

	require.Equal(t, "svc://media.bus", fw.ServiceURL("media.bus"))

	c := fw.NewClient("media.bus")
	require.Equal(t, "media", c.Label())
	require.Equal(t, "media.bus", c.BusName())
	require.Equal(t, cbus.RoleClient, c.Role())

	s := fw.NewServer("media.bus")
	require.Equal(t, "media", s.Label())
	require.Equal(t, cbus.RoleServer, s.Role())
}

func TestFramework_RegisterRequiresDefaultWorker(t *testing.T) {
	fw := newFramework(t, inmemory.New())

	_, err := fw.RegisterClient(t.Context(), "media.bus", fw.NewClient("media.bus"))
	require.ErrorIs(t, err, berr.ErrNotOnWorker)

	c := fw.NewClient("media.bus")
	got, err := worker.Call(t.Context(), fw.DefaultWorker(), "register",
		func(ctx context.Context) (*endpoint.Client, error) {
			return fw.RegisterClient(ctx, "media.bus", c)
		})
	require.NoError(t, err)
	require.Same(t, c, got)
	require.Same(t, c, fw.FindClient("media.bus"))
	require.Nil(t, fw.FindService("media.bus"))
}

func TestFramework_CloseDetachesAndStops(t *testing.T) {
	tr := inmemory.New()
	fw, err := appfw.New(appfw.DefaultConfig("media"), tr)
	require.NoError(t, err)
	require.NoError(t, fw.Start())

	_, err = worker.Call(t.Context(), fw.DefaultWorker(), "setup",
		func(ctx context.Context) (struct{}, error) {
			s := fw.NewServer("media.bus")
			if err := s.Bind(ctx, fw.ServiceURL("media.bus")); err != nil {
				return struct{}{}, err
			}

			_, err := fw.RegisterService(ctx, "media.bus", s)

			return struct{}{}, err
		})
	require.NoError(t, err)

	s := fw.FindService("media.bus")
	require.NotNil(t, s)

	require.NoError(t, fw.Close(t.Context()))
	require.NoError(t, fw.Close(t.Context()), "second close is a no-op")

	require.Nil(t, fw.FindService("media.bus"))
	require.Equal(t, cbus.Offline, s.State())
	require.Equal(t, worker.StateStopped, fw.DefaultWorker().State())

	err = fw.DefaultWorker().PostFunc("late", func(context.Context) error { return nil })
	require.ErrorIs(t, err, berr.ErrWorkerUnavailable)
}

func TestFramework_RegisterAfterCloseFails(t *testing.T) {
	fw := newFramework(t, inmemory.New())
	require.False(t, fw.Closed())
	require.NoError(t, fw.Close(t.Context()))
	require.True(t, fw.Closed())

	_, err := fw.RegisterClient(t.Context(), "media.bus", fw.NewClient("media.bus"))
	require.ErrorIs(t, err, berr.ErrWorkerUnavailable)

	_, err = fw.RegisterService(t.Context(), "media.bus", fw.NewServer("media.bus"))
	require.ErrorIs(t, err, berr.ErrWorkerUnavailable)
	require.Nil(t, fw.FindClient("media.bus"))
}

func TestFramework_CloseBeforeStart(t *testing.T) {
	fw, err := appfw.New(appfw.DefaultConfig("media"), inmemory.New())
	require.NoError(t, err)
	require.NoError(t, fw.Close(t.Context()))
	require.ErrorIs(t, fw.Start(), berr.ErrWorkerUnavailable)
}

func TestModule_LifecycleAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	var fw *appfw.Framework

	app := fxtest.New(t,
		fx.NopLogger,
		appfw.Module,
		fx.Supply(appfw.DefaultConfig("media")),
		fx.Provide(func() cbus.Transport { return inmemory.New() }),
		fx.Provide(func() prometheus.Registerer { return reg }),
		fx.Populate(&fw),
	)

	app.RequireStart()
	require.True(t, fw.DefaultWorker().Started())

	_, err := worker.Call(t.Context(), fw.DefaultWorker(), "noop",
		func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "appfw_worker_jobs_total")
	require.NoError(t, err)
	require.Positive(t, n)

	app.RequireStop()
	require.Equal(t, worker.StateStopped, fw.DefaultWorker().State())
}
