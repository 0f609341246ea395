package appfw

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	cbus "github.com/next-trace/scg-appfw/contract/bus"
	"github.com/next-trace/scg-appfw/internal/metrics"
)

// Params are the Framework dependencies resolved by fx.
type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     Config
	Transport  cbus.Transport
	Logger     *slog.Logger          `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// Module provides *Framework and ties its worker to the fx lifecycle.
var Module = fx.Module("appfw",
	fx.Provide(NewFromParams),
)

// NewFromParams builds a Framework and registers start/stop hooks.
func NewFromParams(p Params) (*Framework, error) {
	opts := []Option{WithLogger(p.Logger)}
	if p.Registerer != nil {
		opts = append(opts, WithMetrics(metrics.New(p.Registerer)))
	}

	f, err := New(p.Config, p.Transport, opts...)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error { return f.Start() },
		OnStop:  f.Close,
	})

	return f, nil
}
