package appfw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/endpoint"
	"github.com/next-trace/scg-appfw/internal/log"
	"github.com/next-trace/scg-appfw/internal/metrics"
	"github.com/next-trace/scg-appfw/job"
	"github.com/next-trace/scg-appfw/registry"
	"github.com/next-trace/scg-appfw/worker"
)

// Framework is the per-process owner of the designated worker and the registry.
type Framework struct {
	cfg       Config
	transport cbus.Transport
	worker    *worker.Worker
	registry  *registry.Registry
	logger    *slog.Logger
	metrics   *metrics.Metrics
	mws       []cbus.Middleware
	closed    atomic.Bool
}

// Option configures a Framework.
type Option func(*Framework)

// WithLogger sets the logger shared with the worker, registry and endpoints.
func WithLogger(l *slog.Logger) Option {
	return func(f *Framework) { f.logger = l }
}

// WithMetrics records worker and registry metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Framework) { f.metrics = m }
}

// WithMiddleware wraps every inbound handler of endpoints built by the framework.
func WithMiddleware(mws ...cbus.Middleware) Option {
	return func(f *Framework) { f.mws = append(f.mws, mws...) }
}

// New builds a framework. Call Start before resolving services; until then
// resolutions fail with ErrWorkerUnavailable.
func New(cfg Config, transport cbus.Transport, opts ...Option) (*Framework, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Framework{cfg: cfg, transport: transport}
	for _, opt := range opts {
		opt(f)
	}

	f.logger = log.OrDiscard(f.logger).With(slog.String("app", cfg.Name))
	f.worker = worker.New(cfg.Name+"/default",
		worker.WithQueueSize(cfg.QueueSize),
		worker.WithStopPolicy(cfg.StopPolicy),
		worker.WithLogger(f.logger),
		worker.WithMetrics(f.metrics),
	)
	f.registry = registry.New(f.worker, registry.WithLogger(f.logger), registry.WithMetrics(f.metrics))

	return f, nil
}

// Start launches the designated worker.
func (f *Framework) Start() error { return f.worker.Start() }

func (f *Framework) Name() string                  { return f.cfg.Name }
func (f *Framework) Config() Config                { return f.cfg }
func (f *Framework) DefaultWorker() *worker.Worker { return f.worker }
func (f *Framework) Registry() *registry.Registry  { return f.registry }
func (f *Framework) Transport() cbus.Transport     { return f.transport }
func (f *Framework) Logger() *slog.Logger          { return f.logger }

// Closed reports whether Close has begun. Endpoints must not be created or
// registered after that point.
func (f *Framework) Closed() bool { return f.closed.Load() }

// ErrIfClosed returns ErrWorkerUnavailable once Close has begun.
func (f *Framework) ErrIfClosed(op string) error {
	if f.Closed() {
		return fmt.Errorf("%s: framework %s closing: %w", op, f.cfg.Name, berr.ErrWorkerUnavailable)
	}

	return nil
}

// ServiceURL joins the configured prefix and busName.
func (f *Framework) ServiceURL(busName string) string { return f.cfg.ServiceURLPrefix + busName }

// FindClient returns the registered client for busName; the answer may be stale.
func (f *Framework) FindClient(busName string) *endpoint.Client {
	return f.registry.FindClient(busName)
}

// FindService returns the registered server for busName; the answer may be stale.
func (f *Framework) FindService(busName string) *endpoint.Server {
	return f.registry.FindServer(busName)
}

// RegisterClient records c for busName. ctx must come from a job on the default worker.
func (f *Framework) RegisterClient(ctx context.Context, busName string, c *endpoint.Client) (*endpoint.Client, error) {
	if err := f.ErrIfClosed("register client " + busName); err != nil {
		return nil, err
	}

	return f.registry.RegisterClient(ctx, busName, c)
}

// RegisterService records s for busName. ctx must come from a job on the default worker.
func (f *Framework) RegisterService(ctx context.Context, busName string, s *endpoint.Server) (*endpoint.Server, error) {
	if err := f.ErrIfClosed("register service " + busName); err != nil {
		return nil, err
	}

	return f.registry.RegisterServer(ctx, busName, s)
}

// NewClient builds an unconnected client labelled with the process name and
// dispatching on the default worker.
func (f *Framework) NewClient(busName string) *endpoint.Client {
	return endpoint.NewClient(f.endpointConfig(busName))
}

// NewServer builds an unbound server labelled with the process name and
// dispatching on the default worker.
func (f *Framework) NewServer(busName string) *endpoint.Server {
	return endpoint.NewServer(f.endpointConfig(busName))
}

func (f *Framework) endpointConfig(busName string) endpoint.Config {
	return endpoint.Config{
		Label:      f.cfg.Name,
		BusName:    busName,
		Worker:     f.worker,
		Transport:  f.transport,
		Logger:     f.logger,
		Middleware: f.mws,
	}
}

// Close unregisters and closes every endpoint, then stops the default worker
// within the configured stop timeout. Resolutions that reach the worker after
// Close began fail with ErrWorkerUnavailable. Later calls are no-ops.
func (f *Framework) Close(ctx context.Context) error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Registry mutations only happen on the worker, so an unstarted one has none.
	var eps []endpoint.Endpoint
	if f.worker.Started() {
		var err error

		eps, err = worker.Call(ctx, f.worker, "appfw-close", f.detachAll, job.WithPolicy(job.ForceRun))
		if err != nil {
			f.logger.Warn("could not detach endpoints", slog.Any("err", err))
		}
	}

	errs := make([]error, len(eps))

	var g errgroup.Group
	for i, ep := range eps {
		g.Go(func() error {
			if cerr := ep.Close(); cerr != nil {
				errs[i] = fmt.Errorf("close %s %s: %w", ep.Role(), ep.BusName(), cerr)
			}

			return nil
		})
	}

	_ = g.Wait()

	stopCtx := ctx
	if f.cfg.StopTimeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, f.cfg.StopTimeout)
		defer cancel()
	}

	errs = append(errs, f.worker.Stop(stopCtx))
	f.logger.Debug("framework closed", slog.Int("endpoints", len(eps)))

	return errors.Join(errs...)
}

// detachAll empties the registry; it runs on the default worker.
func (f *Framework) detachAll(ctx context.Context) ([]endpoint.Endpoint, error) {
	var eps []endpoint.Endpoint

	for _, name := range f.registry.Clients() {
		c, err := f.registry.RemoveClient(ctx, name)
		if err != nil {
			return eps, err
		}

		if c != nil {
			eps = append(eps, c)
		}
	}

	for _, name := range f.registry.Servers() {
		s, err := f.registry.RemoveServer(ctx, name)
		if err != nil {
			return eps, err
		}

		if s != nil {
			eps = append(eps, s)
		}
	}

	return eps, nil
}
