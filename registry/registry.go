// Package registry keeps the process-wide table of live endpoints: at most one
// client and one server per bus name.
//
// Mutations only happen inside jobs running on the owner worker, which runs one
// job at a time; that is the registry's only write synchronization. Readers on
// any goroutine load an immutable snapshot that may be stale.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/endpoint"
	"github.com/next-trace/scg-appfw/internal/log"
	"github.com/next-trace/scg-appfw/internal/metrics"
	"github.com/next-trace/scg-appfw/worker"
)

type table[E any] struct {
	m atomic.Pointer[map[string]E]
}

func (t *table[E]) load() map[string]E {
	if p := t.m.Load(); p != nil {
		return *p
	}

	return nil
}

// store replaces the snapshot with a copy modified by edit.
func (t *table[E]) store(edit func(map[string]E)) int {
	next := maps.Clone(t.load())
	if next == nil {
		next = make(map[string]E)
	}

	edit(next)
	t.m.Store(&next)

	return len(next)
}

// Registry maps bus names to endpoints.
type Registry struct {
	owner   *worker.Worker
	clients table[*endpoint.Client]
	servers table[*endpoint.Server]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

// New creates a registry that may only be mutated from jobs on owner.
func New(owner *worker.Worker, opts ...Option) *Registry {
	r := &Registry{owner: owner}
	for _, opt := range opts {
		opt(r)
	}

	r.logger = log.OrDiscard(r.logger)

	return r
}

// Owner returns the designated worker.
func (r *Registry) Owner() *worker.Worker { return r.owner }

func (r *Registry) onOwner(ctx context.Context, op, busName string) error {
	if !r.owner.OnWorker(ctx) {
		return fmt.Errorf("registry %s %s: %w", op, busName, berr.ErrNotOnWorker)
	}

	return nil
}

// FindOrCreateClient returns the client registered for busName, or builds one
// with factory and registers it. created reports whether factory ran. A factory
// error leaves the registry unchanged. ctx must belong to a job on the owner.
func (r *Registry) FindOrCreateClient(
	ctx context.Context,
	busName string,
	factory func(ctx context.Context) (*endpoint.Client, error),
) (c *endpoint.Client, created bool, err error) {
	return findOrCreate(ctx, r, &r.clients, cbus.RoleClient, busName, factory)
}

// FindOrCreateServer is FindOrCreateClient for servers.
func (r *Registry) FindOrCreateServer(
	ctx context.Context,
	busName string,
	factory func(ctx context.Context) (*endpoint.Server, error),
) (s *endpoint.Server, created bool, err error) {
	return findOrCreate(ctx, r, &r.servers, cbus.RoleServer, busName, factory)
}

func findOrCreate[E comparable](
	ctx context.Context,
	r *Registry,
	t *table[E],
	role cbus.Role,
	busName string,
	factory func(ctx context.Context) (E, error),
) (E, bool, error) {
	var zero E

	if err := r.onOwner(ctx, "find-or-create "+role.String(), busName); err != nil {
		return zero, false, err
	}

	if e, ok := t.load()[busName]; ok {
		return e, false, nil
	}

	e, err := factory(ctx)
	if err != nil {
		return zero, false, err
	}

	if e == zero {
		return zero, false, fmt.Errorf("registry create %s %s: factory returned nil", role, busName)
	}

	n := t.store(func(m map[string]E) { m[busName] = e })
	r.metrics.Endpoints(role.String(), n)
	r.logger.Debug("endpoint registered", slog.String("bus", busName), slog.String("role", role.String()))

	return e, true, nil
}

// RegisterClient inserts c under busName unless a client is already there; it
// returns the registered client either way.
func (r *Registry) RegisterClient(ctx context.Context, busName string, c *endpoint.Client) (*endpoint.Client, error) {
	got, _, err := r.FindOrCreateClient(ctx, busName, func(context.Context) (*endpoint.Client, error) { return c, nil })
	return got, err
}

// RegisterServer inserts s under busName unless a server is already there; it
// returns the registered server either way.
func (r *Registry) RegisterServer(ctx context.Context, busName string, s *endpoint.Server) (*endpoint.Server, error) {
	got, _, err := r.FindOrCreateServer(ctx, busName, func(context.Context) (*endpoint.Server, error) { return s, nil })
	return got, err
}

// RemoveClient drops the client for busName and returns it.
func (r *Registry) RemoveClient(ctx context.Context, busName string) (*endpoint.Client, error) {
	return remove(ctx, r, &r.clients, cbus.RoleClient, busName)
}

// RemoveServer drops the server for busName and returns it.
func (r *Registry) RemoveServer(ctx context.Context, busName string) (*endpoint.Server, error) {
	return remove(ctx, r, &r.servers, cbus.RoleServer, busName)
}

func remove[E any](ctx context.Context, r *Registry, t *table[E], role cbus.Role, busName string) (E, error) {
	var zero E

	if err := r.onOwner(ctx, "remove "+role.String(), busName); err != nil {
		return zero, err
	}

	e, ok := t.load()[busName]
	if !ok {
		return zero, nil
	}

	n := t.store(func(m map[string]E) { delete(m, busName) })
	r.metrics.Endpoints(role.String(), n)

	return e, nil
}

// FindClient looks busName up in the current snapshot. Safe from any goroutine.
func (r *Registry) FindClient(busName string) *endpoint.Client { return r.clients.load()[busName] }

// FindServer looks busName up in the current snapshot. Safe from any goroutine.
func (r *Registry) FindServer(busName string) *endpoint.Server { return r.servers.load()[busName] }

// Clients returns the bus names with a registered client, sorted.
func (r *Registry) Clients() []string { return slices.Sorted(maps.Keys(r.clients.load())) }

// Servers returns the bus names with a registered server, sorted.
func (r *Registry) Servers() []string { return slices.Sorted(maps.Keys(r.servers.load())) }
