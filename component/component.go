package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/next-trace/scg-appfw/appfw"
	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/endpoint"
	"github.com/next-trace/scg-appfw/job"
	"github.com/next-trace/scg-appfw/worker"
)

// Component groups the endpoints, handlers and callbacks of one functional
// unit of the process.
type Component struct {
	name   string
	fw     *appfw.Framework
	worker *worker.Worker
	live   *job.Liveness
	logger *slog.Logger

	mu     sync.Mutex
	conns  []connRef
	events []eventRef
	msgs   []msgRef
}

type connRef struct {
	ep     endpoint.Endpoint
	handle cbus.Handle
}

type eventRef struct {
	client *endpoint.Client
	codes  []cbus.Code
}

type msgRef struct {
	server *endpoint.Server
	codes  []cbus.Code
}

// Option configures a Component.
type Option func(*Component)

// WithWorker runs the component's connection callbacks on w.
func WithWorker(w *worker.Worker) Option {
	return func(c *Component) { c.worker = w }
}

// New creates a component bound to fw. Without WithWorker it uses the
// framework's default worker.
func New(fw *appfw.Framework, name string, opts ...Option) *Component {
	c := &Component{
		name: name,
		fw:   fw,
		live: job.NewLiveness(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.worker == nil {
		c.worker = fw.DefaultWorker()
	}

	c.logger = fw.Logger().With(slog.String("component", name))

	return c
}

func (c *Component) Name() string            { return c.name }
func (c *Component) Worker() *worker.Worker  { return c.worker }
func (c *Component) Liveness() *job.Liveness { return c.live }

// QueryService returns the client for busName, connecting it on first use, and
// merges table into its event handlers. cb, when non-nil, is told about
// connection changes on the component's worker.
//
// A table that shares a code with the client's existing handlers is rejected
// whole: the result is nil and ErrDuplicateRegistration.
func (c *Component) QueryService(
	ctx context.Context, busName string, table cbus.EventTable, cb cbus.ConnCallback,
) (*endpoint.Client, error) {
	res, err := c.submit(ctx, queryRequest{bus: busName, table: table, cb: cb})
	if err != nil {
		return nil, err
	}

	return res.client, nil
}

// OfferService returns the server for busName, binding it on first use, and
// merges table into its request handlers. A new server starts with its event
// cache enabled. Duplicate codes are handled as in QueryService.
func (c *Component) OfferService(
	ctx context.Context, busName string, table cbus.MsgTable, cb cbus.ConnCallback,
) (*endpoint.Server, error) {
	res, err := c.submit(ctx, offerRequest{bus: busName, table: table, cb: cb})
	if err != nil {
		return nil, err
	}

	return res.server, nil
}

func (c *Component) submit(ctx context.Context, req request) (resolution, error) {
	if err := cbus.ValidateBusName(req.busName()); err != nil {
		return resolution{}, err
	}

	name := "resolve-" + req.role().String()

	return worker.Call(ctx, c.fw.DefaultWorker(), name,
		func(ctx context.Context) (resolution, error) { return c.execute(ctx, req) },
		job.WithPolicy(job.ForceRun),
		job.WithOwner(c.live),
	)
}

// execute runs on the designated worker. It refuses to resolve once the
// framework is closing.
func (c *Component) execute(ctx context.Context, req request) (resolution, error) {
	if err := c.fw.ErrIfClosed("component " + c.name); err != nil {
		return resolution{}, err
	}

	switch r := req.(type) {
	case queryRequest:
		cl, err := c.resolveClient(ctx, r)
		return resolution{client: cl}, err
	case offerRequest:
		srv, err := c.resolveServer(ctx, r)
		return resolution{server: srv}, err
	default:
		return resolution{}, fmt.Errorf("component %s: unknown request %T", c.name, req)
	}
}

func (c *Component) resolveClient(ctx context.Context, r queryRequest) (*endpoint.Client, error) {
	cl, created, err := c.fw.Registry().FindOrCreateClient(ctx, r.bus,
		func(ctx context.Context) (*endpoint.Client, error) {
			cl := c.fw.NewClient(r.bus)
			if err := cl.Connect(ctx, c.fw.ServiceURL(r.bus)); err != nil {
				_ = cl.Close()
				return nil, err
			}

			return cl, nil
		})
	if err != nil {
		return nil, err
	}

	// Merge first: a rejected table must not leave a callback behind.
	codes, err := cl.RegisterEventHandle(r.table)
	if err != nil {
		return nil, fmt.Errorf("component %s query %s: %w", c.name, r.bus, err)
	}

	h := c.watch(cl, r.cb)

	c.mu.Lock()
	if !h.IsZero() {
		c.conns = append(c.conns, connRef{ep: cl, handle: h})
	}
	if len(codes) > 0 {
		c.events = append(c.events, eventRef{client: cl, codes: codes})
	}
	c.mu.Unlock()

	c.logger.Debug("service queried",
		slog.String("bus", r.bus), slog.Bool("created", created), slog.Int("events", len(codes)))

	return cl, nil
}

func (c *Component) resolveServer(ctx context.Context, r offerRequest) (*endpoint.Server, error) {
	srv, created, err := c.fw.Registry().FindOrCreateServer(ctx, r.bus,
		func(ctx context.Context) (*endpoint.Server, error) {
			srv := c.fw.NewServer(r.bus)
			srv.EnableEventCache(true)

			if err := srv.Bind(ctx, c.fw.ServiceURL(r.bus)); err != nil {
				_ = srv.Close()
				return nil, err
			}

			return srv, nil
		})
	if err != nil {
		return nil, err
	}

	codes, err := srv.RegisterMsgHandle(r.table)
	if err != nil {
		return nil, fmt.Errorf("component %s offer %s: %w", c.name, r.bus, err)
	}

	h := c.watch(srv, r.cb)

	c.mu.Lock()
	if !h.IsZero() {
		c.conns = append(c.conns, connRef{ep: srv, handle: h})
	}
	if len(codes) > 0 {
		c.msgs = append(c.msgs, msgRef{server: srv, codes: codes})
	}
	c.mu.Unlock()

	c.logger.Debug("service offered",
		slog.String("bus", r.bus), slog.Bool("created", created), slog.Int("handlers", len(codes)))

	return srv, nil
}

func (c *Component) watch(ep endpoint.Endpoint, cb cbus.ConnCallback) cbus.Handle {
	if cb == nil {
		return cbus.Handle{}
	}

	return ep.RegisterConnNotification(cb, c.worker, c.live)
}

// Handles returns the notification handles the component currently holds.
func (c *Component) Handles() []cbus.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]cbus.Handle, 0, len(c.conns))
	for _, ref := range c.conns {
		out = append(out, ref.handle)
	}

	return out
}

// Close marks the component dead and removes every callback and handler it
// installed. Endpoints stay registered; they belong to the framework.
// Closing twice is a no-op.
func (c *Component) Close(ctx context.Context) error {
	if !c.live.Kill() {
		return nil
	}

	_, err := worker.Call(ctx, c.fw.DefaultWorker(), "component-close",
		func(context.Context) (struct{}, error) {
			c.release()
			return struct{}{}, nil
		},
		job.WithPolicy(job.ForceRun),
	)
	if errors.Is(err, berr.ErrWorkerUnavailable) {
		c.release()
		return nil
	}

	return err
}

func (c *Component) release() {
	c.mu.Lock()
	conns, events, msgs := c.conns, c.events, c.msgs
	c.conns, c.events, c.msgs = nil, nil, nil
	c.mu.Unlock()

	for _, ref := range conns {
		ref.ep.UnregisterConnNotification(ref.handle)
	}

	for _, ref := range events {
		ref.client.UnregisterEventHandle(ref.codes...)
	}

	for _, ref := range msgs {
		ref.server.UnregisterMsgHandle(ref.codes...)
	}

	c.logger.Debug("component released",
		slog.Int("notifications", len(conns)), slog.Int("event_sets", len(events)), slog.Int("msg_sets", len(msgs)))
}
