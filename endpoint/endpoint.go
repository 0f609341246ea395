package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/internal/log"
	"github.com/next-trace/scg-appfw/job"
	"github.com/next-trace/scg-appfw/worker"
)

// Endpoint is what Client and Server have in common.
type Endpoint interface {
	Label() string
	BusName() string
	Role() cbus.Role
	URL() string
	State() cbus.ConnState
	RegisterConnNotification(cb cbus.ConnCallback, w *worker.Worker, owner *job.Liveness) cbus.Handle
	UnregisterConnNotification(h cbus.Handle) bool
	Close() error
}

// Config is shared by NewClient and NewServer.
type Config struct {
	// Label names the process that owns the endpoint.
	Label   string
	BusName string
	// Worker runs inbound handlers and is the default for callbacks.
	Worker    *worker.Worker
	Transport cbus.Transport
	Logger    *slog.Logger
	// Middleware wraps every inbound handler, first entry outermost.
	Middleware []cbus.Middleware
}

type notification struct {
	handle cbus.Handle
	cb     cbus.ConnCallback
	w      *worker.Worker
	owner  *job.Liveness
}

// core holds the state common to both roles. mu guards every field below it.
type core struct {
	label     string
	busName   string
	role      cbus.Role
	worker    *worker.Worker
	transport cbus.Transport
	logger    *slog.Logger
	mws       []cbus.Middleware

	mu      sync.Mutex
	url     string
	session cbus.Session
	state   cbus.ConnState
	peers   int
	closed  bool
	notifs  []notification
}

func (c *core) init(cfg Config, role cbus.Role) {
	c.label = cfg.Label
	c.busName = cfg.BusName
	c.role = role
	c.worker = cfg.Worker
	c.transport = cfg.Transport
	c.mws = slices.Clone(cfg.Middleware)
	c.logger = log.OrDiscard(cfg.Logger).With(
		slog.String("bus", cfg.BusName),
		slog.String("role", role.String()),
	)
}

func (c *core) Label() string   { return c.label }
func (c *core) BusName() string { return c.busName }
func (c *core) Role() cbus.Role { return c.role }

func (c *core) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.url
}

func (c *core) State() cbus.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Peers is the number of remote sessions last reported by the transport.
func (c *core) Peers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peers
}

// RegisterConnNotification arranges for cb to run on w (the endpoint's worker
// when w is nil) on every connection state change. A callback registered while
// the endpoint is online is notified right away. Callbacks whose owner is gone
// are skipped.
func (c *core) RegisterConnNotification(cb cbus.ConnCallback, w *worker.Worker, owner *job.Liveness) cbus.Handle {
	if w == nil {
		w = c.worker
	}

	n := notification{handle: cbus.NewHandle(), cb: cb, w: w, owner: owner}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifs = append(c.notifs, n)
	if ev := c.eventLocked(); ev.State == cbus.Online {
		c.notifyLocked(n, ev)
	}

	return n.handle
}

// UnregisterConnNotification removes a registration; it reports whether h was known.
func (c *core) UnregisterConnNotification(h cbus.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := slices.IndexFunc(c.notifs, func(n notification) bool { return n.handle == h })
	if i < 0 {
		return false
	}

	c.notifs = slices.Delete(c.notifs, i, i+1)

	return true
}

// setState records a transport report and fans it out. Reports arriving after
// Close are ignored; ok is false for them. prev is the previous peer count.
func (c *core) setState(state cbus.ConnState, peers int) (prev int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.peers, false
	}

	return c.setStateLocked(state, peers), true
}

// setStateLocked posts callbacks while c.mu is held so that every callback
// worker sees reports in the order they were recorded.
func (c *core) setStateLocked(state cbus.ConnState, peers int) int {
	prev := c.peers
	if c.state == state && prev == peers {
		return prev
	}

	c.state = state
	c.peers = peers
	ev := c.eventLocked()

	c.logger.Debug("connection state", slog.String("state", state.String()), slog.Int("peers", peers))

	for _, n := range c.notifs {
		c.notifyLocked(n, ev)
	}

	return prev
}

func (c *core) eventLocked() cbus.ConnEvent {
	return cbus.ConnEvent{Bus: c.busName, Role: c.role, State: c.state, Peers: c.peers}
}

// notifyLocked only enqueues; worker.PostFunc never calls back into the endpoint.
func (c *core) notifyLocked(n notification, ev cbus.ConnEvent) {
	if n.cb == nil || n.w == nil {
		return
	}

	err := n.w.PostFunc("conn-notify "+c.busName, func(ctx context.Context) error {
		n.cb(ctx, ev)
		return nil
	}, job.WithOwner(n.owner))
	if err != nil {
		c.logger.Debug("connection callback dropped", slog.String("handle", n.handle.String()), slog.Any("err", err))
	}
}

// establish runs open (Dial or Listen) outside the lock because transports may
// report state synchronously from inside it.
func (c *core) establish(
	ctx context.Context,
	url string,
	base error,
	label string,
	open func(context.Context, string) (cbus.Session, error),
) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return fmt.Errorf("%s %s: %w", label, url, berr.ErrEndpointClosed)
	case c.session != nil:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.transport == nil {
		return fmt.Errorf("%s %s: no transport: %w", label, url, base)
	}

	s, err := open(ctx, url)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("%s %s: %w", label, url, errors.Join(base, err))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = s.Close()

		return fmt.Errorf("%s %s: %w", label, url, berr.ErrEndpointClosed)
	}
	c.url = url
	c.session = s
	c.mu.Unlock()

	c.logger.Debug("endpoint established", slog.String("op", label), slog.String("url", url))

	return nil
}

func (c *core) send(ctx context.Context, msg cbus.Message) error {
	c.mu.Lock()
	s, closed := c.session, c.closed
	c.mu.Unlock()

	switch {
	case closed:
		return fmt.Errorf("send %s: %w", c.busName, berr.ErrEndpointClosed)
	case s == nil:
		return fmt.Errorf("send %s: %w", c.busName, berr.ErrNotConnected)
	}

	return s.Send(ctx, msg)
}

// dispatch runs h for msg on the endpoint worker.
func (c *core) dispatch(h cbus.Handler, msg cbus.Message) {
	if c.worker == nil {
		return
	}

	if h == nil {
		c.logger.Debug("no handler", slog.Uint64("code", uint64(msg.Code)), slog.Any("err", berr.ErrHandlerNotFound))
		return
	}

	h = cbus.Chain(h, c.mws...)

	err := c.worker.PostFunc(fmt.Sprintf("%s %s/%d", msg.Kind, c.busName, msg.Code), func(ctx context.Context) error {
		if err := h(ctx, msg); err != nil {
			c.logger.Warn("handler failed", slog.Uint64("code", uint64(msg.Code)), slog.Any("err", err))
		}

		return nil
	})
	if err != nil {
		c.logger.Debug("inbound message dropped", slog.Uint64("code", uint64(msg.Code)), slog.Any("err", err))
	}
}

// Close tears down the session and reports Offline to the registered callbacks.
func (c *core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.session
	c.session = nil
	c.setStateLocked(cbus.Offline, 0)
	c.mu.Unlock()

	if s != nil {
		return s.Close()
	}

	return nil
}

// mergeTable installs table into dst unless a code is already taken; a
// rejected table leaves dst untouched. Nil handlers are ignored.
func mergeTable(dst map[cbus.Code]cbus.Handler, table map[cbus.Code]cbus.Handler) ([]cbus.Code, error) {
	var dups []cbus.Code

	codes := make([]cbus.Code, 0, len(table))
	for code, h := range table {
		if h == nil {
			continue
		}

		if _, exists := dst[code]; exists {
			dups = append(dups, code)
			continue
		}

		codes = append(codes, code)
	}

	if len(dups) > 0 {
		slices.Sort(dups)
		return nil, fmt.Errorf("codes %v: %w", dups, berr.ErrDuplicateRegistration)
	}

	for _, code := range codes {
		dst[code] = table[code]
	}

	slices.Sort(codes)

	return codes, nil
}
