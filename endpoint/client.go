package endpoint

import (
	"context"
	"fmt"

	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
)

// Client is the connecting side of a bus.
type Client struct {
	core
	events map[cbus.Code]cbus.Handler
}

var (
	_ Endpoint  = (*Client)(nil)
	_ cbus.Peer = (*Client)(nil)
)

// NewClient creates an unconnected client.
func NewClient(cfg Config) *Client {
	c := &Client{events: make(map[cbus.Code]cbus.Handler)}
	c.init(cfg, cbus.RoleClient)

	return c
}

// Connect dials url through the transport. Connecting twice is a no-op.
func (c *Client) Connect(ctx context.Context, url string) error {
	return c.establish(ctx, url, berr.ErrConnectFailed, "connect", func(ctx context.Context, url string) (cbus.Session, error) {
		return c.transport.Dial(ctx, url, c)
	})
}

// RegisterEventHandle merges table into the client's event table and returns
// the codes it installed. A table with any code already taken is rejected as a
// whole with ErrDuplicateRegistration.
func (c *Client) RegisterEventHandle(table cbus.EventTable) ([]cbus.Code, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	codes, err := mergeTable(c.events, table)
	if err != nil {
		return nil, fmt.Errorf("register event handle on %s: %w", c.busName, err)
	}

	return codes, nil
}

// UnregisterEventHandle removes the given codes.
func (c *Client) UnregisterEventHandle(codes ...cbus.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, code := range codes {
		delete(c.events, code)
	}
}

// HasEvent reports whether a handler is installed for code.
func (c *Client) HasEvent(code cbus.Code) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.events[code]

	return ok
}

// Invoke sends a request to the server side of the bus.
func (c *Client) Invoke(ctx context.Context, code cbus.Code, payload []byte) error {
	return c.send(ctx, cbus.Message{Bus: c.busName, Kind: cbus.KindRequest, Code: code, Payload: payload})
}

func (c *Client) OnConnState(state cbus.ConnState, peers int) {
	_, _ = c.setState(state, peers)
}

func (c *Client) OnMessage(msg cbus.Message) {
	if msg.Kind != cbus.KindEvent {
		return
	}

	c.mu.Lock()
	h := c.events[msg.Code]
	c.mu.Unlock()

	c.dispatch(h, msg)
}
