package inmemory

import (
	"context"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
)

// Transport is a thread-safe in-process implementation of cbus.Transport.
// Clients and servers that use the same URL on the same Transport are wired
// together. It records every Dial and Listen for tests and examples.
type Transport struct {
	// DialErr and ListenErr, when set, make Dial and Listen fail.
	DialErr   error
	ListenErr error

	mu       sync.Mutex
	Dialed   []string
	Listened []string
	buses    map[string]*busState
}

type busState struct {
	server  *session
	clients []*session
}

type session struct {
	t      *Transport
	url    string
	role   cbus.Role
	peer   cbus.Peer
	closed bool
}

// Ensure Transport implements the contract.
var _ cbus.Transport = (*Transport)(nil)

// New creates a new in-memory transport instance.
func New() *Transport { return &Transport{buses: make(map[string]*busState)} }

// DialCount returns how many times Dial succeeded for url.
func (t *Transport) DialCount(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, u := range t.Dialed {
		if u == url {
			n++
		}
	}

	return n
}

func (t *Transport) Dial(ctx context.Context, url string, peer cbus.Peer) (cbus.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, _, err := cbus.SplitURL(url); err != nil {
		return nil, err
	}

	if t.DialErr != nil {
		return nil, t.DialErr
	}

	s := &session{t: t, url: url, role: cbus.RoleClient, peer: peer}

	t.mu.Lock()
	t.Dialed = append(t.Dialed, url)
	b := t.busLocked(url)
	b.clients = append(b.clients, s)
	srv := b.server
	n := len(b.clients)
	t.mu.Unlock()

	if srv != nil {
		peer.OnConnState(cbus.Online, 1)
		srv.peer.OnConnState(cbus.Online, n)
	}

	return s, nil
}

func (t *Transport) Listen(ctx context.Context, url string, peer cbus.Peer) (cbus.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, _, err := cbus.SplitURL(url); err != nil {
		return nil, err
	}

	if t.ListenErr != nil {
		return nil, t.ListenErr
	}

	s := &session{t: t, url: url, role: cbus.RoleServer, peer: peer}

	t.mu.Lock()
	b := t.busLocked(url)
	if b.server != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("inmemory listen %s: address in use", url)
	}

	t.Listened = append(t.Listened, url)
	b.server = s
	clients := append([]*session(nil), b.clients...)
	t.mu.Unlock()

	if len(clients) > 0 {
		peer.OnConnState(cbus.Online, len(clients))

		for _, c := range clients {
			c.peer.OnConnState(cbus.Online, 1)
		}
	}

	return s, nil
}

func (t *Transport) busLocked(url string) *busState {
	if t.buses == nil {
		t.buses = make(map[string]*busState)
	}

	b, ok := t.buses[url]
	if !ok {
		b = &busState{}
		t.buses[url] = b
	}

	return b
}

// Send delivers requests to the bound server and events to every connected client.
func (s *session) Send(ctx context.Context, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.t.mu.Lock()
	if s.closed {
		s.t.mu.Unlock()
		return fmt.Errorf("inmemory send %s: %w", s.url, berr.ErrEndpointClosed)
	}

	b := s.t.busLocked(s.url)

	var targets []cbus.Peer

	if s.role == cbus.RoleClient {
		if b.server != nil {
			targets = append(targets, b.server.peer)
		}
	} else {
		for _, c := range b.clients {
			targets = append(targets, c.peer)
		}
	}
	s.t.mu.Unlock()

	if s.role == cbus.RoleClient && len(targets) == 0 {
		return fmt.Errorf("inmemory send %s: %w", s.url, berr.ErrNotConnected)
	}

	for _, p := range targets {
		p.OnMessage(msg)
	}

	return nil
}

func (s *session) Close() error {
	s.t.mu.Lock()
	if s.closed {
		s.t.mu.Unlock()
		return nil
	}

	s.closed = true
	b := s.t.busLocked(s.url)

	var (
		srv     *session
		clients []*session
		left    int
	)

	if s.role == cbus.RoleClient {
		for i, c := range b.clients {
			if c == s {
				b.clients = append(b.clients[:i], b.clients[i+1:]...)
				break
			}
		}

		srv = b.server
		left = len(b.clients)
	} else {
		b.server = nil
		clients = append(clients, b.clients...)
	}
	s.t.mu.Unlock()

	if s.role == cbus.RoleClient {
		s.peer.OnConnState(cbus.Offline, 0)

		if srv != nil {
			state := cbus.Online
			if left == 0 {
				state = cbus.Offline
			}

			srv.peer.OnConnState(state, left)
		}

		return nil
	}

	s.peer.OnConnState(cbus.Offline, 0)

	for _, c := range clients {
		c.peer.OnConnState(cbus.Offline, 0)
	}

	return nil
}
