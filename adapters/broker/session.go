package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
)

// farewellTimeout bounds the bye/gone publish on Close.
const farewellTimeout = 2 * time.Second

type session struct {
	t    *Transport
	bus  string
	role cbus.Role
	id   string
	peer cbus.Peer

	// mu also serialises peer callbacks so state reports arrive in order.
	mu      sync.Mutex
	subs    []Subscription
	closed  bool
	online  bool                // client: a server answered
	clients map[string]struct{} // server: known client sessions
}

func newSession(t *Transport, busName string, role cbus.Role, peer cbus.Peer) *session {
	return &session{
		t:       t,
		bus:     busName,
		role:    role,
		id:      newSessionID(),
		peer:    peer,
		clients: make(map[string]struct{}),
	}
}

func (s *session) subscribe(topic string, fn func(Envelope)) error {
	sub, err := s.t.link.Subscribe(topic, fn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	return nil
}

func (s *session) control(kind, to string) Envelope {
	h := map[string]string{HeaderKind: kind, HeaderSession: s.id}
	if to != "" {
		h[HeaderTo] = to
	}

	return Envelope{Headers: h}
}

func (s *session) Send(ctx context.Context, msg cbus.Message) error {
	s.mu.Lock()
	closed, online := s.closed, s.online
	s.mu.Unlock()

	switch {
	case closed:
		return fmt.Errorf("%s send on %s: %w", s.t.name, s.bus, berr.ErrEndpointClosed)
	case s.role == cbus.RoleClient && !online:
		return fmt.Errorf("%s send on %s: %w", s.t.name, s.bus, berr.ErrNotConnected)
	}

	req, evt, _ := Topics(s.bus)

	topic := req
	if s.role == cbus.RoleServer {
		topic = evt
	}

	if err := s.t.publish(ctx, topic, s.t.encode(ctx, s.id, msg)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("%s publish %s: %w", s.t.name, topic, err)
	}

	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	s.online = false
	clear(s.clients)
	s.mu.Unlock()

	farewell := kindBye
	if s.role == cbus.RoleServer {
		farewell = kindGone
	}

	_, _, ctl := Topics(s.bus)

	ctx, cancel := context.WithTimeout(context.Background(), farewellTimeout)
	defer cancel()

	errs := []error{s.t.publish(ctx, ctl, s.control(farewell, ""))}
	errs = append(errs, s.unsubscribeAll())

	s.peer.OnConnState(cbus.Offline, 0)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s close %s: %w", s.t.name, s.bus, err)
	}

	return nil
}

func (s *session) unsubscribeAll() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		errs = append(errs, sub.Unsubscribe())
	}

	return errors.Join(errs...)
}

// onTraffic receives requests (server) or events (client).
func (s *session) onTraffic(env Envelope) {
	msg, err := decode(s.bus, env)
	if err != nil {
		s.t.logger.Debug("dropping message", slog.String("bus", s.bus), slog.Any("err", err))
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}

	s.peer.OnMessage(msg)
}

func (s *session) onControl(env Envelope) {
	from := env.Headers[HeaderSession]
	if from == s.id {
		return
	}

	if s.role == cbus.RoleServer {
		s.serverControl(env.Headers[HeaderKind], from)
		return
	}

	s.clientControl(env.Headers[HeaderKind], env.Headers[HeaderTo])
}

func (s *session) serverControl(kind, from string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || from == "" {
		return
	}

	switch kind {
	case kindHello:
		if _, ok := s.clients[from]; !ok {
			s.clients[from] = struct{}{}
			s.peer.OnConnState(cbus.Online, len(s.clients))
		}

		s.reply(kindWelcome, from)
	case kindBye:
		if _, ok := s.clients[from]; !ok {
			return
		}

		delete(s.clients, from)

		state := cbus.Online
		if len(s.clients) == 0 {
			state = cbus.Offline
		}

		s.peer.OnConnState(state, len(s.clients))
	}
}

func (s *session) clientControl(kind, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	switch kind {
	case kindWelcome:
		if to != s.id {
			return
		}

		s.goOnlineLocked()
	case kindAnnounce:
		// A new server does not know us yet.
		s.reply(kindHello, "")
	case kindGone:
		if s.online {
			s.online = false
			s.peer.OnConnState(cbus.Offline, 0)
		}
	}
}

func (s *session) goOnlineLocked() {
	if s.online {
		return
	}

	s.online = true
	s.peer.OnConnState(cbus.Online, 1)
}

// reply publishes a control message from a subscription callback. The publish
// runs on its own goroutine: links may deliver synchronously from Publish, and
// the answer would re-enter a session whose lock is held.
func (s *session) reply(kind, to string) {
	_, _, ctl := Topics(s.bus)
	env := s.control(kind, to)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), farewellTimeout)
		defer cancel()

		if err := s.t.publish(ctx, ctl, env); err != nil {
			s.t.logger.Debug("presence reply failed", slog.String("bus", s.bus), slog.String("kind", kind),
				slog.Any("err", err))
		}
	}()
}
