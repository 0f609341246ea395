package endpoint

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
)

// Server is the binding side of a bus.
type Server struct {
	core
	msgs    map[cbus.Code]cbus.Handler
	caching bool
	cache   map[cbus.Code]cbus.Message
}

var (
	_ Endpoint  = (*Server)(nil)
	_ cbus.Peer = (*Server)(nil)
)

// NewServer creates an unbound server.
func NewServer(cfg Config) *Server {
	s := &Server{
		msgs:  make(map[cbus.Code]cbus.Handler),
		cache: make(map[cbus.Code]cbus.Message),
	}
	s.init(cfg, cbus.RoleServer)

	return s
}

// Bind listens on url through the transport. Binding twice is a no-op.
func (s *Server) Bind(ctx context.Context, url string) error {
	return s.establish(ctx, url, berr.ErrBindFailed, "bind", func(ctx context.Context, url string) (cbus.Session, error) {
		return s.transport.Listen(ctx, url, s)
	})
}

// EnableEventCache keeps the last broadcast per event code and replays the
// cache when new clients connect. Disabling drops the cache.
func (s *Server) EnableEventCache(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.caching = on
	if !on {
		clear(s.cache)
	}
}

// EventCacheEnabled reports the cache setting.
func (s *Server) EventCacheEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.caching
}

// CachedEvent returns the last broadcast for code when caching is on.
func (s *Server) CachedEvent(code cbus.Code) (cbus.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.cache[code]

	return m, ok
}

// RegisterMsgHandle merges table into the server's request table and returns
// the codes it installed. A table with any code already taken is rejected as a
// whole with ErrDuplicateRegistration.
func (s *Server) RegisterMsgHandle(table cbus.MsgTable) ([]cbus.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes, err := mergeTable(s.msgs, table)
	if err != nil {
		return nil, fmt.Errorf("register msg handle on %s: %w", s.busName, err)
	}

	return codes, nil
}

// UnregisterMsgHandle removes the given codes.
func (s *Server) UnregisterMsgHandle(codes ...cbus.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, code := range codes {
		delete(s.msgs, code)
	}
}

// HasMsg reports whether a handler is installed for code.
func (s *Server) HasMsg(code cbus.Code) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.msgs[code]

	return ok
}

// Broadcast publishes an event to every connected client.
func (s *Server) Broadcast(ctx context.Context, code cbus.Code, payload []byte) error {
	msg := cbus.Message{Bus: s.busName, Kind: cbus.KindEvent, Code: code, Payload: payload}

	s.mu.Lock()
	if s.caching {
		s.cache[code] = msg
	}
	s.mu.Unlock()

	return s.send(ctx, msg)
}

func (s *Server) OnConnState(state cbus.ConnState, peers int) {
	prev, ok := s.setState(state, peers)
	if !ok || state != cbus.Online || peers <= prev {
		return
	}

	s.replayCache()
}

func (s *Server) OnMessage(msg cbus.Message) {
	if msg.Kind != cbus.KindRequest {
		return
	}

	s.mu.Lock()
	h := s.msgs[msg.Code]
	s.mu.Unlock()

	s.dispatch(h, msg)
}

// replayCache re-sends cached events, in code order, from the server worker.
func (s *Server) replayCache() {
	s.mu.Lock()
	if !s.caching || len(s.cache) == 0 || s.worker == nil {
		s.mu.Unlock()
		return
	}

	msgs := make([]cbus.Message, 0, len(s.cache))
	for _, m := range s.cache {
		msgs = append(msgs, m)
	}
	s.mu.Unlock()

	slices.SortFunc(msgs, func(a, b cbus.Message) int { return cmp.Compare(a.Code, b.Code) })

	err := s.worker.PostFunc("replay-cache "+s.busName, func(ctx context.Context) error {
		for _, m := range msgs {
			if err := s.send(ctx, m); err != nil {
				s.logger.Debug("cache replay failed", slog.Uint64("code", uint64(m.Code)), slog.Any("err", err))
				return err
			}
		}

		return nil
	})
	if err != nil {
		s.logger.Debug("cache replay dropped", slog.Any("err", err))
	}
}
