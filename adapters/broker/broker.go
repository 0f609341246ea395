package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/internal/log"
)

// Header keys reserved by the transport.
const (
	HeaderKind    = "x-bus-kind"
	HeaderCode    = "x-bus-code"
	HeaderSession = "x-bus-session"
	HeaderTo      = "x-bus-to"
)

const (
	kindRequest  = "req"
	kindEvent    = "evt"
	kindHello    = "hello"
	kindWelcome  = "welcome"
	kindAnnounce = "announce"
	kindBye      = "bye"
	kindGone     = "gone"
)

// Envelope is the broker-neutral unit a Link moves.
type Envelope struct {
	Body    []byte
	Headers map[string]string
}

// Subscription is an active topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// Link is the minimal pub/sub surface a broker client provides. fn may be
// called from any goroutine, but calls for one subscription must not overlap.
type Link interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Subscribe(topic string, fn func(Envelope)) (Subscription, error)
}

// Transport implements cbus.Transport over a Link.
type Transport struct {
	name       string
	link       Link
	propagator cbus.HeaderPropagator
	logger     *slog.Logger
}

var _ cbus.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithPropagator injects tracing context into outgoing headers.
func WithPropagator(p cbus.HeaderPropagator) Option {
	return func(t *Transport) { t.propagator = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New builds a Transport. name labels errors and logs ("nats", "rabbitmq", ...).
func New(name string, link Link, opts ...Option) *Transport {
	t := &Transport{name: name, link: link, propagator: cbus.NopHeaderPropagator{}}
	for _, opt := range opts {
		opt(t)
	}

	t.logger = log.OrDiscard(t.logger).With(slog.String("transport", name))

	return t
}

// Name returns the label passed to New.
func (t *Transport) Name() string { return t.name }

// Topics returns the request, event and presence topics for busName.
func Topics(busName string) (req, evt, ctl string) {
	return busName + ".req", busName + ".evt", busName + ".ctl"
}

func (t *Transport) Dial(ctx context.Context, url string, peer cbus.Peer) (cbus.Session, error) {
	return t.open(ctx, url, cbus.RoleClient, peer)
}

func (t *Transport) Listen(ctx context.Context, url string, peer cbus.Peer) (cbus.Session, error) {
	return t.open(ctx, url, cbus.RoleServer, peer)
}

func (t *Transport) open(ctx context.Context, url string, role cbus.Role, peer cbus.Peer) (cbus.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, busName, err := cbus.SplitURL(url)
	if err != nil {
		return nil, err
	}

	if t.link == nil {
		return nil, fmt.Errorf("%s open %s: %w", t.name, url, berr.ErrTransportConfig)
	}

	s := newSession(t, busName, role, peer)
	req, evt, ctl := Topics(busName)

	inbound, greet := evt, kindHello
	if role == cbus.RoleServer {
		inbound, greet = req, kindAnnounce
	}

	if err := s.subscribe(inbound, s.onTraffic); err != nil {
		return nil, t.fail(s, "subscribe "+inbound, err)
	}

	if err := s.subscribe(ctl, s.onControl); err != nil {
		return nil, t.fail(s, "subscribe "+ctl, err)
	}

	if err := t.publish(ctx, ctl, s.control(greet, "")); err != nil {
		return nil, t.fail(s, "greet", err)
	}

	t.logger.Debug("session opened", slog.String("bus", busName), slog.String("role", role.String()),
		slog.String("session", s.id))

	return s, nil
}

func (t *Transport) fail(s *session, op string, err error) error {
	_ = s.unsubscribeAll()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%s %s: %w", t.name, op, err)
}

func (t *Transport) publish(ctx context.Context, topic string, env Envelope) error {
	return t.link.Publish(ctx, topic, env)
}

// encode builds the envelope for an outgoing bus message.
func (t *Transport) encode(ctx context.Context, sessionID string, msg cbus.Message) Envelope {
	h := make(map[string]string, len(msg.Headers)+4)
	for k, v := range msg.Headers {
		h[k] = v
	}

	if ctx != nil {
		t.propagator.Inject(ctx, h)
	}

	kind := kindRequest
	if msg.Kind == cbus.KindEvent {
		kind = kindEvent
	}

	h[HeaderKind] = kind
	h[HeaderCode] = strconv.FormatUint(uint64(msg.Code), 10)
	h[HeaderSession] = sessionID

	return Envelope{Body: msg.Payload, Headers: h}
}

// decode is the inverse of encode; transport headers are stripped.
func decode(busName string, env Envelope) (cbus.Message, error) {
	var kind cbus.Kind

	switch env.Headers[HeaderKind] {
	case kindRequest:
		kind = cbus.KindRequest
	case kindEvent:
		kind = cbus.KindEvent
	default:
		return cbus.Message{}, fmt.Errorf("unexpected kind %q", env.Headers[HeaderKind])
	}

	code, err := strconv.ParseUint(env.Headers[HeaderCode], 10, 32)
	if err != nil {
		return cbus.Message{}, fmt.Errorf("bad code header: %w", err)
	}

	var headers map[string]string

	for k, v := range env.Headers {
		switch k {
		case HeaderKind, HeaderCode, HeaderSession, HeaderTo:
			continue
		}

		if headers == nil {
			headers = make(map[string]string)
		}

		headers[k] = v
	}

	return cbus.Message{
		Bus:     busName,
		Kind:    kind,
		Code:    cbus.Code(code),
		Payload: env.Body,
		Headers: headers,
	}, nil
}

func newSessionID() string { return uuid.NewString() }
