package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-appfw/adapters/broker"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/internal/log"
)

// Concrete AMQP connection-backed constructor and channel wrapper with auto-reconnect.

type Config struct {
	URL         string
	ConnTimeout time.Duration
	Logger      *slog.Logger
}

type consumer struct {
	key string
	fn  func(PubMsg)
	tag string
}

type reconnectingChannel struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	consumers map[string]*consumer
	closed    chan struct{}
	ready     chan struct{} // closed once the first channel is up
	readyOnce sync.Once
	done      chan struct{}
}

func newReconnectingChannel(cfg Config) (*reconnectingChannel, func()) {
	rc := &reconnectingChannel{
		cfg:       cfg,
		logger:    log.OrDiscard(cfg.Logger).With(slog.String("transport", "rabbitmq")),
		consumers: make(map[string]*consumer),
		closed:    make(chan struct{}),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	go rc.run()

	cleanup := func() { rc.close() }

	return rc, cleanup
}

func (rc *reconnectingChannel) channel(ctx context.Context) (*amqp.Channel, error) {
	rc.mu.RLock()
	ch := rc.ch
	rc.mu.RUnlock()

	if ch != nil {
		return ch, nil
	}

	select {
	case <-rc.ready:
	case <-rc.closed:
		return nil, fmt.Errorf("%w: rabbitmq closed", berr.ErrEndpointClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	rc.mu.RLock()
	ch = rc.ch
	rc.mu.RUnlock()

	if ch == nil {
		return nil, fmt.Errorf("%w: rabbitmq not connected", berr.ErrNotConnected)
	}

	return ch, nil
}

func (rc *reconnectingChannel) Publish(ctx context.Context, m PubMsg) error {
	ch, err := rc.channel(ctx)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			Headers:     toTable(m.Headers),
			ContentType: "application/octet-stream",
			Body:        m.Body,
		},
	)
}

// Consume registers a consumer. It is bound now if a channel is up and again
// after every reconnect.
func (rc *reconnectingChannel) Consume(routingKey string, fn func(PubMsg)) (func() error, error) {
	c := &consumer{key: routingKey, fn: fn, tag: "appfw-" + uuid.NewString()}

	rc.mu.Lock()
	rc.consumers[c.tag] = c
	ch := rc.ch
	rc.mu.Unlock()

	if ch != nil {
		if err := bind(ch, c); err != nil {
			rc.mu.Lock()
			delete(rc.consumers, c.tag)
			rc.mu.Unlock()

			return nil, err
		}
	}

	cancel := func() error {
		rc.mu.Lock()
		delete(rc.consumers, c.tag)
		ch := rc.ch
		rc.mu.Unlock()

		if ch == nil {
			return nil
		}

		return ch.Cancel(c.tag, false)
	}

	return cancel, nil
}

// bind declares a private queue for c, binds it and starts delivering.
func bind(ch *amqp.Channel, c *consumer) error {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}

	if err := ch.QueueBind(q.Name, c.key, Exchange, false, nil); err != nil {
		return err
	}

	deliveries, err := ch.Consume(q.Name, c.tag, true, true, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			c.fn(fromDelivery(d))
		}
	}()

	return nil
}

func (rc *reconnectingChannel) connect() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(rc.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-appfw"},
		Dial:       amqp.DefaultDial(rc.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, err
	}

	return conn, ch, nil
}

func (rc *reconnectingChannel) run() {
	defer close(rc.done)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for {
		select {
		case <-rc.closed:
			return
		default:
		}

		conn, ch, err := rc.connect()
		if err != nil {
			rc.logger.Warn("rabbitmq connect failed", slog.Any("err", err), slog.Duration("backoff", backoff))

			// exponential backoff with jitter
			jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
			sleep := min(backoff+jitter/2, maxBackoff)

			t := time.NewTimer(sleep)
			select {
			case <-rc.closed:
				t.Stop()
				return
			case <-t.C:
			}

			backoff = min(backoff*2, maxBackoff)

			continue
		}

		backoff = time.Second

		rc.mu.Lock()
		rc.conn = conn
		rc.ch = ch
		consumers := make([]*consumer, 0, len(rc.consumers))
		for _, c := range rc.consumers {
			consumers = append(consumers, c)
		}
		rc.mu.Unlock()

		for _, c := range consumers {
			if err := bind(ch, c); err != nil {
				rc.logger.Warn("rabbitmq rebind failed", slog.String("key", c.key), slog.Any("err", err))
			}
		}

		rc.readyOnce.Do(func() { close(rc.ready) })

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-rc.closed:
			_ = ch.Close()
			_ = conn.Close()

			return
		case <-notify:
			rc.mu.Lock()
			rc.conn, rc.ch = nil, nil
			rc.mu.Unlock()

			_ = ch.Close()
			_ = conn.Close()
		}
	}
}

func (rc *reconnectingChannel) close() {
	rc.mu.Lock()
	select {
	case <-rc.closed:
		rc.mu.Unlock()
		return
	default:
		close(rc.closed)
	}

	ch, conn := rc.ch, rc.conn
	rc.ch, rc.conn = nil, nil
	rc.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}

	if conn != nil {
		_ = conn.Close()
	}

	<-rc.done
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, ensures the bus exchange,
// and returns a transport and cleanup.
func NewWithAMQPConn(cfg Config, opts ...broker.Option) (*broker.Transport, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrTransportConfig)
	}

	rc, cleanup := newReconnectingChannel(cfg)

	return New(rc, append([]broker.Option{broker.WithLogger(cfg.Logger)}, opts...)...), cleanup, nil
}
