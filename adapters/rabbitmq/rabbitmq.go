package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-appfw/adapters/broker"
	cbus "github.com/next-trace/scg-appfw/contract/bus"
)

// Exchange is the topic exchange all bus routing keys are published to.
const Exchange = "appfw.bus"

type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Consumer delivers messages routed with routingKey to fn until the returned
// func is called.
type Consumer interface {
	Consume(routingKey string, fn func(PubMsg)) (cancel func() error, err error)
}

// Channel is what the transport needs from an AMQP channel.
type Channel interface {
	Publisher
	Consumer
}

type link struct{ ch Channel }

func New(ch Channel, opts ...broker.Option) *broker.Transport {
	if ch == nil {
		return broker.New("rabbitmq", nil, opts...)
	}

	return broker.New("rabbitmq", link{ch: ch}, opts...)
}

// NewWithPropagator allows configuring a HeaderPropagator for context propagation.
func NewWithPropagator(ch Channel, hp cbus.HeaderPropagator, opts ...broker.Option) *broker.Transport {
	return New(ch, append(opts, broker.WithPropagator(hp))...)
}

func (l link) Publish(ctx context.Context, routingKey string, env broker.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return l.ch.Publish(ctx, PubMsg{
		Exchange:   Exchange,
		RoutingKey: routingKey,
		Body:       env.Body,
		Headers:    env.Headers,
	})
}

func (l link) Subscribe(routingKey string, fn func(broker.Envelope)) (broker.Subscription, error) {
	cancel, err := l.ch.Consume(routingKey, func(m PubMsg) {
		fn(broker.Envelope{Body: m.Body, Headers: m.Headers})
	})
	if err != nil {
		return nil, err
	}

	return cancelFunc(cancel), nil
}

type cancelFunc func() error

func (f cancelFunc) Unsubscribe() error { return f() }

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}

	h := make(amqp.Table, len(headers))
	for k, v := range headers {
		h[k] = v
	}

	return h
}

func fromDelivery(d amqp.Delivery) PubMsg {
	m := PubMsg{Exchange: d.Exchange, RoutingKey: d.RoutingKey, Body: d.Body}

	if len(d.Headers) > 0 {
		m.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			if s, ok := v.(string); ok {
				m.Headers[k] = s
			}
		}
	}

	return m
}
