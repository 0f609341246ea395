// Package kafka carries bus traffic over Kafka topics through the broker
// transport. Records are keyed by the sending session so one peer's traffic
// stays ordered within a partition.
//
// Subscriptions start at the end of the topic, so presence messages published
// before a peer's consumer has joined are not seen by that peer.
package kafka

import (
	"context"

	"github.com/next-trace/scg-appfw/adapters/broker"
)

// Writer is a minimal Kafka-like writer interface.
// Users can adapt any client to this; NewWithKgo uses franz-go.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Reader delivers records of topic to fn until the returned func is called.
type Reader interface {
	Read(topic string, fn func(key, value []byte, headers map[string]string)) (stop func() error, err error)
}

// Client is a Writer and a Reader.
type Client interface {
	Writer
	Reader
}

type link struct{ c Client }

// New creates a Kafka transport over c.
func New(c Client, opts ...broker.Option) *broker.Transport {
	if c == nil {
		return broker.New("kafka", nil, opts...)
	}

	return broker.New("kafka", link{c: c}, opts...)
}

func (l link) Publish(ctx context.Context, topic string, env broker.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return l.c.Write(ctx, topic, []byte(env.Headers[broker.HeaderSession]), env.Body, env.Headers)
}

func (l link) Subscribe(topic string, fn func(broker.Envelope)) (broker.Subscription, error) {
	stop, err := l.c.Read(topic, func(_, value []byte, headers map[string]string) {
		fn(broker.Envelope{Body: value, Headers: headers})
	})
	if err != nil {
		return nil, err
	}

	return stopFunc(stop), nil
}

type stopFunc func() error

func (f stopFunc) Unsubscribe() error { return f() }
