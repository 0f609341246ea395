// Package nats carries bus traffic over NATS subjects through the broker
// transport. Subjects are "<bus>.req", "<bus>.evt" and "<bus>.ctl".
package nats

import (
	"context"

	"github.com/next-trace/scg-appfw/adapters/broker"
)

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Subscribe delivers messages on subject to fn until the returned func is called.
	Subscribe(subject string, fn func(data []byte, headers map[string]string)) (unsubscribe func() error, err error)
}

type link struct{ c Client }

// New creates a NATS transport over c. A nil client yields a transport whose
// Dial and Listen fail with ErrTransportConfig.
func New(c Client, opts ...broker.Option) *broker.Transport {
	if c == nil {
		return broker.New("nats", nil, opts...)
	}

	return broker.New("nats", link{c: c}, opts...)
}

func (l link) Publish(ctx context.Context, subject string, env broker.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return l.c.Publish(subject, env.Body, env.Headers)
}

func (l link) Subscribe(subject string, fn func(broker.Envelope)) (broker.Subscription, error) {
	unsub, err := l.c.Subscribe(subject, func(data []byte, headers map[string]string) {
		fn(broker.Envelope{Body: data, Headers: headers})
	})
	if err != nil {
		return nil, err
	}

	return unsubscribeFunc(unsub), nil
}

type unsubscribeFunc func() error

func (f unsubscribeFunc) Unsubscribe() error { return f() }
