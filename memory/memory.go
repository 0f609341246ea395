// Package memory is an in-process pub/sub hub. It implements broker.Link so the
// broker transport can run without an external server, in tests and demos.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/next-trace/scg-appfw/adapters/broker"
)

// Broker delivers every published envelope synchronously to the current
// subscribers of its topic.
type Broker struct {
	mu         sync.RWMutex
	topics     map[string][]*subscription
	published  map[string]int
	publishErr error
}

type subscription struct {
	b     *Broker
	topic string
	fn    func(broker.Envelope)
	mu    sync.Mutex
	done  atomic.Bool
}

var _ broker.Link = (*Broker)(nil)

// NewBroker returns an empty hub.
func NewBroker() *Broker {
	return &Broker{
		topics:    make(map[string][]*subscription),
		published: make(map[string]int),
	}
}

// New returns a broker transport over a fresh hub, plus the hub itself.
func New(opts ...broker.Option) (*broker.Transport, *Broker) {
	b := NewBroker()
	return broker.New("memory", b, opts...), b
}

// SetPublishErr makes every later Publish fail with err; nil restores delivery.
func (b *Broker) SetPublishErr(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// Published returns how many envelopes were accepted for topic.
func (b *Broker) Published(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.published[topic]
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.topics[topic])
}

func (b *Broker) Publish(ctx context.Context, topic string, env broker.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()

		return err
	}

	b.published[topic]++
	subs := slices.Clone(b.topics[topic])
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(broker.Envelope{Body: env.Body, Headers: maps.Clone(env.Headers)})
	}

	return nil
}

func (b *Broker) Subscribe(topic string, fn func(broker.Envelope)) (broker.Subscription, error) {
	s := &subscription{b: b, topic: topic, fn: fn}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], s)
	b.mu.Unlock()

	return s, nil
}

func (s *subscription) deliver(env broker.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done.Load() {
		return
	}

	s.fn(env)
}

func (s *subscription) Unsubscribe() error {
	if !s.done.CompareAndSwap(false, true) {
		return nil
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	s.b.topics[s.topic] = slices.DeleteFunc(s.b.topics[s.topic], func(o *subscription) bool { return o == s })
	if len(s.b.topics[s.topic]) == 0 {
		delete(s.b.topics, s.topic)
	}

	return nil
}
