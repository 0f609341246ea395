package bus

import "context"

// HeaderPropagator copies request-scoped values from ctx, such as a trace
// parent, into the headers of an outgoing message. Broker transports call it
// for every Send. Implementations must be safe for concurrent use and must
// only add keys.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// PropagatorFunc adapts a plain function to HeaderPropagator.
type PropagatorFunc func(ctx context.Context, headers map[string]string)

func (f PropagatorFunc) Inject(ctx context.Context, headers map[string]string) { f(ctx, headers) }

// NopHeaderPropagator leaves headers untouched.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}
