package bus

import "context"

// Handler processes an inbound message for a single code.
// Handlers run on the worker the endpoint was created with.
type Handler func(ctx context.Context, msg Message) error

// EventTable maps event codes to handlers on the client side.
type EventTable map[Code]Handler

// MsgTable maps request codes to handlers on the server side.
type MsgTable map[Code]Handler

// Middleware wraps a Handler, e.g. for logging, metrics or payload checks.
type Middleware func(next Handler) Handler

// Chain wraps h so that the first middleware runs first.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}

	return h
}
