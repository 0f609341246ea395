package bus

import "context"

// Peer is the endpoint side of a Session. Transports call it from their own
// goroutines; implementations must hand work off rather than block.
type Peer interface {
	OnConnState(state ConnState, peers int)
	OnMessage(msg Message)
}

// Session is one established connect or bind.
type Session interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Transport establishes sessions for service URLs.
// Dial is used by clients (connect), Listen by servers (bind).
//
// This keeps endpoints decoupled from concrete transports while enabling simple injection
// of user-provided adapters (NATS, RabbitMQ, Kafka, in-memory, etc.).
type Transport interface {
	Dial(ctx context.Context, url string, peer Peer) (Session, error)
	Listen(ctx context.Context, url string, peer Peer) (Session, error)
}
