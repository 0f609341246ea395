package bus

// Code identifies an event or a request method on a bus.
type Code uint32

// Kind distinguishes requests (client to server) from events (server to clients).
type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is the unit exchanged over a Session. Payload is opaque to the framework.
type Message struct {
	Bus     string
	Kind    Kind
	Code    Code
	Payload []byte
	Headers map[string]string
}
