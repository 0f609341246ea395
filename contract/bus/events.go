package bus

import (
	"context"

	"github.com/google/uuid"
)

// Role tells which side of a bus an endpoint is.
type Role uint8

const (
	RoleClient Role = iota + 1
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// ConnState is the connectivity of an endpoint as reported by its transport.
type ConnState uint8

const (
	Offline ConnState = iota
	Online
)

func (s ConnState) String() string {
	if s == Online {
		return "online"
	}

	return "offline"
}

// ConnEvent is delivered to connection callbacks.
// Peers is the number of remote sessions when the transport can tell, otherwise 0 or 1.
type ConnEvent struct {
	Bus   string
	Role  Role
	State ConnState
	Peers int
}

// ConnCallback receives connection state changes on the worker it was registered with.
type ConnCallback func(ctx context.Context, ev ConnEvent)

// Handle identifies one connection-notification registration.
type Handle struct{ id uuid.UUID }

// NewHandle returns a fresh, non-zero handle.
func NewHandle() Handle { return Handle{id: uuid.New()} }

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.id == uuid.Nil }

func (h Handle) String() string { return h.id.String() }
