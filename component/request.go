package component

import (
	cbus "github.com/next-trace/scg-appfw/contract/bus"
	"github.com/next-trace/scg-appfw/endpoint"
)

// request is the payload of a resolution job.
type request interface {
	busName() string
	role() cbus.Role
}

type queryRequest struct {
	bus   string
	table cbus.EventTable
	cb    cbus.ConnCallback
}

func (r queryRequest) busName() string { return r.bus }
func (queryRequest) role() cbus.Role   { return cbus.RoleClient }

type offerRequest struct {
	bus   string
	table cbus.MsgTable
	cb    cbus.ConnCallback
}

func (r offerRequest) busName() string { return r.bus }
func (offerRequest) role() cbus.Role   { return cbus.RoleServer }

// resolution is the typed result slot of a resolution job.
type resolution struct {
	client *endpoint.Client
	server *endpoint.Server
}
