package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/next-trace/scg-appfw/adapters/broker"
	"github.com/next-trace/scg-appfw/adapters/inmemory"
	"github.com/next-trace/scg-appfw/adapters/kafka"
	"github.com/next-trace/scg-appfw/adapters/nats"
	"github.com/next-trace/scg-appfw/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/memory"
)

type transportOptions struct {
	kind    string
	url     string
	brokers []string
	timeout time.Duration
}

// openTransport builds the transport named by o.kind. cleanup is never nil on success.
func openTransport(o transportOptions, name string, logger *slog.Logger) (cbus.Transport, func(), error) {
	nop := func() {}

	switch o.kind {
	case "inmem":
		return inmemory.New(), nop, nil
	case "memory":
		tr, _ := memory.New(broker.WithLogger(logger))
		return tr, nop, nil
	case "nats":
		tr, cleanup, err := nats.NewWithNATS(nats.Config{URL: o.url, Name: name, ConnTimeout: o.timeout, Logger: logger},
			broker.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}

		return tr, cleanup, nil
	case "amqp":
		tr, cleanup, err := rabbitmq.NewWithAMQPConn(rabbitmq.Config{URL: o.url, ConnTimeout: o.timeout, Logger: logger})
		if err != nil {
			return nil, nil, err
		}

		return tr, cleanup, nil
	case "kafka":
		tr, cleanup, err := kafka.NewWithKgo(kafka.Config{Brokers: o.brokers, ClientID: name},
			broker.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}

		return tr, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("transport %q: want inmem, memory, nats, amqp or kafka: %w", o.kind, berr.ErrTransportConfig)
	}
}
