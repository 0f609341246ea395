package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/next-trace/scg-appfw/adapters/broker"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/internal/log"
)

// Config describes a NATS connection. Zero durations and counts keep the
// nats.go defaults.
type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
	Logger        *slog.Logger
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data}

	if len(headers) > 0 {
		msg.Header = make(nats.Header, len(headers))
		for k, v := range headers {
			msg.Header[k] = []string{v}
		}
	}

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) Subscribe(subject string, fn func(data []byte, headers map[string]string)) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		var h map[string]string
		if len(m.Header) > 0 {
			h = make(map[string]string, len(m.Header))
			for k, v := range m.Header {
				if len(v) > 0 {
					h[k] = v[0]
				}
			}
		}

		fn(m.Data, h)
	})
	if err != nil {
		return nil, err
	}

	return sub.Unsubscribe, nil
}

// NewWithNATS connects to cfg.URL and returns a transport over the connection
// and a cleanup that drains it. Disconnects and reconnects are logged; the
// broker sessions survive them because NATS resubscribes on its own.
func NewWithNATS(cfg Config, opts ...broker.Option) (*broker.Transport, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrTransportConfig)
	}

	logger := log.OrDiscard(cfg.Logger).With(slog.String("transport", "nats"))

	natsOpts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", slog.Any("err", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrlRedacted()))
		}),
	}

	if cfg.Name != "" {
		natsOpts = append(natsOpts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		natsOpts = append(natsOpts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.ReconnectWait > 0 {
		natsOpts = append(natsOpts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	if cfg.MaxReconnects != 0 {
		natsOpts = append(natsOpts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, natsOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect %s: %w", berr.ErrConnectFailed, cfg.URL, err)
	}

	logger.Debug("nats connected", slog.String("url", nc.ConnectedUrlRedacted()))

	cleanup := func() {
		if nc.IsClosed() {
			return
		}

		if err := nc.Drain(); err != nil {
			logger.Debug("nats drain", slog.Any("err", err))
			nc.Close()
		}
	}

	return New(natsClient{nc: nc}, opts...), cleanup, nil
}
