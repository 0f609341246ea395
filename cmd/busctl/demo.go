package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/next-trace/scg-appfw/appfw"
	"github.com/next-trace/scg-appfw/component"
	cbus "github.com/next-trace/scg-appfw/contract/bus"
	"github.com/next-trace/scg-appfw/endpoint"
	"github.com/next-trace/scg-appfw/worker"
)

const (
	codePlay    cbus.Code = 1
	codeStarted cbus.Code = 100
)

type demoOptions struct {
	transport transportOptions
	bus       string
	count     int
	wait      time.Duration
}

var demo = demoOptions{
	transport: transportOptions{kind: "inmem", timeout: 5 * time.Second},
	bus:       "media.bus",
	count:     3,
	wait:      10 * time.Second,
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "offer and query a bus in one process and exchange requests and events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return runDemo(ctx, config, demo, logger, cmd.OutOrStdout())
	},
}

func bindDemoFlags(fs *pflag.FlagSet) {
	fs.StringVar(&demo.transport.kind, "transport", demo.transport.kind, "inmem|memory|nats|amqp|kafka")
	fs.StringVar(&demo.transport.url, "url", "", "broker URL for nats and amqp")
	fs.StringSliceVar(&demo.transport.brokers, "brokers", nil, "seed brokers for kafka")
	fs.DurationVar(&demo.transport.timeout, "conn-timeout", demo.transport.timeout, "broker connect timeout")
	fs.StringVar(&demo.bus, "bus", demo.bus, "bus name to offer and query")
	fs.IntVar(&demo.count, "count", demo.count, "requests to send")
	fs.DurationVar(&demo.wait, "wait", demo.wait, "how long to wait for the peer and the replies")
}

// runDemo plays both sides of a bus: an engine component serves play
// requests and answers each with a started event that a ui component,
// running its callbacks on its own worker, prints to out.
func runDemo(ctx context.Context, cfg appfw.Config, o demoOptions, logger *slog.Logger, w io.Writer) error {
	out := &lockedWriter{w: w}

	tr, cleanup, err := openTransport(o.transport, cfg.Name, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	fw, err := appfw.New(cfg, tr, appfw.WithLogger(logger))
	if err != nil {
		return err
	}

	if err := fw.Start(); err != nil {
		return err
	}
	defer func() { _ = fw.Close(context.Background()) }()

	uiWorker := worker.New(cfg.Name+"/ui", worker.WithLogger(logger))
	if err := uiWorker.Start(); err != nil {
		return err
	}
	defer func() { _ = uiWorker.Stop(context.Background()) }()

	engine := component.New(fw, "engine")
	ui := component.New(fw, "ui", component.WithWorker(uiWorker))

	defer func() {
		_ = ui.Close(context.Background())
		_ = engine.Close(context.Background())
	}()

	var srv *endpoint.Server

	srv, err = engine.OfferService(ctx, o.bus, cbus.MsgTable{
		codePlay: func(ctx context.Context, m cbus.Message) error {
			return srv.Broadcast(ctx, codeStarted, m.Payload)
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("offer %s: %w", o.bus, err)
	}

	online := make(chan struct{}, 1)
	started := make(chan string, o.count)

	cl, err := ui.QueryService(ctx, o.bus,
		cbus.EventTable{codeStarted: func(_ context.Context, m cbus.Message) error {
			started <- string(m.Payload)
			return nil
		}},
		func(_ context.Context, ev cbus.ConnEvent) {
			fmt.Fprintf(out, "%s %s: %s (%d peers)\n", ev.Role, ev.Bus, ev.State, ev.Peers)

			if ev.State == cbus.Online {
				select {
				case online <- struct{}{}:
				default:
				}
			}
		})
	if err != nil {
		return fmt.Errorf("query %s: %w", o.bus, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.wait)
	defer cancel()

	select {
	case <-online:
	case <-waitCtx.Done():
		return fmt.Errorf("waiting for %s to come online: %w", o.bus, waitCtx.Err())
	}

	for i := range o.count {
		if err := cl.Invoke(waitCtx, codePlay, []byte("track-"+strconv.Itoa(i+1))); err != nil {
			return fmt.Errorf("invoke play: %w", err)
		}
	}

	for range o.count {
		select {
		case track := <-started:
			fmt.Fprintf(out, "started %s\n", track)
		case <-waitCtx.Done():
			return fmt.Errorf("waiting for events: %w", waitCtx.Err())
		}
	}

	return nil
}

// lockedWriter serializes writes from the ui worker and the caller.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.w.Write(p)
}
