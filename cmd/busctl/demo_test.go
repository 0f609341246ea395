package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-appfw/appfw"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/internal/log"
)

func TestRunDemo(t *testing.T) {
	for _, kind := range []string{"inmem", "memory"} {
		t.Run(kind, func(t *testing.T) {
			o := demoOptions{
				transport: transportOptions{kind: kind},
				bus:       "media.bus",
				count:     2,
				wait:      5 * time.Second,
			}

			var out bytes.Buffer
			err := runDemo(t.Context(), appfw.DefaultConfig("busctl"), o, log.OrDiscard(nil), &out)
			require.NoError(t, err)

			got := out.String()
			require.Contains(t, got, "client media.bus: online")
			require.Contains(t, got, "started track-1")
			require.Contains(t, got, "started track-2")
		})
	}
}

func TestRunDemo_UnknownTransport(t *testing.T) {
	o := demoOptions{transport: transportOptions{kind: "carrier-pigeon"}, bus: "x", count: 1, wait: time.Second}

	err := runDemo(t.Context(), appfw.DefaultConfig("busctl"), o, log.OrDiscard(nil), &bytes.Buffer{})
	require.ErrorIs(t, err, berr.ErrTransportConfig)
	require.True(t, strings.Contains(err.Error(), "carrier-pigeon"))
}
