package appfw_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-appfw/appfw"
	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/worker"
)

func TestConfig_DefaultsValidate(t *testing.T) {
	cfg := appfw.DefaultConfig("media")
	require.NoError(t, cfg.Validate())
	require.Equal(t, appfw.DefaultServiceURLPrefix, cfg.ServiceURLPrefix)
	require.Equal(t, worker.Drain, cfg.StopPolicy)
}

func TestConfig_ValidateRejects(t *testing.T) {
	cases := map[string]func(*appfw.Config){
		"empty name":    func(c *appfw.Config) { c.Name = "" },
		"bare prefix":   func(c *appfw.Config) { c.ServiceURLPrefix = "svc" },
		"scheme only":   func(c *appfw.Config) { c.ServiceURLPrefix = "://" },
		"missing slash": func(c *appfw.Config) { c.ServiceURLPrefix = "svc:/" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := appfw.DefaultConfig("media")
			mutate(&cfg)

			err := cfg.Validate()
			if !errors.Is(err, berr.ErrInvalidConfig) {
				t.Fatalf("want ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfig_BindFlags(t *testing.T) {
	cfg := appfw.DefaultConfig("media")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)

	err := fs.Parse([]string{
		"--name=player",
		"--service-url-prefix=nats://",
		"--queue-size=8",
		"--stop-policy=discard",
		"--stop-timeout=250ms",
	})
	require.NoError(t, err)

	require.Equal(t, "player", cfg.Name)
	require.Equal(t, "nats://", cfg.ServiceURLPrefix)
	require.Equal(t, 8, cfg.QueueSize)
	require.Equal(t, worker.Discard, cfg.StopPolicy)
	require.Equal(t, 250*time.Millisecond, cfg.StopTimeout)
}

func TestConfig_BindFlagsRejectsUnknownPolicy(t *testing.T) {
	cfg := appfw.DefaultConfig("media")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetOutput(nopWriter{})
	cfg.BindFlags(fs)

	require.Error(t, fs.Parse([]string{"--stop-policy=later"}))
	require.Equal(t, worker.Drain, cfg.StopPolicy)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestLoadConfig(t *testing.T) {
	cfg, err := appfw.LoadConfig(strings.NewReader(`
name: player
queue_size: 16
stop_policy: discard
stop_timeout: 1500ms
`), "media")
	require.NoError(t, err)
	require.Equal(t, "player", cfg.Name)
	require.Equal(t, appfw.DefaultServiceURLPrefix, cfg.ServiceURLPrefix, "unset keys keep defaults")
	require.Equal(t, 16, cfg.QueueSize)
	require.Equal(t, worker.Discard, cfg.StopPolicy)
	require.Equal(t, 1500*time.Millisecond, cfg.StopTimeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown key": "colour: red\n",
		"bad policy":  "stop_policy: later\n",
		"bad prefix":  "service_url_prefix: svc\n",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := appfw.LoadConfig(strings.NewReader(doc), "media")
			require.ErrorIs(t, err, berr.ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_EmptyDocumentKeepsDefaults(t *testing.T) {
	cfg, err := appfw.LoadConfig(strings.NewReader(""), "media")
	require.NoError(t, err)
	require.Equal(t, appfw.DefaultConfig("media"), cfg)
}
