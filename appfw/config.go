package appfw

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	berr "github.com/next-trace/scg-appfw/contract/errors"
	"github.com/next-trace/scg-appfw/worker"
)

// DefaultServiceURLPrefix is prepended to bus names to form service URLs.
const DefaultServiceURLPrefix = "svc://"

// Config controls a Framework.
type Config struct {
	// Name identifies the process; endpoints are labelled with it.
	Name             string `yaml:"name"`
	ServiceURLPrefix string `yaml:"service_url_prefix"`
	// QueueSize bounds the designated worker's normal lane.
	QueueSize   int               `yaml:"queue_size"`
	StopPolicy  worker.StopPolicy `yaml:"stop_policy"`
	StopTimeout time.Duration     `yaml:"stop_timeout"`
}

// DefaultConfig returns a usable configuration for name.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		ServiceURLPrefix: DefaultServiceURLPrefix,
		QueueSize:        worker.DefaultQueueSize,
		StopPolicy:       worker.Drain,
		StopTimeout:      5 * time.Second,
	}
}

// LoadConfig reads YAML from r over the defaults for name. Unknown keys are errors.
func LoadConfig(r io.Reader, name string) (Config, error) {
	cfg := DefaultConfig(name)

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("appfw config: %w", errors.Join(berr.ErrInvalidConfig, err))
	}

	return cfg, cfg.Validate()
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("appfw config: name required: %w", berr.ErrInvalidConfig)
	}

	if !strings.HasSuffix(c.ServiceURLPrefix, "://") || c.ServiceURLPrefix == "://" {
		return fmt.Errorf("appfw config: service url prefix %q must look like scheme://: %w",
			c.ServiceURLPrefix, berr.ErrInvalidConfig)
	}

	return nil
}

// BindFlags registers the config fields on fs, using the current values as defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Name, "name", c.Name, "process name used as endpoint label")
	fs.StringVar(&c.ServiceURLPrefix, "service-url-prefix", c.ServiceURLPrefix, "prefix joined with bus names to form service URLs")
	fs.IntVar(&c.QueueSize, "queue-size", c.QueueSize, "capacity of the designated worker queue (0 = unbounded)")
	fs.Var((*stopPolicyValue)(&c.StopPolicy), "stop-policy", "what to do with queued jobs on shutdown: drain|discard")
	fs.DurationVar(&c.StopTimeout, "stop-timeout", c.StopTimeout, "how long shutdown waits for the worker")
}

type stopPolicyValue worker.StopPolicy

func (v *stopPolicyValue) String() string { return worker.StopPolicy(*v).String() }

func (v *stopPolicyValue) Set(s string) error {
	return (*worker.StopPolicy)(v).UnmarshalText([]byte(s))
}

func (v *stopPolicyValue) Type() string { return "policy" }
