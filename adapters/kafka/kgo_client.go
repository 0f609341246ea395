package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/next-trace/scg-appfw/adapters/broker"
	berr "github.com/next-trace/scg-appfw/contract/errors"
)

// Concrete franz-go based constructor and client wrapper.

type SASLConfig struct {
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string
	Username  string
	Password  string
}

type Config struct {
	Brokers []string
	TLS     *tls.Config
	SASL    *SASLConfig
	// Acks is all (default), leader or none. Idempotent writes need all.
	Acks       string
	Idempotent bool
	ClientID   string
	// Compression is none, gzip, snappy, lz4 or zstd.
	Compression string
}

type kgoClient struct {
	producer *kgo.Client
	base     []kgo.Opt
}

func (c *kgoClient) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return c.producer.ProduceSync(ctx, rec).FirstErr()
}

// Read starts a dedicated consumer at the end of topic.
func (c *kgoClient) Read(topic string, fn func(key, value []byte, headers map[string]string)) (func() error, error) {
	opts := append(append([]kgo.Opt(nil), c.base...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			fetches := cl.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}

			fetches.EachRecord(func(r *kgo.Record) {
				h := make(map[string]string, len(r.Headers))
				for _, rh := range r.Headers {
					h[rh.Key] = string(rh.Value)
				}

				fn(r.Key, r.Value, h)
			})
		}
	}()

	stop := func() error {
		cancel()
		<-done
		cl.Close()

		return nil
	}

	return stop, nil
}

func saslOpt(cfg *SASLConfig) (kgo.Opt, error) {
	switch strings.ToUpper(cfg.Mechanism) {
	case "PLAIN":
		return kgo.SASL(plain.Auth{User: cfg.Username, Pass: cfg.Password}.AsMechanism()), nil
	case "SCRAM-SHA-256":
		return kgo.SASL(scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha256Mechanism()), nil
	case "SCRAM-SHA-512":
		return kgo.SASL(scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha512Mechanism()), nil
	default:
		return nil, fmt.Errorf("%w: unsupported SASL mechanism %q", berr.ErrTransportConfig, cfg.Mechanism)
	}
}

// NewWithKgo builds a franz-go backed transport. The returned cleanup should
// be called to close the producer.
func NewWithKgo(cfg Config, opts ...broker.Option) (*broker.Transport, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrTransportConfig)
	}

	base := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		base = append(base, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		base = append(base, kgo.DialTLSConfig(cfg.TLS))
	}

	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		opt, err := saslOpt(cfg.SASL)
		if err != nil {
			return nil, nil, err
		}

		base = append(base, opt)
	}

	acks, err := parseAcks(cfg.Acks)
	if err != nil {
		return nil, nil, err
	}

	prodOpts := append(append([]kgo.Opt(nil), base...), kgo.AllowAutoTopicCreation(), kgo.RequiredAcks(acks))
	if !cfg.Idempotent || acks != kgo.AllISRAcks() {
		prodOpts = append(prodOpts, kgo.DisableIdempotentWrite())
	}

	if cfg.Compression != "" {
		codec, err := parseCompression(cfg.Compression)
		if err != nil {
			return nil, nil, err
		}

		prodOpts = append(prodOpts, kgo.ProducerBatchCompression(codec))
	}

	producer, err := kgo.NewClient(prodOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrConnectFailed, err)
	}

	tr := New(&kgoClient{producer: producer, base: base}, opts...)
	cleanup := func() { producer.Close() }

	return tr, cleanup, nil
}

func parseAcks(s string) (kgo.Acks, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return kgo.AllISRAcks(), nil
	case "leader":
		return kgo.LeaderAck(), nil
	case "none":
		return kgo.NoAck(), nil
	default:
		return kgo.Acks{}, fmt.Errorf("%w: unknown acks %q", berr.ErrTransportConfig, s)
	}
}

func parseCompression(s string) (kgo.CompressionCodec, error) {
	switch strings.ToLower(s) {
	case "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	default:
		return kgo.CompressionCodec{}, fmt.Errorf("%w: unknown compression %q", berr.ErrTransportConfig, s)
	}
}
