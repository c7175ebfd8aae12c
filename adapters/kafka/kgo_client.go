//go:build franz

package kafka

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	berr "github.com/next-trace/scg-service-core/contract/errors"
)

// Concrete franz-go based constructor and writer wrapper.

type Config struct {
	Brokers     []string
	TLS         *tls.Config
	Acks        kgo.Acks
	Idempotent  bool
	ClientID    string
	Compression kgo.CompressionCodec
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(context.Background(), rec).FirstErr()
}

func (c Config) opts() []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(c.Brokers...)}
	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}

	if c.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(c.TLS))
	}

	if c.Compression != (kgo.CompressionCodec{}) {
		opts = append(opts, kgo.ProducerBatchCompression(c.Compression))
	}

	switch {
	case c.Idempotent:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case c.Acks != (kgo.Acks{}):
		opts = append(opts, kgo.RequiredAcks(c.Acks), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.DisableIdempotentWrite())
	}

	return opts
}

// NewWithKgo builds a franz-go client based Forwarder. The returned cleanup closes the client;
// closing the forwarder does the same.
func NewWithKgo(cfg Config, channels []string, opts ...Option) (*Forwarder, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrPublishFailed)
	}

	cl, err := kgo.NewClient(cfg.opts()...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrPublishFailed, err)
	}

	f := New(kgoWriter{cl: cl}, channels, opts...)
	f.closer = cl.Close

	return f, cl.Close, nil
}
