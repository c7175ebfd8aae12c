package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

type Config struct {
	URL  string
	Name string
	// ConnTimeout bounds the initial dial; 0 keeps the nats.go default.
	ConnTimeout time.Duration
	// MaxReconnects is passed through when non-zero; -1 reconnects forever.
	MaxReconnects int
}

// conn is the Client over a live *nats.Conn.
type conn struct{ nc *nats.Conn }

func (c conn) Publish(subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data

	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c conn) Subscribe(subject string, fn MsgHandler) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		headers := make(map[string]string, len(m.Header))
		for k, v := range m.Header {
			if len(v) > 0 {
				headers[k] = v[0]
			}
		}

		fn(m.Subject, m.Data, headers)
	})
	if err != nil {
		return nil, err
	}

	// The subscription is live on the server once the round trip returns.
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	return sub.Unsubscribe, nil
}

func (b *Bridge) connOptions(cfg Config) []nats.Option {
	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("nats disconnected", telemetry.LabelError.L(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.msink.IncrCounterWithLabels(telemetry.MetricBridgeReconnectCount, 1, b.labels)
			b.logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	return opts
}

// NewWithNATS dials cfg.URL and returns a Bridge for channels over that connection, plus a
// cleanup that closes the bridge and drains the connection.
func NewWithNATS(cfg Config, channels []string, opts ...Option) (*Bridge, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrPublishFailed)
	}

	b := New(nil, channels, opts...)

	nc, err := nats.Connect(cfg.URL, b.connOptions(cfg)...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrPublishFailed, err)
	}

	b.client = conn{nc: nc}
	b.logger.Info("nats connected", "url", nc.ConnectedUrlRedacted(), "channels", channels)

	cleanup := func() {
		_ = b.Close()

		if !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort on shutdown
			nc.Close()
		}
	}

	return b, cleanup, nil
}
