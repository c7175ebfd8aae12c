package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"gopkg.in/tomb.v2"

	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

const (
	integrationExchange = "integration"
	exchangeKind        = "topic"

	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

type Config struct {
	URL         string
	ConnTimeout time.Duration
	// Exchange defaults to "integration". It is declared durable, of type topic.
	Exchange string
}

func (c Config) exchange() string {
	if c.Exchange == "" {
		return integrationExchange
	}

	return c.Exchange
}

// session is one live connection with its publishing channel.
type session struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (s *session) close() {
	_ = s.ch.Close()
	_ = s.conn.Close()
}

// backoff doubles up to maxBackoff, with up to a quarter of jitter on top.
type backoff struct{ cur time.Duration }

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = minBackoff
	}

	d := min(b.cur+rand.N(b.cur/4+1), maxBackoff) //nolint:gosec // jitter only
	b.cur = min(b.cur*2, maxBackoff)

	return d
}

func (b *backoff) reset() { b.cur = 0 }

// reconnectingPublisher keeps one session alive in the background. Publish waits for a session
// while the broker is unreachable, bounded by its ctx.
type reconnectingPublisher struct {
	cfg    Config
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	t tomb.Tomb

	mu    sync.RWMutex
	live  *session
	ready chan struct{} // closed while live is usable

	closeOnce sync.Once
}

func newReconnectingPublisher(cfg Config, logger *slog.Logger, ms metrics.MetricSink, labels []metrics.Label) *reconnectingPublisher {
	rp := &reconnectingPublisher{
		cfg:    cfg,
		logger: telemetry.LoggerOrDefault(logger),
		msink:  telemetry.SinkOrBlackhole(ms),
		labels: labels,
		ready:  make(chan struct{}),
	}
	rp.t.Go(rp.run)

	return rp
}

func (rp *reconnectingPublisher) current() (*session, <-chan struct{}) {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	return rp.live, rp.ready
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	s, ready := rp.current()
	for s == nil {
		select {
		case <-ready:
		case <-rp.t.Dying():
			return fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrPublishFailed)
		case <-ctx.Done():
			return ctx.Err()
		}

		s, ready = rp.current()
	}

	return s.ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, amqpPublishing(m, amqp.Persistent))
}

func (rp *reconnectingPublisher) dial() (*session, error) {
	conn, err := amqp.DialConfig(rp.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-service-core"},
		Dial:       amqp.DefaultDial(rp.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &session{conn: conn, ch: ch}
	if err := ch.ExchangeDeclare(rp.cfg.exchange(), exchangeKind, true, false, false, false, nil); err != nil {
		s.close()
		return nil, err
	}

	return s, nil
}

func (rp *reconnectingPublisher) run() error {
	var bo backoff

	for {
		s, err := rp.dial()
		if err != nil {
			wait := bo.next()
			rp.logger.Debug("rabbitmq dial failed", "retry_in", wait, telemetry.LabelError.L(err))

			select {
			case <-rp.t.Dying():
				return nil
			case <-time.After(wait):
			}

			continue
		}

		bo.reset()
		rp.msink.IncrCounterWithLabels(telemetry.MetricBridgeReconnectCount, 1, rp.labels)
		rp.logger.Info("rabbitmq connected", "exchange", rp.cfg.exchange())

		rp.mu.Lock()
		rp.live = s
		close(rp.ready)
		rp.mu.Unlock()

		lost := s.conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-rp.t.Dying():
			rp.drop(s)
			return nil
		case amqpErr, ok := <-lost:
			if ok && amqpErr != nil {
				rp.logger.Warn("rabbitmq connection lost", telemetry.LabelError.L(amqpErr.Error()))
			}

			rp.drop(s)
		}
	}
}

// drop retires s and makes publishers wait for the next session.
func (rp *reconnectingPublisher) drop(s *session) {
	rp.mu.Lock()
	rp.live = nil
	rp.ready = make(chan struct{})
	rp.mu.Unlock()

	s.close()
}

func (rp *reconnectingPublisher) close() {
	rp.closeOnce.Do(func() {
		rp.t.Kill(nil)
		_ = rp.t.Wait()
	})
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, ensures the exchange, and returns a
// Forwarder for channels and a cleanup. Closing the forwarder runs the cleanup too.
func NewWithAMQPConn(cfg Config, channels []string, opts ...Option) (*Forwarder, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrPublishFailed)
	}

	f := New(nil, channels, append([]Option{WithExchange(cfg.exchange())}, opts...)...)

	pub := newReconnectingPublisher(cfg, f.logger, f.msink, f.labels)
	f.publisher = pub
	f.closer = pub.close

	return f, pub.close, nil
}
