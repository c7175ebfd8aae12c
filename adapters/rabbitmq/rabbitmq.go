package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-service-core/adapters/internal/wire"
	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

type PubMsg struct {
	Exchange   string
	RoutingKey string
	MessageID  string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Forwarder is a cbus.Bridge publishing every event on its channels to an exchange.
type Forwarder struct {
	publisher  Publisher
	channels   []string
	exchange   string
	publish    cbus.PublishOptions
	propagator cbus.HeaderPropagator
	origin     string

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	closer func()
}

var _ cbus.Bridge = (*Forwarder)(nil)

type Option func(*Forwarder)

// WithExchange replaces the default "integration" exchange.
func WithExchange(name string) Option { return func(f *Forwarder) { f.exchange = name } }

// WithPublishOptions sets static headers and an optional routing key override.
func WithPublishOptions(o cbus.PublishOptions) Option { return func(f *Forwarder) { f.publish = o } }

// WithPropagator configures a HeaderPropagator for context propagation.
func WithPropagator(p cbus.HeaderPropagator) Option { return func(f *Forwarder) { f.propagator = p } }

func WithLogger(l *slog.Logger) Option { return func(f *Forwarder) { f.logger = l } }

func WithMetricSink(ms metrics.MetricSink) Option { return func(f *Forwarder) { f.msink = ms } }

func New(p Publisher, channels []string, opts ...Option) *Forwarder {
	f := &Forwarder{
		publisher:  p,
		channels:   append([]string(nil), channels...),
		exchange:   integrationExchange,
		propagator: cbus.NopHeaderPropagator{},
		origin:     uuid.NewString(),
	}
	for _, o := range opts {
		o(f)
	}

	f.logger = telemetry.LoggerOrDefault(f.logger).With(telemetry.LabelBridge.L("rabbitmq"))
	f.msink = telemetry.SinkOrBlackhole(f.msink)
	f.labels = []metrics.Label{telemetry.LabelBridge.M("rabbitmq")}

	return f
}

func (f *Forwarder) Channels() []string { return append([]string(nil), f.channels...) }

// RoutingKey returns the routing key used for channel.
func (f *Forwarder) RoutingKey(channel string) string {
	if f.publish.TopicOverride != "" {
		return f.publish.TopicOverride
	}

	return channel
}

func (f *Forwarder) Deliver(ctx context.Context, ev cbus.Event) error {
	if wire.Imported(ctx) {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if f.publisher == nil {
		return fmt.Errorf("rabbitmq publish: %w", berr.ErrPublishFailed)
	}

	body, err := wire.Encode(ev, f.origin)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}

	// copy headers to avoid mutating caller-provided map
	hdrs := wire.Headers(f.publish.Headers, ev, f.origin)
	if f.publish.Key != "" {
		hdrs["key"] = f.publish.Key
	}

	f.propagator.Inject(ctx, hdrs)

	msg := PubMsg{
		Exchange:   f.exchange,
		RoutingKey: f.RoutingKey(ev.Channel),
		MessageID:  ev.ID,
		Body:       body,
		Headers:    hdrs,
	}
	if err := f.publisher.Publish(ctx, msg); err != nil {
		return wire.WrapPublish("rabbitmq", err)
	}

	f.msink.IncrCounterWithLabels(telemetry.MetricBridgeOutCount, 1,
		telemetry.Labels(f.labels, telemetry.LabelChannel.M(ev.Channel)))

	return nil
}

// Close releases the connection when the forwarder owns one.
func (f *Forwarder) Close() error {
	if f.closer != nil {
		f.closer()
	}

	return nil
}

func amqpPublishing(m PubMsg, mode uint8) amqp.Publishing {
	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return amqp.Publishing{
		DeliveryMode: mode,
		MessageId:    m.MessageID,
		Headers:      h,
		ContentType:  "application/json",
		Body:         m.Body,
	}
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, amqpPublishing(m, amqp.Transient))
}

// NewWithAMQPChannel forwards over a channel the caller manages.
func NewWithAMQPChannel(ch *amqp.Channel, channels []string, opts ...Option) *Forwarder {
	return New(amqpChannelPublisher{ch: ch}, channels, opts...)
}
