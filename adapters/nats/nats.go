package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"

	"github.com/next-trace/scg-service-core/adapters/internal/wire"
	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

// DefaultPrefix is prepended to channel names to build subjects.
const DefaultPrefix = "scg.events."

// MsgHandler receives one inbound message.
type MsgHandler func(subject string, data []byte, headers map[string]string)

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Subscribe registers fn for subject and returns the function that cancels it.
	Subscribe(subject string, fn MsgHandler) (func() error, error)
}

// Bridge forwards bus events on its channels to NATS subjects, and can import subjects back
// into a local bus. Events that were imported are never forwarded again.
type Bridge struct {
	client     Client
	channels   []string
	prefix     string
	publish    cbus.PublishOptions
	propagator cbus.HeaderPropagator
	origin     string

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	mu     sync.Mutex
	subs   []func() error
	closed bool
}

var _ cbus.Bridge = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

// WithPrefix replaces DefaultPrefix.
func WithPrefix(p string) Option { return func(b *Bridge) { b.prefix = p } }

// WithPublishOptions sets static headers and an optional subject override for every message.
func WithPublishOptions(o cbus.PublishOptions) Option { return func(b *Bridge) { b.publish = o } }

// WithPropagator injects tracing context into outbound headers.
func WithPropagator(p cbus.HeaderPropagator) Option { return func(b *Bridge) { b.propagator = p } }

// WithOrigin fixes the origin id instead of a random one.
func WithOrigin(id string) Option { return func(b *Bridge) { b.origin = id } }

func WithLogger(l *slog.Logger) Option { return func(b *Bridge) { b.logger = l } }

func WithMetricSink(ms metrics.MetricSink) Option { return func(b *Bridge) { b.msink = ms } }

// New creates a bridge for channels over c.
func New(c Client, channels []string, opts ...Option) *Bridge {
	b := &Bridge{
		client:     c,
		channels:   append([]string(nil), channels...),
		prefix:     DefaultPrefix,
		propagator: cbus.NopHeaderPropagator{},
	}
	for _, o := range opts {
		o(b)
	}

	if b.origin == "" {
		b.origin = uuid.NewString()
	}

	b.logger = telemetry.LoggerOrDefault(b.logger).With(telemetry.LabelBridge.L("nats"))
	b.msink = telemetry.SinkOrBlackhole(b.msink)
	b.labels = []metrics.Label{telemetry.LabelBridge.M("nats")}

	return b
}

// Origin identifies this bridge on the wire.
func (b *Bridge) Origin() string { return b.origin }

func (b *Bridge) Channels() []string { return append([]string(nil), b.channels...) }

// Subject returns the subject used for channel.
func (b *Bridge) Subject(channel string) string {
	if b.publish.TopicOverride != "" {
		return b.publish.TopicOverride
	}

	return b.prefix + channel
}

// Deliver publishes ev to NATS.
func (b *Bridge) Deliver(ctx context.Context, ev cbus.Event) error {
	if wire.Imported(ctx) {
		return nil
	}

	if err := b.ready(ctx); err != nil {
		return err
	}

	body, err := wire.Encode(ev, b.origin)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}

	headers := wire.Headers(b.publish.Headers, ev, b.origin)
	if b.publish.Key != "" {
		headers["key"] = b.publish.Key
	}

	b.propagator.Inject(ctx, headers)

	if err := b.client.Publish(b.Subject(ev.Channel), body, headers); err != nil {
		return wire.WrapPublish("nats", err)
	}

	b.msink.IncrCounterWithLabels(telemetry.MetricBridgeOutCount, 1,
		telemetry.Labels(b.labels, telemetry.LabelChannel.M(ev.Channel)))

	return nil
}

func (b *Bridge) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed || b.client == nil {
		return fmt.Errorf("nats: %w", berr.ErrPublishFailed)
	}

	return nil
}

// Import subscribes to the subjects of channels and re-sends every message that another node
// published onto sender. Messages this bridge published itself are skipped.
func (b *Bridge) Import(sender cbus.Sender, channels ...string) error {
	if err := b.ready(context.Background()); err != nil {
		return err
	}

	for _, ch := range channels {
		unsub, err := b.client.Subscribe(b.Subject(ch), b.inbound(sender))
		if err != nil {
			return fmt.Errorf("nats subscribe %s: %w", ch, err)
		}

		b.mu.Lock()
		b.subs = append(b.subs, unsub)
		b.mu.Unlock()
	}

	return nil
}

func (b *Bridge) inbound(sender cbus.Sender) MsgHandler {
	return func(subject string, data []byte, headers map[string]string) {
		if headers[wire.HeaderOrigin] == b.origin {
			return
		}

		env, err := wire.Decode(data)
		if err != nil {
			b.logger.Warn("inbound message dropped", "subject", subject, telemetry.LabelError.L(err))
			return
		}

		if env.Origin == b.origin {
			return
		}

		b.msink.IncrCounterWithLabels(telemetry.MetricBridgeInCount, 1,
			telemetry.Labels(b.labels, telemetry.LabelChannel.M(env.Channel)))

		if err := sender.Send(wire.MarkImported(context.Background()), env.Channel, env.Args...); err != nil {
			b.logger.Warn("imported event not fully delivered",
				telemetry.LabelChannel.L(env.Channel), telemetry.LabelError.L(err))
		}
	}
}

// Close cancels every import subscription. Further deliveries fail.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var first error
	for _, unsub := range subs {
		if err := unsub(); err != nil && first == nil {
			first = err
		}
	}

	return first
}
