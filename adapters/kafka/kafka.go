package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"

	"github.com/next-trace/scg-service-core/adapters/internal/wire"
	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

// DefaultTopicPrefix is prepended to channel names to build topics.
const DefaultTopicPrefix = "scg.events."

// Writer is a minimal Kafka-like writer interface.
// Users can adapt segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(topic string, key, value []byte, headers map[string]string) error
}

// Forwarder is a cbus.Bridge writing every event on its channels to a topic.
// Records are keyed by channel unless PublishOptions.Key is set, so one channel keeps its order
// within a partition.
type Forwarder struct {
	writer   Writer
	channels []string
	prefix   string
	publish  cbus.PublishOptions
	origin   string

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	closer func()
}

var _ cbus.Bridge = (*Forwarder)(nil)

type Option func(*Forwarder)

func WithTopicPrefix(p string) Option { return func(f *Forwarder) { f.prefix = p } }

// WithPublishOptions sets static headers, a fixed key and an optional topic override.
func WithPublishOptions(o cbus.PublishOptions) Option { return func(f *Forwarder) { f.publish = o } }

func WithLogger(l *slog.Logger) Option { return func(f *Forwarder) { f.logger = l } }

func WithMetricSink(ms metrics.MetricSink) Option { return func(f *Forwarder) { f.msink = ms } }

// New creates a forwarder for channels with the provided writer.
func New(w Writer, channels []string, opts ...Option) *Forwarder {
	f := &Forwarder{
		writer:   w,
		channels: append([]string(nil), channels...),
		prefix:   DefaultTopicPrefix,
		origin:   uuid.NewString(),
	}
	for _, o := range opts {
		o(f)
	}

	f.logger = telemetry.LoggerOrDefault(f.logger).With(telemetry.LabelBridge.L("kafka"))
	f.msink = telemetry.SinkOrBlackhole(f.msink)
	f.labels = []metrics.Label{telemetry.LabelBridge.M("kafka")}

	return f
}

func (f *Forwarder) Channels() []string { return append([]string(nil), f.channels...) }

// Topic returns the topic used for channel.
func (f *Forwarder) Topic(channel string) string {
	if f.publish.TopicOverride != "" {
		return f.publish.TopicOverride
	}

	return f.prefix + channel
}

func (f *Forwarder) Deliver(ctx context.Context, ev cbus.Event) error {
	if wire.Imported(ctx) {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if f.writer == nil {
		return fmt.Errorf("kafka publish: %w", berr.ErrPublishFailed)
	}

	val, err := wire.Encode(ev, f.origin)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}

	key := []byte(ev.Channel)
	if f.publish.Key != "" {
		key = []byte(f.publish.Key)
	}

	headers := wire.Headers(f.publish.Headers, ev, f.origin)

	if err = f.writer.Write(f.Topic(ev.Channel), key, val, headers); err != nil {
		return wire.WrapPublish("kafka", err)
	}

	f.msink.IncrCounterWithLabels(telemetry.MetricBridgeOutCount, 1,
		telemetry.Labels(f.labels, telemetry.LabelChannel.M(ev.Channel)))

	return nil
}

// Close releases the client when the forwarder owns one.
func (f *Forwarder) Close() error {
	if f.closer != nil {
		f.closer()
	}

	return nil
}
