package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/hashicorp/go-metrics"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

// FailureHandler observes a delivery a consumer refused. It runs on the publishing goroutine.
type FailureHandler func(ctx context.Context, ev cbus.Event, consumer cbus.Consumer, err error)

// Bus is a channel-keyed publish/subscribe bus. Channel names are plain strings resolved
// elsewhere and are scoped to the instance: two buses never share subscribers.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	mu       sync.RWMutex
	channels map[string][]cbus.Consumer

	onFailure FailureHandler
	logger    *slog.Logger
	msink     metrics.MetricSink
	labels    []metrics.Label
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// WithMetricSink sets where bus metrics go.
func WithMetricSink(ms metrics.MetricSink) Option { return func(b *Bus) { b.msink = ms } }

// WithMetricLabels adds static labels to every metric emitted by the bus.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(b *Bus) { b.labels = append(b.labels, labels...) }
}

// WithFailureHandler reports refused deliveries to fn in addition to the log.
func WithFailureHandler(fn FailureHandler) Option { return func(b *Bus) { b.onFailure = fn } }

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{channels: map[string][]cbus.Consumer{}}
	for _, o := range opts {
		o(b)
	}

	b.logger = telemetry.LoggerOrDefault(b.logger)
	b.msink = telemetry.SinkOrBlackhole(b.msink)

	return b
}

// sameConsumer compares consumers by identity, skipping dynamic types that cannot be compared.
func sameConsumer(a, b cbus.Consumer) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}

	return a == b
}

// Subscribe appends c to channel. It reports false when c is already subscribed there.
func (b *Bus) Subscribe(channel string, c cbus.Consumer) bool {
	if c == nil || channel == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[channel]
	for _, s := range subs {
		if sameConsumer(s, c) {
			return false
		}
	}

	b.channels[channel] = append(subs, c)

	return true
}

// Unsubscribe removes c from channel, keeping the order of the others.
func (b *Bus) Unsubscribe(channel string, c cbus.Consumer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[channel]
	for i, s := range subs {
		if !sameConsumer(s, c) {
			continue
		}

		// Copy so in-flight Sends keep iterating their own snapshot.
		next := slices.Concat(subs[:i], subs[i+1:])
		if len(next) == 0 {
			delete(b.channels, channel)
		} else {
			b.channels[channel] = next
		}

		return true
	}

	return false
}

// JoinServices subscribes each subscriber to every channel it declares.
func (b *Bus) JoinServices(subs ...cbus.Subscriber) {
	for _, s := range subs {
		for _, ch := range s.Channels() {
			if b.Subscribe(ch, s) {
				b.logger.Debug("subscriber joined", telemetry.LabelChannel.L(ch), telemetry.LabelConsumer.L(fmt.Sprintf("%T", s)))
			}
		}
	}
}

// LeaveServices undoes JoinServices.
func (b *Bus) LeaveServices(subs ...cbus.Subscriber) {
	for _, s := range subs {
		for _, ch := range s.Channels() {
			b.Unsubscribe(ch, s)
		}
	}
}

// Send delivers args to every current subscriber of channel, in subscription order. A consumer
// that refuses or panics does not stop delivery to the rest; the failures are logged, passed to
// the failure handler, and returned joined under ErrDeliveryFailed. A channel without
// subscribers is a no-op.
func (b *Bus) Send(ctx context.Context, channel string, args ...any) error {
	return b.Publish(ctx, cbus.NewEvent(channel, args...))
}

// Publish is Send for a pre-built event.
func (b *Bus) Publish(ctx context.Context, ev cbus.Event) error {
	b.mu.RLock()
	subs := b.channels[ev.Channel]
	b.mu.RUnlock()

	labels := telemetry.Labels(b.labels, telemetry.LabelChannel.M(ev.Channel))
	b.msink.IncrCounterWithLabels(telemetry.MetricBusSendCount, 1, labels)

	var errs []error

	for _, c := range subs {
		err := deliver(ctx, c, ev)
		if err == nil {
			b.msink.IncrCounterWithLabels(telemetry.MetricBusDeliveryCount, 1, labels)
			continue
		}

		b.msink.IncrCounterWithLabels(telemetry.MetricBusDeliveryFailCount, 1, labels)
		b.logger.Warn("event delivery failed",
			telemetry.LabelChannel.L(ev.Channel),
			telemetry.LabelConsumer.L(fmt.Sprintf("%T", c)),
			telemetry.LabelError.L(err),
		)

		if b.onFailure != nil {
			b.onFailure(ctx, ev, c, err)
		}

		errs = append(errs, fmt.Errorf("%w: %s to %T: %w", berr.ErrDeliveryFailed, ev.Channel, c, err))
	}

	return errors.Join(errs...)
}

func deliver(ctx context.Context, c cbus.Consumer, ev cbus.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	// Each consumer gets its own argument slice.
	ev.Args = append([]any(nil), ev.Args...)

	return c.Deliver(ctx, ev)
}

// Channels lists channels with at least one subscriber.
func (b *Bus) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		out = append(out, ch)
	}

	sort.Strings(out)

	return out
}

// SubscriberCount reports how many consumers listen on channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.channels[channel])
}

var _ cbus.Sender = (*Bus)(nil)
