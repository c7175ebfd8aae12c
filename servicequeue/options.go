package servicequeue

import (
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
)

const (
	DefaultCapacity      = 1024
	DefaultBatchSize     = 64
	DefaultSubmitTimeout = time.Second
)

// Option configures a Queue at construction.
type Option func(*Queue)

// WithName sets the name used in logs and metric labels. Bundles set it to the address prefix.
func WithName(name string) Option { return func(q *Queue) { q.name = name } }

// WithCapacity bounds the number of submitted calls waiting for the consumer.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithBatchSize sets how many calls the consumer drains before it yields and fires the limit hook.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithSubmitTimeout bounds how long Call waits for room when the queue is at capacity.
func WithSubmitTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.submitTimeout = d
		}
	}
}

// WithNonBlocking makes Call fail with ErrQueueFull instead of waiting for room.
func WithNonBlocking() Option { return func(q *Queue) { q.nonBlocking = true } }

// WithOnEmpty registers a callback fired when the consumer drained the queue to zero.
func WithOnEmpty(fn func()) Option { return func(q *Queue) { q.onEmpty = fn } }

// WithOnLimit registers a callback fired when a batch reached the batch size.
func WithOnLimit(fn func()) Option { return func(q *Queue) { q.onLimit = fn } }

// WithOnStart registers a callback fired on the consumer goroutine before the first call.
func WithOnStart(fn func()) Option { return func(q *Queue) { q.onStart = fn } }

// WithOnShutdown registers a callback fired on the consumer goroutine after the last call.
func WithOnShutdown(fn func()) Option { return func(q *Queue) { q.onShutdown = fn } }

// WithOnIdle fires fn whenever no call arrived for interval.
func WithOnIdle(interval time.Duration, fn func()) Option {
	return func(q *Queue) {
		q.idleInterval = interval
		q.onIdle = fn
	}
}

// WithResponseSink sets where Responses for calls with a return address are emitted.
func WithResponseSink(sink cbus.ResponseSink) Option { return func(q *Queue) { q.sink = sink } }

// WithMiddleware wraps every method invocation. The first middleware runs first.
func WithMiddleware(mw ...cbus.Middleware) Option {
	return func(q *Queue) { q.mws = append(q.mws, mw...) }
}

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(l *slog.Logger) Option { return func(q *Queue) { q.logger = l } }

// WithMetricSink sets where queue metrics go; nil discards them.
func WithMetricSink(ms metrics.MetricSink) Option { return func(q *Queue) { q.msink = ms } }

// WithMetricLabels adds static labels to every metric emitted by the queue.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(q *Queue) { q.labels = append(q.labels, labels...) }
}

// WithEventChannels subscribes the queue to channels, mapping each channel to the method serving it.
func WithEventChannels(channelToMethod map[string]string) Option {
	return func(q *Queue) {
		for ch, m := range channelToMethod {
			q.channels[ch] = m
		}
	}
}

// WithChannelResolver resolves the handler's method-to-channel map at construction.
func WithChannelResolver(r cbus.ChannelResolver) Option { return func(q *Queue) { q.resolver = r } }
