package servicebundle

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"

	"github.com/next-trace/scg-service-core/servicequeue"
)

// Option configures a Bundle at construction.
type Option func(*Bundle)

// WithRootAddress prefixes every registered address that does not already start with root.
func WithRootAddress(root string) Option { return func(b *Bundle) { b.root = root } }

// WithSendBatchSize buffers up to n calls per route before handing them to the queue.
// Buffered calls are also pushed by FlushSends and Flush. n <= 1 disables buffering.
func WithSendBatchSize(n int) Option { return func(b *Bundle) { b.sendBatch = n } }

// WithQueueOptions applies opts to every queue created by AddServiceObject.
func WithQueueOptions(opts ...servicequeue.Option) Option {
	return func(b *Bundle) { b.qopts = append(b.qopts, opts...) }
}

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(l *slog.Logger) Option { return func(b *Bundle) { b.logger = l } }

// WithMetricSink sets where bundle and queue metrics go.
func WithMetricSink(ms metrics.MetricSink) Option { return func(b *Bundle) { b.msink = ms } }

// WithMetricLabels adds static labels to every metric emitted by the bundle and its queues.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(b *Bundle) { b.labels = append(b.labels, labels...) }
}
