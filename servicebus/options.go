package servicebus

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"

	"github.com/next-trace/scg-service-core/eventbus"
	"github.com/next-trace/scg-service-core/servicebundle"
	"github.com/next-trace/scg-service-core/servicepool"
	"github.com/next-trace/scg-service-core/servicequeue"
)

type config struct {
	logger    *slog.Logger
	msink     metrics.MetricSink
	labels    []metrics.Label
	bundle    []servicebundle.Option
	events    []eventbus.Option
	pools     []servicepool.Option
	poolEvent bool
}

// Option configures a System.
type Option func(*config)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithMetricSink sets the sink shared by every component.
func WithMetricSink(ms metrics.MetricSink) Option { return func(c *config) { c.msink = ms } }

// WithMetricLabels adds static labels to every metric.
func WithMetricLabels(labels ...metrics.Label) Option {
	return func(c *config) { c.labels = append(c.labels, labels...) }
}

func WithRootAddress(root string) Option {
	return func(c *config) { c.bundle = append(c.bundle, servicebundle.WithRootAddress(root)) }
}

func WithSendBatchSize(n int) Option {
	return func(c *config) { c.bundle = append(c.bundle, servicebundle.WithSendBatchSize(n)) }
}

// WithQueueOptions applies opts to every queue the System registers.
func WithQueueOptions(opts ...servicequeue.Option) Option {
	return func(c *config) { c.bundle = append(c.bundle, servicebundle.WithQueueOptions(opts...)) }
}

func WithFailureHandler(fn eventbus.FailureHandler) Option {
	return func(c *config) { c.events = append(c.events, eventbus.WithFailureHandler(fn)) }
}

// WithPoolListener adds a listener to every pool in the registry.
func WithPoolListener(l servicepool.Listener) Option {
	return func(c *config) { c.pools = append(c.pools, servicepool.WithListener(l)) }
}

// WithPoolEvents republishes pool changes on the System's event bus.
func WithPoolEvents() Option { return func(c *config) { c.poolEvent = true } }
