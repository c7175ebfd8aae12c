package config

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"

	"github.com/next-trace/scg-service-core/adapters/memberlist"
	"github.com/next-trace/scg-service-core/adapters/nats"
	"github.com/next-trace/scg-service-core/servicebus"
	"github.com/next-trace/scg-service-core/servicequeue"
)

// QueueOptions maps Queue to options applied to every service queue.
func (c Config) QueueOptions() []servicequeue.Option {
	opts := []servicequeue.Option{
		servicequeue.WithCapacity(c.Queue.Capacity),
		servicequeue.WithBatchSize(c.Queue.BatchSize),
		servicequeue.WithSubmitTimeout(c.Queue.SubmitTimeout),
	}

	if c.Queue.NonBlocking {
		opts = append(opts, servicequeue.WithNonBlocking())
	}

	return opts
}

// SystemOptions builds the options for servicebus.New.
func (c Config) SystemOptions(logger *slog.Logger, sink metrics.MetricSink) []servicebus.Option {
	return []servicebus.Option{
		servicebus.WithLogger(logger),
		servicebus.WithMetricSink(sink),
		servicebus.WithMetricLabels(metrics.Label{Name: "service", Value: c.Service.Name}),
		servicebus.WithRootAddress(c.Service.RootAddress),
		servicebus.WithSendBatchSize(c.Queue.SendBatch),
		servicebus.WithQueueOptions(c.QueueOptions()...),
		servicebus.WithPoolEvents(),
	}
}

// NATSClient maps NATS to the connection config of the NATS bridge.
func (c Config) NATSClient() nats.Config {
	return nats.Config{
		URL:           c.NATS.URL,
		Name:          c.NATS.Name,
		ConnTimeout:   c.NATS.ConnTimeout,
		MaxReconnects: c.NATS.MaxReconnects,
	}
}

// NATSOptions maps NATS to bridge options.
func (c Config) NATSOptions(logger *slog.Logger, sink metrics.MetricSink) []nats.Option {
	return []nats.Option{
		nats.WithPrefix(c.NATS.Prefix),
		nats.WithLogger(logger),
		nats.WithMetricSink(sink),
	}
}

// Membership maps Gossip and Service to the memberlist watcher config.
func (c Config) Membership() memberlist.Config {
	return memberlist.Config{
		NodeName: c.Gossip.NodeName,
		BindAddr: c.Gossip.BindAddr,
		BindPort: c.Gossip.BindPort,
		Profile:  c.Gossip.Profile,
		Join:     c.Gossip.Join,
		Resync:   c.Gossip.Resync,
		Meta: memberlist.Meta{
			Service: c.Service.Name,
			Port:    c.Gossip.ServicePort,
			Version: c.Service.Version,
		},
	}
}
