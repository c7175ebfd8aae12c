// Package telemetry holds the metric keys and label helpers shared by every component.
package telemetry

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricQueueCallCount       = []string{"scg", "queue", "call", "count"}
	MetricQueueRejectedCount   = []string{"scg", "queue", "rejected", "count"}
	MetricQueueProcessedCount  = []string{"scg", "queue", "processed", "count"}
	MetricQueueFailedCount     = []string{"scg", "queue", "failed", "count"}
	MetricQueueBatchSize       = []string{"scg", "queue", "batch", "size"}
	MetricQueueLimitCount      = []string{"scg", "queue", "limit", "count"}
	MetricBundleRoutedCount    = []string{"scg", "bundle", "routed", "count"}
	MetricBundleNoRouteCount   = []string{"scg", "bundle", "no_route", "count"}
	MetricBundleResponseCount  = []string{"scg", "bundle", "response", "count"}
	MetricBusSendCount         = []string{"scg", "bus", "send", "count"}
	MetricBusDeliveryCount     = []string{"scg", "bus", "delivery", "count"}
	MetricBusDeliveryFailCount = []string{"scg", "bus", "delivery", "error", "count"}
	MetricPoolAddedCount       = []string{"scg", "pool", "added", "count"}
	MetricPoolRemovedCount     = []string{"scg", "pool", "removed", "count"}
	MetricPoolSize             = []string{"scg", "pool", "size"}
	MetricPoolRejectedCount    = []string{"scg", "pool", "rejected", "count"}
	MetricBridgeOutCount       = []string{"scg", "bridge", "out", "count"}
	MetricBridgeInCount        = []string{"scg", "bridge", "in", "count"}
	MetricBridgeReconnectCount = []string{"scg", "bridge", "reconnect", "count"}
)

// Label names a dimension used both as a metric label and as a log attribute.
type Label string

var (
	LabelQueue    Label = "queue"
	LabelMethod   Label = "method"
	LabelAddress  Label = "address"
	LabelChannel  Label = "channel"
	LabelService  Label = "service"
	LabelCallID   Label = "call_id"
	LabelError    Label = "error"
	LabelConsumer Label = "consumer"
	LabelBridge   Label = "bridge"
)

// M builds a metric label.
func (lab Label) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L builds a log attribute.
func (lab Label) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

// Labels concatenates static labels with per-event ones without aliasing either slice.
func Labels(static []metrics.Label, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(static)+len(extra))
	out = append(out, static...)

	return append(out, extra...)
}

// SinkOrBlackhole returns ms, or a sink discarding everything when ms is nil.
func SinkOrBlackhole(ms metrics.MetricSink) metrics.MetricSink {
	if ms == nil {
		return &metrics.BlackholeSink{}
	}

	return ms
}

// LoggerOrDefault returns l, or slog.Default() when l is nil.
func LoggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}

	return l
}
