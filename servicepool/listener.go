package servicepool

import (
	"context"
	"log/slog"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

// Listener is notified of pool changes. Per-item callbacks come first, then the aggregate counts,
// then one ServicePoolChanged. Callbacks run on the goroutine calling SetHealthyNodes.
type Listener interface {
	ServiceAdded(serviceName string, def Definition)
	ServiceRemoved(serviceName string, def Definition)
	ServicesAdded(serviceName string, count int)
	ServicesRemoved(serviceName string, count int)
	ServicePoolChanged(serviceName string)
}

// NopListener ignores everything. Embed it to implement only some callbacks.
type NopListener struct{}

func (NopListener) ServiceAdded(string, Definition)   {}
func (NopListener) ServiceRemoved(string, Definition) {}
func (NopListener) ServicesAdded(string, int)         {}
func (NopListener) ServicesRemoved(string, int)       {}
func (NopListener) ServicePoolChanged(string)         {}

// LogListener logs every change at info level.
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) log() *slog.Logger { return telemetry.LoggerOrDefault(l.Logger) }

func (l LogListener) ServiceAdded(name string, def Definition) {
	l.log().Info("service added", telemetry.LabelService.L(name), "id", def.ID)
}

func (l LogListener) ServiceRemoved(name string, def Definition) {
	l.log().Info("service removed", telemetry.LabelService.L(name), "id", def.ID)
}

func (l LogListener) ServicesAdded(name string, count int) {
	l.log().Info("services added", telemetry.LabelService.L(name), "count", count)
}

func (l LogListener) ServicesRemoved(name string, count int) {
	l.log().Info("services removed", telemetry.LabelService.L(name), "count", count)
}

func (l LogListener) ServicePoolChanged(name string) {
	l.log().Info("service pool changed", telemetry.LabelService.L(name))
}

// Channels published by BusListener.
const (
	ChannelServiceAdded    = "servicepool.added"
	ChannelServiceRemoved  = "servicepool.removed"
	ChannelServicesAdded   = "servicepool.services.added"
	ChannelServicesRemoved = "servicepool.services.removed"
	ChannelPoolChanged     = "servicepool.changed"
)

// BusListener republishes pool changes on an event bus, so services can react to discovery
// through their own queues.
type BusListener struct {
	Sender cbus.Sender
	Logger *slog.Logger
}

func (l BusListener) send(channel string, args ...any) {
	if err := l.Sender.Send(context.Background(), channel, args...); err != nil {
		telemetry.LoggerOrDefault(l.Logger).Warn("pool event not delivered",
			telemetry.LabelChannel.L(channel), telemetry.LabelError.L(err))
	}
}

func (l BusListener) ServiceAdded(name string, def Definition) {
	l.send(ChannelServiceAdded, name, def)
}

func (l BusListener) ServiceRemoved(name string, def Definition) {
	l.send(ChannelServiceRemoved, name, def)
}

func (l BusListener) ServicesAdded(name string, count int) {
	l.send(ChannelServicesAdded, name, count)
}

func (l BusListener) ServicesRemoved(name string, count int) {
	l.send(ChannelServicesRemoved, name, count)
}

func (l BusListener) ServicePoolChanged(name string) { l.send(ChannelPoolChanged, name) }

var (
	_ Listener = NopListener{}
	_ Listener = LogListener{}
	_ Listener = BusListener{}
)
