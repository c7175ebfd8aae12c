package employee

import (
	"context"
	"log/slog"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
	"github.com/next-trace/scg-service-core/eventbus"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

// DefaultSalary is what every new hire starts with.
const DefaultSalary = 100

// HiringService hires employees and announces them. Announcements are buffered in a proxy and
// leave when the queue runs empty or hits its batch limit.
type HiringService struct {
	events *eventbus.Proxy
	logger *slog.Logger
	hired  int
}

// NewHiringService publishes through sender. limit > 0 also flushes every limit sends.
func NewHiringService(sender cbus.Sender, limit int, logger *slog.Logger) *HiringService {
	return &HiringService{
		events: eventbus.NewProxy(sender, limit),
		logger: telemetry.LoggerOrDefault(logger),
	}
}

func (h *HiringService) Method(name string) (cbus.MethodFunc, bool) {
	switch name {
	case "hireEmployee", "hire":
		return h.hire, true
	case "hired":
		return func(context.Context, cbus.Call) (any, error) { return h.hired, nil }, true
	}

	return nil, false
}

func (h *HiringService) hire(ctx context.Context, c cbus.Call) (any, error) {
	a, err := arg(c.Args(), 0)
	if err != nil {
		return nil, err
	}

	e, err := asEmployee(a)
	if err != nil {
		return nil, err
	}

	e.Active = true
	e.Salary = DefaultSalary
	h.hired++

	h.logger.Info("hired employee", "employee", e.String())

	if err := h.events.Send(ctx, ChannelNewHire, e); err != nil {
		return nil, err
	}

	if err := h.events.Send(ctx, ChannelPayroll, e, DefaultSalary); err != nil {
		return nil, err
	}

	return true, nil
}

func (h *HiringService) flush() {
	if err := h.events.Flush(context.Background()); err != nil {
		h.logger.Warn("hiring events not fully delivered", telemetry.LabelError.L(err))
	}
}

func (h *HiringService) QueueEmpty()    { h.flush() }
func (h *HiringService) QueueLimit()    { h.flush() }
func (h *HiringService) QueueShutdown() { h.flush() }

var (
	_ cbus.EmptyHook    = (*HiringService)(nil)
	_ cbus.LimitHook    = (*HiringService)(nil)
	_ cbus.ShutdownHook = (*HiringService)(nil)
)
