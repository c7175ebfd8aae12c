package employee

import (
	"log/slog"

	"github.com/next-trace/scg-service-core/eventbus"
	"github.com/next-trace/scg-service-core/servicebus"
	"github.com/next-trace/scg-service-core/servicequeue"
)

// Addresses the demo services are registered under.
const (
	AddressDirectory    = "/employees/"
	AddressHiring       = "/hiring/"
	AddressBenefits     = "/benefits/"
	AddressVolunteering = "/volunteering/"
	AddressPayroll      = "/payroll/"
)

// Services groups the registered demo handlers with their queues.
type Services struct {
	Directory    *servicequeue.Queue
	Hiring       *servicequeue.Queue
	Benefits     *Benefits
	Volunteering *Volunteering
	Payroll      *Payroll
	PayrollQueue *servicequeue.Queue
}

// Register adds the demo services to s. Hiring events are flushed every eventLimit sends
// besides the empty-queue flush; 0 disables the limit.
func Register(s *servicebus.System, eventLimit int, logger *slog.Logger, opts ...servicequeue.Option) (*Services, error) {
	out := &Services{
		Benefits:     NewBenefits(logger),
		Volunteering: NewVolunteering(logger),
		Payroll:      NewPayroll(logger),
	}

	var err error

	if out.Directory, err = s.Register(AddressDirectory, NewDirectory(), opts...); err != nil {
		return nil, err
	}

	if out.Hiring, err = s.Register(AddressHiring, NewHiringService(s.Events(), eventLimit, logger), opts...); err != nil {
		return nil, err
	}

	declared := append([]servicequeue.Option{servicequeue.WithChannelResolver(eventbus.DeclaredResolver{})}, opts...)

	if _, err = s.Register(AddressBenefits, out.Benefits, declared...); err != nil {
		return nil, err
	}

	if _, err = s.Register(AddressVolunteering, out.Volunteering, declared...); err != nil {
		return nil, err
	}

	if out.PayrollQueue, err = s.Register(AddressPayroll, out.Payroll, declared...); err != nil {
		return nil, err
	}

	return out, nil
}
