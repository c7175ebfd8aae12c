package employee

import (
	"context"
	"log/slog"
	"sync"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

// journal is the shared part of the subscribers: what they saw, readable from any goroutine.
type journal struct {
	logger *slog.Logger
	mu     sync.Mutex
	seen   []Employee
}

func (j *journal) note(e Employee) {
	j.mu.Lock()
	j.seen = append(j.seen, e)
	j.mu.Unlock()
}

// Seen returns the employees handled so far.
func (j *journal) Seen() []Employee {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]Employee(nil), j.seen...)
}

// Benefits enrolls every new hire.
type Benefits struct{ journal }

func NewBenefits(logger *slog.Logger) *Benefits {
	return &Benefits{journal{logger: telemetry.LoggerOrDefault(logger)}}
}

func (b *Benefits) EventChannels() map[string]string { return map[string]string{"enroll": ChannelNewHire} }

func (b *Benefits) Method(name string) (cbus.MethodFunc, bool) {
	if name != "enroll" {
		return nil, false
	}

	return func(_ context.Context, c cbus.Call) (any, error) {
		e, err := firstEmployee(c)
		if err != nil {
			return nil, err
		}

		b.logger.Info("employee enrolled into benefits", "employee", e.String())
		b.note(e)

		return nil, nil
	}, true
}

// Volunteering invites every new hire to the outreach program.
type Volunteering struct{ journal }

func NewVolunteering(logger *slog.Logger) *Volunteering {
	return &Volunteering{journal{logger: telemetry.LoggerOrDefault(logger)}}
}

func (v *Volunteering) EventChannels() map[string]string { return map[string]string{"invite": ChannelNewHire} }

func (v *Volunteering) Method(name string) (cbus.MethodFunc, bool) {
	if name != "invite" {
		return nil, false
	}

	return func(_ context.Context, c cbus.Call) (any, error) {
		e, err := firstEmployee(c)
		if err != nil {
			return nil, err
		}

		v.logger.Info("employee invited to community outreach", "employee", e.String())
		v.note(e)

		return nil, nil
	}, true
}

// Payroll adds employees with their salary.
type Payroll struct {
	journal
	salaries map[int]int
}

func NewPayroll(logger *slog.Logger) *Payroll {
	return &Payroll{journal: journal{logger: telemetry.LoggerOrDefault(logger)}, salaries: map[int]int{}}
}

func (p *Payroll) EventChannels() map[string]string {
	return map[string]string{"addEmployeeToPayroll": ChannelPayroll}
}

func (p *Payroll) Method(name string) (cbus.MethodFunc, bool) {
	switch name {
	case "addEmployeeToPayroll":
		return p.add, true
	case "salary":
		return p.salary, true
	}

	return nil, false
}

func (p *Payroll) add(_ context.Context, c cbus.Call) (any, error) {
	e, err := firstEmployee(c)
	if err != nil {
		return nil, err
	}

	s, err := arg(c.Args(), 1)
	if err != nil {
		return nil, err
	}

	salary, err := asInt(s)
	if err != nil {
		return nil, err
	}

	p.salaries[e.ID] = salary
	p.logger.Info("employee added to payroll", "employee", e.String(), "salary", salary)
	p.note(e)

	return nil, nil
}

func (p *Payroll) salary(_ context.Context, c cbus.Call) (any, error) {
	a, err := arg(c.Args(), 0)
	if err != nil {
		return nil, err
	}

	id, err := asInt(a)
	if err != nil {
		return nil, err
	}

	return p.salaries[id], nil
}

func firstEmployee(c cbus.Call) (Employee, error) {
	a, err := arg(c.Args(), 0)
	if err != nil {
		return Employee{}, err
	}

	return asEmployee(a)
}
