package employee

import (
	"context"
	"fmt"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
)

// Directory stores employees by id. It is only ever touched by its queue's consumer.
type Directory struct {
	store   map[int]Employee
	methods cbus.Methods
}

// NewDirectory creates an empty directory. Each method answers to its long and short name,
// e.g. "addEmployee" and "add".
func NewDirectory() *Directory {
	d := &Directory{store: map[int]Employee{}}
	d.methods = cbus.Methods{
		"addEmployee":     d.add,
		"add":             d.add,
		"readEmployee":    d.read,
		"read":            d.read,
		"promoteEmployee": d.promote,
		"promote":         d.promote,
		"removeEmployee":  d.remove,
		"remove":          d.remove,
	}

	return d
}

func (d *Directory) Method(name string) (cbus.MethodFunc, bool) { return d.methods.Method(name) }
func (d *Directory) MethodNames() []string                     { return d.methods.MethodNames() }

// add stores the employee in the body and answers true.
func (d *Directory) add(_ context.Context, c cbus.Call) (any, error) {
	a, err := arg(c.Args(), 0)
	if err != nil {
		return nil, err
	}

	e, err := asEmployee(a)
	if err != nil {
		return nil, err
	}

	d.store[e.ID] = e

	return true, nil
}

// read answers the employee with the id in args[0], or nil.
func (d *Directory) read(_ context.Context, c cbus.Call) (any, error) {
	a, err := arg(c.Args(), 0)
	if err != nil {
		return nil, err
	}

	id, err := asInt(a)
	if err != nil {
		return nil, err
	}

	e, ok := d.store[id]
	if !ok {
		return nil, nil
	}

	return e, nil
}

// promote takes (employee, level).
func (d *Directory) promote(_ context.Context, c cbus.Call) (any, error) {
	args := c.Args()

	a, err := arg(args, 0)
	if err != nil {
		return nil, err
	}

	e, err := asEmployee(a)
	if err != nil {
		return nil, err
	}

	l, err := arg(args, 1)
	if err != nil {
		return nil, err
	}

	level, err := asInt(l)
	if err != nil {
		return nil, err
	}

	stored, ok := d.store[e.ID]
	if !ok {
		return nil, fmt.Errorf("promote %d: %w", e.ID, ErrUnknownEmployee)
	}

	stored.Level = level
	d.store[e.ID] = stored

	return true, nil
}

func (d *Directory) remove(_ context.Context, c cbus.Call) (any, error) {
	a, err := arg(c.Args(), 0)
	if err != nil {
		return nil, err
	}

	id, err := asInt(a)
	if err != nil {
		return nil, err
	}

	delete(d.store, id)

	return true, nil
}
