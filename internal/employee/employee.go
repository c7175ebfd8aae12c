// Package employee is the demo domain used by the walkthrough and the daemon: a directory
// service, a hiring service raising events, and the services reacting to them.
package employee

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Channels raised by HiringService.
const (
	ChannelNewHire = "employee.new"
	ChannelPayroll = "employee.payroll"
)

// ErrUnknownEmployee is returned for ids missing from the directory.
var ErrUnknownEmployee = errors.New("employee: unknown id")

type Employee struct {
	ID        int    `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	Salary    int    `json:"salary,omitempty"`
	Active    bool   `json:"active"`
	Level     int    `json:"level,omitempty"`
}

func (e Employee) String() string { return fmt.Sprintf("%s %s (#%d)", e.FirstName, e.LastName, e.ID) }

// asEmployee accepts a local value or the JSON form an event takes after crossing a bridge.
func asEmployee(v any) (Employee, error) {
	switch e := v.(type) {
	case Employee:
		return e, nil
	case *Employee:
		if e == nil {
			return Employee{}, errors.New("employee: nil")
		}

		return *e, nil
	case map[string]any:
		raw, err := json.Marshal(e)
		if err != nil {
			return Employee{}, err
		}

		var out Employee
		if err := json.Unmarshal(raw, &out); err != nil {
			return Employee{}, err
		}

		return out, nil
	default:
		return Employee{}, fmt.Errorf("employee: unexpected %T", v)
	}
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	default:
		return 0, fmt.Errorf("employee: want a number, got %T", v)
	}
}

func arg(args []any, i int) (any, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("employee: missing argument %d", i)
	}

	return args[i], nil
}
