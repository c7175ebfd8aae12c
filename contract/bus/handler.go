package bus

import (
	"context"
	"sort"
)

// MethodFunc serves one method of a service handler. The returned value becomes the Response body.
type MethodFunc func(ctx context.Context, call Call) (any, error)

// Handler resolves a method designator to the function serving it.
// A Handler is only ever invoked from its queue's consumer goroutine.
type Handler interface {
	Method(name string) (MethodFunc, bool)
}

// Methods is a Handler backed by a method table. The "" entry, when present, serves
// any method that has no entry of its own.
type Methods map[string]MethodFunc

// Method implements Handler.
func (m Methods) Method(name string) (MethodFunc, bool) {
	if f, ok := m[name]; ok {
		return f, true
	}

	f, ok := m[""]

	return f, ok
}

// MethodNames lists the named entries in lexical order.
func (m Methods) MethodNames() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			names = append(names, k)
		}
	}

	sort.Strings(names)

	return names
}

// MethodLister is implemented by handlers able to enumerate their methods.
type MethodLister interface {
	MethodNames() []string
}

// Middleware wraps method execution. The first registered middleware runs first.
type Middleware func(next MethodFunc) MethodFunc

// EmptyHook is implemented by handlers that want to know when their queue drained to zero.
// It is the point to flush outbound proxies.
type EmptyHook interface{ QueueEmpty() }

// LimitHook is implemented by handlers that want to know when a batch limit was reached.
type LimitHook interface{ QueueLimit() }

// StartHook runs on the consumer goroutine before the first call.
type StartHook interface{ QueueStart() }

// ShutdownHook runs on the consumer goroutine after the last call.
type ShutdownHook interface{ QueueShutdown() }

// IdleHook runs when no call arrived within the configured idle interval.
type IdleHook interface{ QueueIdle() }
