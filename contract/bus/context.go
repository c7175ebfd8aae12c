package bus

import "context"

// HeaderPropagator injects cross-process context (trace ids, baggage) into outbound headers.
// Bridges call it once per published event; implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// HeaderPropagatorFunc adapts a function to HeaderPropagator.
type HeaderPropagatorFunc func(ctx context.Context, headers map[string]string)

func (f HeaderPropagatorFunc) Inject(ctx context.Context, headers map[string]string) { f(ctx, headers) }

// NopHeaderPropagator adds nothing.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}
