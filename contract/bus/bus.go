package bus

import "context"

// Service is anything with a start/stop lifecycle managed by a system: queues, bundles, bridges.
//
// Stop must be idempotent and must let in-flight work finish before it returns.
type Service interface {
	Start() error
	Stop(ctx context.Context) error
}

// Flusher forces buffered work to be processed or emitted.
type Flusher interface {
	Flush(ctx context.Context) error
}
