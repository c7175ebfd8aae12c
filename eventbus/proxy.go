package eventbus

import (
	"context"
	"errors"
	"sync"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
)

type pendingSend struct {
	channel string
	args    []any
}

// Proxy buffers sends to a bus until Flush. Service handlers own one and flush it from their
// queue's empty and limit hooks, so outbound events leave in lock-step with inbound batches.
type Proxy struct {
	sender cbus.Sender
	limit  int

	mu      sync.Mutex
	pending []pendingSend
}

// NewProxy buffers sends for sender. With limit > 0 a Send that fills the buffer flushes it.
func NewProxy(sender cbus.Sender, limit int) *Proxy {
	return &Proxy{sender: sender, limit: limit}
}

// Send buffers args for channel.
func (p *Proxy) Send(ctx context.Context, channel string, args ...any) error {
	p.mu.Lock()
	p.pending = append(p.pending, pendingSend{channel: channel, args: args})
	full := p.limit > 0 && len(p.pending) >= p.limit
	p.mu.Unlock()

	if full {
		return p.Flush(ctx)
	}

	return nil
}

// Pending reports how many sends are buffered.
func (p *Proxy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.pending)
}

// Flush sends everything buffered, in order, and returns the joined delivery failures.
func (p *Proxy) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range batch {
		if err := p.sender.Send(ctx, s.channel, s.args...); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

var (
	_ cbus.Sender  = (*Proxy)(nil)
	_ cbus.Flusher = (*Proxy)(nil)
)
