package servicebundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/hashicorp/go-metrics"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/internal/telemetry"
	"github.com/next-trace/scg-service-core/servicequeue"
)

type route struct {
	prefix string
	queue  *servicequeue.Queue

	// mu serializes buffering and pushing so per-producer order survives send batching.
	mu      sync.Mutex
	pending []cbus.Call
}

// Bundle routes calls to service queues by address and collects every queue's responses on one
// shared stream. Lookups read an immutable radix tree and never take a lock.
//
// Bundle is concurrency-safe and contains no global state.
type Bundle struct {
	root      string
	sendBatch int
	qopts     []servicequeue.Option

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	// mu guards registration and lifecycle.
	mu      sync.Mutex
	order   []*route
	running bool
	stopped atomic.Bool

	routes    atomic.Pointer[iradix.Tree]
	responses *ResponseQueue
}

// New creates an empty Bundle.
func New(opts ...Option) *Bundle {
	b := &Bundle{sendBatch: 1}
	for _, o := range opts {
		o(b)
	}

	b.logger = telemetry.LoggerOrDefault(b.logger)
	b.msink = telemetry.SinkOrBlackhole(b.msink)
	b.responses = newResponseQueue(b.msink, b.labels)
	b.routes.Store(iradix.New())

	return b
}

// Responses returns the shared response stream.
func (b *Bundle) Responses() *ResponseQueue { return b.responses }

// AddServiceObject wraps handler in a new queue registered under prefix.
// Options given here apply after the bundle-wide queue options.
func (b *Bundle) AddServiceObject(prefix string, handler cbus.Handler, opts ...servicequeue.Option) (*servicequeue.Queue, error) {
	addr := b.qualify(prefix)

	all := make([]servicequeue.Option, 0, len(b.qopts)+len(opts)+4)
	all = append(all,
		servicequeue.WithName(addr),
		servicequeue.WithLogger(b.logger),
		servicequeue.WithMetricSink(b.msink),
		servicequeue.WithMetricLabels(b.labels),
	)
	all = append(all, b.qopts...)
	all = append(all, opts...)

	q := servicequeue.New(handler, all...)
	if err := b.AddServiceQueue(addr, q); err != nil {
		return nil, err
	}

	return q, nil
}

// AddServiceQueue registers an existing queue under prefix and points its responses at the
// bundle stream. The queue is started if the bundle already is.
func (b *Bundle) AddServiceQueue(prefix string, q *servicequeue.Queue) error {
	addr := b.qualify(prefix)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped.Load() {
		return fmt.Errorf("add %s: %w", addr, berr.ErrQueueClosed)
	}

	tree := b.routes.Load()
	if _, ok := tree.Get([]byte(addr)); ok {
		return fmt.Errorf("add %s: %w", addr, berr.ErrDuplicateAddress)
	}

	q.SetResponseSink(b.responses)

	if b.running {
		if err := q.Start(); err != nil && !errors.Is(err, berr.ErrAlreadyStarted) {
			return fmt.Errorf("add %s: %w", addr, err)
		}
	}

	r := &route{prefix: addr, queue: q}
	next, _, _ := tree.Insert([]byte(addr), r)
	b.routes.Store(next)
	b.order = append(b.order, r)

	b.logger.Debug("service registered", telemetry.LabelAddress.L(addr))

	return nil
}

func (b *Bundle) qualify(prefix string) string {
	if b.root == "" || strings.HasPrefix(prefix, b.root) {
		return prefix
	}

	return strings.TrimRight(b.root, "/") + "/" + strings.TrimLeft(prefix, "/")
}

// Addresses lists registered prefixes in registration order.
func (b *Bundle) Addresses() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.order))
	for _, r := range b.order {
		out = append(out, r.prefix)
	}

	return out
}

// Queue returns the queue registered exactly under prefix.
func (b *Bundle) Queue(prefix string) (*servicequeue.Queue, bool) {
	v, ok := b.routes.Load().Get([]byte(b.qualify(prefix)))
	if !ok {
		return nil, false
	}

	return v.(*route).queue, true
}

func (b *Bundle) lookup(addr string) (*route, bool) {
	tree := b.routes.Load()

	if v, ok := tree.Get([]byte(addr)); ok {
		return v.(*route), true
	}

	if _, v, ok := tree.Root().LongestPrefix([]byte(addr)); ok {
		return v.(*route), true
	}

	return nil, false
}

// methodFromAddress returns the last path segment of what follows prefix in addr.
func methodFromAddress(addr, prefix string) string {
	rest := strings.Trim(strings.TrimPrefix(addr, prefix), "/")
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		return rest[i+1:]
	}

	return rest
}

// Call routes call to the queue registered under its address, exact match first and longest
// prefix otherwise. A call without a method designator gets the last address segment after the
// prefix. Unroutable addresses fail with ErrNoRoute; capacity errors come from the queue.
func (b *Bundle) Call(ctx context.Context, call cbus.Call) error {
	if b.stopped.Load() {
		return fmt.Errorf("call %s: %w", call.Address(), berr.ErrQueueClosed)
	}

	r, ok := b.lookup(call.Address())
	if !ok {
		b.msink.IncrCounterWithLabels(telemetry.MetricBundleNoRouteCount, 1, b.labels)
		return fmt.Errorf("call %s: %w", call.Address(), berr.ErrNoRoute)
	}

	if call.Method() == "" {
		call = call.WithMethod(methodFromAddress(call.Address(), r.prefix))
	}

	b.msink.IncrCounterWithLabels(telemetry.MetricBundleRoutedCount, 1,
		telemetry.Labels(b.labels, telemetry.LabelAddress.M(r.prefix)))

	if b.sendBatch <= 1 {
		return r.queue.Call(ctx, call)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, call)
	if len(r.pending) < b.sendBatch {
		return nil
	}

	return b.pushLocked(ctx, r)
}

// pushLocked hands buffered calls to the route's queue. r.mu must be held.
func (b *Bundle) pushLocked(ctx context.Context, r *route) error {
	batch := r.pending
	r.pending = nil

	var errs []error
	for _, c := range batch {
		if err := r.queue.Call(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (b *Bundle) snapshot() []*route {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]*route(nil), b.order...)
}

// FlushSends pushes every buffered call to its queue without waiting for it to be processed.
func (b *Bundle) FlushSends(ctx context.Context) error {
	var errs []error

	for _, r := range b.snapshot() {
		r.mu.Lock()
		if err := b.pushLocked(ctx, r); err != nil {
			errs = append(errs, err)
		}
		r.mu.Unlock()
	}

	return errors.Join(errs...)
}

// Flush pushes buffered calls, then waits until every queue processed what it holds, emitted
// the responses onto the shared stream and ran the hooks of that batch, so buffered sends of
// handler proxies have gone out. Calls those sends make to queues flushed earlier may still be
// in flight.
func (b *Bundle) Flush(ctx context.Context) error {
	errs := []error{b.FlushSends(ctx)}

	for _, r := range b.snapshot() {
		if err := r.queue.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Start starts every registered queue. Queues added later start on registration.
func (b *Bundle) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped.Load() {
		return berr.ErrQueueClosed
	}

	if b.running {
		return berr.ErrAlreadyStarted
	}

	b.running = true

	var errs []error
	for _, r := range b.order {
		if err := r.queue.Start(); err != nil && !errors.Is(err, berr.ErrAlreadyStarted) {
			errs = append(errs, fmt.Errorf("start %s: %w", r.prefix, err))
		}
	}

	return errors.Join(errs...)
}

// Stop pushes buffered calls, stops every queue in registration order (each finishes what it
// holds and emits the responses) and finally closes the response stream.
func (b *Bundle) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped.Swap(true) {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	routes := append([]*route(nil), b.order...)
	b.mu.Unlock()

	var errs []error

	for _, r := range routes {
		r.mu.Lock()
		if err := b.pushLocked(ctx, r); err != nil {
			errs = append(errs, err)
		}
		r.mu.Unlock()

		if err := r.queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", r.prefix, err))
		}
	}

	b.responses.Close()
	b.logger.Debug("bundle stopped", "queues", len(routes))

	return errors.Join(errs...)
}

var (
	_ cbus.Service = (*Bundle)(nil)
	_ cbus.Flusher = (*Bundle)(nil)
)
