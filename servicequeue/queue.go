package servicequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"gopkg.in/tomb.v2"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

type sinkRef struct{ sink cbus.ResponseSink }

// item is either a call or a flush barrier.
type item struct {
	call    cbus.Call
	barrier chan struct{}
}

// Queue runs one handler behind a bounded inbound channel drained by a single consumer goroutine.
// The handler is never invoked concurrently, so it needs no locking of its own.
//
// Queue is safe for concurrent use by any number of producers.
type Queue struct {
	handler cbus.Handler
	name    string

	capacity      int
	batchSize     int
	submitTimeout time.Duration
	nonBlocking   bool
	idleInterval  time.Duration

	onEmpty, onLimit, onStart, onShutdown, onIdle func()

	mws      []cbus.Middleware
	channels map[string]string
	resolver cbus.ChannelResolver

	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	// mu guards state and sends on in; Stop takes it exclusively before closing in.
	// The consumer never takes mu.
	mu      sync.RWMutex
	state   state
	started bool
	in      chan item

	sink     cbus.ResponseSink
	sinkLive atomic.Pointer[sinkRef]

	t      tomb.Tomb
	done   chan struct{} // closed when the consumer returned
	ctx    context.Context
	cancel context.CancelFunc

	// consumer-owned
	out      []cbus.Response
	barriers []chan struct{}

	pending   sync.Map // call id -> chan cbus.Response
	processed atomic.Uint64
	failed    atomic.Uint64
}

// Stats is a point-in-time view of queue activity.
type Stats struct {
	Processed uint64
	Failed    uint64
	Pending   int
}

// New wraps handler in a Queue. The consumer is not running until Start.
func New(handler cbus.Handler, opts ...Option) *Queue {
	q := &Queue{
		handler:       handler,
		name:          "queue",
		capacity:      DefaultCapacity,
		batchSize:     DefaultBatchSize,
		submitTimeout: DefaultSubmitTimeout,
		channels:      map[string]string{},
	}

	for _, o := range opts {
		o(q)
	}

	q.logger = telemetry.LoggerOrDefault(q.logger).With(telemetry.LabelQueue.L(q.name))
	q.msink = telemetry.SinkOrBlackhole(q.msink)
	q.labels = telemetry.Labels(q.labels, telemetry.LabelQueue.M(q.name))
	q.in = make(chan item, q.capacity)
	q.done = make(chan struct{})
	q.sinkLive.Store(&sinkRef{sink: q.sink})
	q.ctx, q.cancel = context.WithCancel(context.Background())

	if q.resolver != nil {
		q.resolveChannels()
	}

	return q
}

func (q *Queue) resolveChannels() {
	methodToChannel, err := q.resolver.Resolve(q.handler)
	if err != nil {
		q.logger.Warn("channel resolution failed", telemetry.LabelError.L(err))
		return
	}

	for method, ch := range methodToChannel {
		if ch == "" {
			continue
		}

		q.channels[ch] = method
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// SetResponseSink replaces the response sink. Bundles call it when adopting a queue.
func (q *Queue) SetResponseSink(sink cbus.ResponseSink) {
	q.sinkLive.Store(&sinkRef{sink: sink})
}

func (q *Queue) responseSink() cbus.ResponseSink { return q.sinkLive.Load().sink }

// Start launches the consumer goroutine.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.state {
	case stateRunning:
		return fmt.Errorf("start %s: %w", q.name, berr.ErrAlreadyStarted)
	case stateStopped:
		return fmt.Errorf("start %s: %w", q.name, berr.ErrQueueClosed)
	}

	q.state = stateRunning
	q.started = true
	q.t.Go(q.run)

	return nil
}

// Stop rejects further submissions, lets the consumer finish every queued call and emit the
// resulting responses, then returns. Calling Stop again waits for the same shutdown.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.state != stateStopped {
		q.state = stateStopped
		close(q.in)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		// Nobody will ever consume; drain on the caller once.
		q.drainOnce()
	}

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) drainOnce() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	_ = q.run()
}

// Call submits call for the consumer. It fails with ErrQueueClosed after Stop and with ErrQueueFull
// when the queue stays at capacity past the submit timeout, or immediately in non-blocking mode.
func (q *Queue) Call(ctx context.Context, call cbus.Call) error {
	if err := q.submit(ctx, item{call: call}, q.nonBlocking); err != nil {
		q.msink.IncrCounterWithLabels(telemetry.MetricQueueRejectedCount, 1, q.labels)
		return fmt.Errorf("call %s on %s: %w", call.Method(), q.name, err)
	}

	q.msink.IncrCounterWithLabels(telemetry.MetricQueueCallCount, 1, q.labels)

	return nil
}

func (q *Queue) submit(ctx context.Context, it item, nonBlocking bool) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.state == stateStopped {
		return berr.ErrQueueClosed
	}

	select {
	case q.in <- it:
		return nil
	default:
	}

	if nonBlocking {
		return berr.ErrQueueFull
	}

	var timeout <-chan time.Time
	if it.barrier == nil {
		timer := time.NewTimer(q.submitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case q.in <- it:
		return nil
	case <-timeout:
		return berr.ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush returns once every call submitted before it has been processed, its response emitted,
// and the limit and empty hooks of its batch have run.
// A queue that was never started has nothing in flight and returns immediately.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.RLock()
	st, started := q.state, q.started
	q.mu.RUnlock()

	if !started {
		return nil
	}

	// After Stop the consumer drains everything that was queued; waiting for it is the flush.
	var wait <-chan struct{} = q.done

	if st != stateStopped {
		barrier := make(chan struct{})
		err := q.submit(ctx, item{barrier: barrier}, false)

		switch {
		case err == nil:
			wait = barrier
		case !errors.Is(err, berr.ErrQueueClosed):
			return fmt.Errorf("flush %s: %w", q.name, err)
		}
	}

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports processed and failed totals and the current backlog.
func (q *Queue) Stats() Stats {
	return Stats{
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Pending:   len(q.in),
	}
}

func (q *Queue) run() error {
	defer close(q.done)
	defer q.cancel()

	q.fire(q.onStart, func() {
		if h, ok := q.handler.(cbus.StartHook); ok {
			h.QueueStart()
		}
	})

	var (
		idleT *time.Timer
		idleC <-chan time.Time
	)

	if q.idleInterval > 0 {
		idleT = time.NewTimer(q.idleInterval)
		defer idleT.Stop()
		idleC = idleT.C
	}

	for {
		select {
		case it, ok := <-q.in:
			closed := !ok
			if ok {
				closed = q.consume(it)
			}

			if closed {
				q.flushResponses()
				q.fire(q.onShutdown, func() {
					if h, ok := q.handler.(cbus.ShutdownHook); ok {
						h.QueueShutdown()
					}
				})
				q.logger.Debug("queue stopped", "processed", q.processed.Load(), "failed", q.failed.Load())

				return nil
			}

			if idleT != nil {
				if !idleT.Stop() {
					select {
					case <-idleT.C:
					default:
					}
				}
				idleT.Reset(q.idleInterval)
			}
		case <-idleC:
			q.fire(q.onIdle, func() {
				if h, ok := q.handler.(cbus.IdleHook); ok {
					h.QueueIdle()
				}
			})
			idleT.Reset(q.idleInterval)
		}
	}
}

// consume handles first and then drains whatever else is immediately available, up to the batch
// size. It reports whether the inbound channel was found closed.
func (q *Queue) consume(first item) bool {
	n := q.handle(first)
	closed := false

drain:
	for n < q.batchSize {
		select {
		case it, ok := <-q.in:
			if !ok {
				closed = true
				break drain
			}

			n += q.handle(it)
		default:
			break drain
		}
	}

	if n > 0 {
		q.msink.AddSampleWithLabels(telemetry.MetricQueueBatchSize, float32(n), q.labels)
	}

	if n >= q.batchSize {
		q.msink.IncrCounterWithLabels(telemetry.MetricQueueLimitCount, 1, q.labels)
		q.fire(q.onLimit, func() {
			if h, ok := q.handler.(cbus.LimitHook); ok {
				h.QueueLimit()
			}
		})
	}

	q.flushResponses()

	if len(q.in) == 0 {
		q.fire(q.onEmpty, func() {
			if h, ok := q.handler.(cbus.EmptyHook); ok {
				h.QueueEmpty()
			}
		})
	}

	// Flush waiters are released only once the hooks of their batch have run.
	for _, b := range q.barriers {
		close(b)
	}
	q.barriers = q.barriers[:0]

	return closed
}

// handle processes one item and returns how many calls it consumed.
func (q *Queue) handle(it item) int {
	if it.barrier != nil {
		q.barriers = append(q.barriers, it.barrier)
		return 0
	}

	q.invoke(it.call)

	return 1
}

func (q *Queue) invoke(call cbus.Call) {
	body, err := q.execute(call)
	q.processed.Add(1)
	q.msink.IncrCounterWithLabels(telemetry.MetricQueueProcessedCount, 1,
		telemetry.Labels(q.labels, telemetry.LabelMethod.M(call.Method())))

	if err != nil {
		q.failed.Add(1)
		q.msink.IncrCounterWithLabels(telemetry.MetricQueueFailedCount, 1,
			telemetry.Labels(q.labels, telemetry.LabelMethod.M(call.Method())))
		q.logger.Warn("invocation failed",
			telemetry.LabelMethod.L(call.Method()),
			telemetry.LabelCallID.L(call.ID()),
			telemetry.LabelError.L(err),
		)
	}

	if !call.ExpectsResponse() {
		return
	}

	if err != nil {
		q.out = append(q.out, cbus.NewErrorResponse(call, err))
		return
	}

	q.out = append(q.out, cbus.NewResponse(call, body))
}

func (q *Queue) execute(call cbus.Call) (body any, err error) {
	method := call.Method()

	fn, ok := q.handler.Method(method)
	if !ok {
		return nil, berr.NewInvocationError(method, berr.ErrMethodNotFound)
	}

	for i := len(q.mws) - 1; i >= 0; i-- {
		fn = q.mws[i](fn)
	}

	defer func() {
		if r := recover(); r != nil {
			body = nil
			err = berr.NewInvocationError(method, fmt.Errorf("panic: %v", r))
		}
	}()

	body, err = fn(q.ctx, call)
	if err != nil {
		var ie *berr.InvocationError
		if !errors.As(err, &ie) {
			err = berr.NewInvocationError(method, err)
		}

		return nil, err
	}

	return body, nil
}

func (q *Queue) flushResponses() {
	if len(q.out) == 0 {
		return
	}

	out := q.out
	q.out = nil

	forward := make([]cbus.Response, 0, len(out))
	for _, r := range out {
		if ch, ok := q.pending.LoadAndDelete(r.ID()); ok {
			ch.(chan cbus.Response) <- r
			continue
		}

		if r.ReturnAddress() == askReturnAddress {
			// The asker gave up waiting.
			q.logger.Debug("late ask response dropped", telemetry.LabelCallID.L(r.ID()))
			continue
		}

		forward = append(forward, r)
	}

	if len(forward) == 0 {
		return
	}

	sink := q.responseSink()
	if sink == nil {
		q.logger.Debug("responses dropped, no sink", "count", len(forward))
		return
	}

	sink.Emit(forward...)
}

// fire runs the configured callback then the handler hook, isolating panics from the consumer.
func (q *Queue) fire(cb func(), hook func()) {
	for _, fn := range []func(){cb, hook} {
		if fn == nil {
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.Error("queue hook panicked", telemetry.LabelError.L(r))
				}
			}()
			fn()
		}()
	}
}

// Channels lists the event channels this queue listens on.
func (q *Queue) Channels() []string {
	out := make([]string, 0, len(q.channels))
	for ch := range q.channels {
		out = append(out, ch)
	}

	sort.Strings(out)

	return out
}

var (
	_ cbus.Service    = (*Queue)(nil)
	_ cbus.Flusher    = (*Queue)(nil)
	_ cbus.Subscriber = (*Queue)(nil)
)
