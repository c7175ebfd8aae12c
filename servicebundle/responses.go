package servicebundle

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/internal/telemetry"
)

// ResponseQueue is the shared outbound response stream of a Bundle. Queues emit into it from their
// consumer goroutines; callers read with Poll, PollWait or Take. It is unbounded so that emitting
// never stalls a consumer.
type ResponseQueue struct {
	mu     sync.Mutex
	items  []cbus.Response
	closed bool

	notify chan struct{}
	done   chan struct{}

	msink  metrics.MetricSink
	labels []metrics.Label
}

func newResponseQueue(ms metrics.MetricSink, labels []metrics.Label) *ResponseQueue {
	return &ResponseQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		msink:  telemetry.SinkOrBlackhole(ms),
		labels: labels,
	}
}

// Emit implements cbus.ResponseSink. Responses emitted after Close are dropped.
func (rq *ResponseQueue) Emit(responses ...cbus.Response) {
	if len(responses) == 0 {
		return
	}

	rq.mu.Lock()
	if rq.closed {
		rq.mu.Unlock()
		return
	}

	rq.items = append(rq.items, responses...)
	rq.mu.Unlock()

	rq.msink.IncrCounterWithLabels(telemetry.MetricBundleResponseCount, float32(len(responses)), rq.labels)
	rq.signal()
}

func (rq *ResponseQueue) signal() {
	select {
	case rq.notify <- struct{}{}:
	default:
	}
}

// Poll returns the oldest response without blocking.
func (rq *ResponseQueue) Poll() (cbus.Response, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if len(rq.items) == 0 {
		return cbus.Response{}, false
	}

	r := rq.items[0]
	rq.items[0] = cbus.Response{}
	rq.items = rq.items[1:]

	if len(rq.items) > 0 {
		// Wake the next waiter; a single signal may have been consumed for several items.
		rq.signal()
	}

	return r, true
}

// PollWait blocks up to timeout for a response. Running out of time is not an error: it reports
// false, as does a closed and drained stream.
func (rq *ResponseQueue) PollWait(timeout time.Duration) (cbus.Response, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if r, ok := rq.Poll(); ok {
			return r, true
		}

		select {
		case <-rq.notify:
		case <-rq.done:
			return rq.Poll()
		case <-timer.C:
			return rq.Poll()
		}
	}
}

// Take blocks until a response is available, ctx is done, or the stream is closed and drained.
func (rq *ResponseQueue) Take(ctx context.Context) (cbus.Response, error) {
	for {
		if r, ok := rq.Poll(); ok {
			return r, nil
		}

		select {
		case <-rq.notify:
		case <-rq.done:
			if r, ok := rq.Poll(); ok {
				return r, nil
			}

			return cbus.Response{}, berr.ErrQueueClosed
		case <-ctx.Done():
			return cbus.Response{}, ctx.Err()
		}
	}
}

// Len reports how many responses are waiting.
func (rq *ResponseQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	return len(rq.items)
}

// Close stops accepting responses. Buffered ones stay readable.
func (rq *ResponseQueue) Close() {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.closed {
		return
	}

	rq.closed = true
	close(rq.done)
}

// Closed reports whether Close was called.
func (rq *ResponseQueue) Closed() bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	return rq.closed
}

var _ cbus.ResponseSink = (*ResponseQueue)(nil)
