package servicequeue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-service-core/adapters/inmemory"
	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/servicequeue"
)

func echo() cbus.Methods {
	return cbus.Methods{
		"echo": func(_ context.Context, c cbus.Call) (any, error) { return c.Body(), nil },
		"fail": func(context.Context, cbus.Call) (any, error) { return nil, errors.New("boom") },
		"panic": func(context.Context, cbus.Call) (any, error) {
			panic("kaboom")
		},
	}
}

func call(method string, body any) cbus.Call {
	return cbus.NewCall("/q", body, cbus.WithMethod(method), cbus.WithReturnAddress("client"))
}

func TestQueue_FIFOPerProducer(t *testing.T) {
	sink := inmemory.NewResponses()
	q := servicequeue.New(echo(), servicequeue.WithResponseSink(sink), servicequeue.WithBatchSize(7))
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	const n = 200
	for i := range n {
		require.NoError(t, q.Call(t.Context(), call("echo", i)))
	}

	require.NoError(t, q.Flush(t.Context()))

	got := sink.All()
	require.Len(t, got, n)

	for i, r := range got {
		require.False(t, r.WasErrors())
		require.Equal(t, i, r.Body())
		require.Equal(t, "client", r.ReturnAddress())
	}
}

func TestQueue_ErrorsBecomeResponses(t *testing.T) {
	sink := inmemory.NewResponses()
	q := servicequeue.New(echo(), servicequeue.WithResponseSink(sink))
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	require.NoError(t, q.Call(t.Context(), call("fail", nil)))
	require.NoError(t, q.Call(t.Context(), call("panic", nil)))
	require.NoError(t, q.Call(t.Context(), call("missing", nil)))
	require.NoError(t, q.Call(t.Context(), call("echo", "still alive")))
	require.NoError(t, q.Flush(t.Context()))

	got := sink.All()
	require.Len(t, got, 4)

	for _, r := range got[:3] {
		require.True(t, r.WasErrors())
		require.ErrorIs(t, r.Err(), berr.ErrInvocationFailed)
	}

	require.ErrorIs(t, got[2].Err(), berr.ErrMethodNotFound)
	require.False(t, got[3].WasErrors())
	require.Equal(t, "still alive", got[3].Body())

	st := q.Stats()
	require.EqualValues(t, 4, st.Processed)
	require.EqualValues(t, 3, st.Failed)
}

func TestQueue_FireAndForgetProducesNoResponse(t *testing.T) {
	sink := inmemory.NewResponses()
	q := servicequeue.New(echo(), servicequeue.WithResponseSink(sink))
	require.NoError(t, q.Start())

	require.NoError(t, q.Dispatch(t.Context(), "echo", 1))
	require.NoError(t, q.Stop(t.Context()))
	require.Equal(t, 0, sink.Len())
	require.EqualValues(t, 1, q.Stats().Processed)
}

func TestQueue_ClosedAndAlreadyStarted(t *testing.T) {
	q := servicequeue.New(echo())
	require.NoError(t, q.Start())
	require.ErrorIs(t, q.Start(), berr.ErrAlreadyStarted)
	require.NoError(t, q.Stop(t.Context()))
	require.NoError(t, q.Stop(t.Context()))

	require.ErrorIs(t, q.Call(t.Context(), call("echo", 1)), berr.ErrQueueClosed)
	require.ErrorIs(t, q.Start(), berr.ErrQueueClosed)
	require.NoError(t, q.Flush(t.Context()))
}

func TestQueue_FullNonBlocking(t *testing.T) {
	q := servicequeue.New(echo(), servicequeue.WithCapacity(1), servicequeue.WithNonBlocking())

	require.NoError(t, q.Call(t.Context(), call("echo", 1)))
	require.ErrorIs(t, q.Call(t.Context(), call("echo", 2)), berr.ErrQueueFull)
}

func TestQueue_FullAfterBoundedWait(t *testing.T) {
	q := servicequeue.New(echo(),
		servicequeue.WithCapacity(1),
		servicequeue.WithSubmitTimeout(20*time.Millisecond),
	)

	require.NoError(t, q.Call(t.Context(), call("echo", 1)))

	start := time.Now()
	require.ErrorIs(t, q.Call(t.Context(), call("echo", 2)), berr.ErrQueueFull)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, q.Call(ctx, call("echo", 3)), context.Canceled)
}

func TestQueue_StopDrainsInFlight(t *testing.T) {
	sink := inmemory.NewResponses()
	slow := cbus.Methods{"work": func(_ context.Context, c cbus.Call) (any, error) {
		time.Sleep(time.Millisecond)
		return c.Body(), nil
	}}

	q := servicequeue.New(slow, servicequeue.WithResponseSink(sink))
	require.NoError(t, q.Start())

	for i := range 20 {
		require.NoError(t, q.Call(t.Context(), call("work", i)))
	}

	require.NoError(t, q.Stop(t.Context()))
	require.Equal(t, 20, sink.Len())
}

func TestQueue_StopWithoutStartDrainsOnCaller(t *testing.T) {
	sink := inmemory.NewResponses()
	q := servicequeue.New(echo(), servicequeue.WithResponseSink(sink))

	require.NoError(t, q.Call(t.Context(), call("echo", "a")))
	require.NoError(t, q.Stop(t.Context()))
	require.Equal(t, 1, sink.Len())
}

func TestQueue_StopTwiceWithoutStart(t *testing.T) {
	q := servicequeue.New(echo())
	require.NoError(t, q.Stop(t.Context()))

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, q.Stop(ctx))
	require.ErrorIs(t, q.Start(), berr.ErrQueueClosed)
}

type hookedHandler struct {
	cbus.Methods
	empty, limit, start, shutdown atomic.Int32
}

func (h *hookedHandler) QueueEmpty()    { h.empty.Add(1) }
func (h *hookedHandler) QueueLimit()    { h.limit.Add(1) }
func (h *hookedHandler) QueueStart()    { h.start.Add(1) }
func (h *hookedHandler) QueueShutdown() { h.shutdown.Add(1) }

func TestQueue_LimitAndEmptyHooks(t *testing.T) {
	h := &hookedHandler{Methods: echo()}

	var optLimit atomic.Int32
	q := servicequeue.New(h,
		servicequeue.WithBatchSize(2),
		servicequeue.WithOnLimit(func() { optLimit.Add(1) }),
	)

	// Pre-fill so the consumer sees batches of 2, 2 and 1.
	for i := range 5 {
		require.NoError(t, q.Dispatch(t.Context(), "echo", i))
	}

	require.NoError(t, q.Start())
	require.NoError(t, q.Flush(t.Context()))
	require.NoError(t, q.Stop(t.Context()))

	require.EqualValues(t, 2, h.limit.Load())
	require.EqualValues(t, 2, optLimit.Load())
	require.GreaterOrEqual(t, h.empty.Load(), int32(1))
	require.EqualValues(t, 1, h.start.Load())
	require.EqualValues(t, 1, h.shutdown.Load())
}

// buffering holds sends until the queue runs dry, like a handler proxy.
type buffering struct {
	cbus.Methods
	buffered, sent atomic.Int32
}

func (b *buffering) QueueEmpty() {
	time.Sleep(5 * time.Millisecond)
	b.sent.Add(b.buffered.Swap(0))
}

func TestQueue_FlushWaitsForBatchHooks(t *testing.T) {
	h := &buffering{}
	h.Methods = cbus.Methods{"buffer": func(context.Context, cbus.Call) (any, error) {
		h.buffered.Add(1)
		return nil, nil
	}}

	q := servicequeue.New(h)
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	for round := 1; round <= 3; round++ {
		for i := range 10 {
			require.NoError(t, q.Dispatch(t.Context(), "buffer", i))
		}

		require.NoError(t, q.Flush(t.Context()))
		require.EqualValues(t, 10*round, h.sent.Load())
	}
}

func TestQueue_HookPanicIsIsolated(t *testing.T) {
	sink := inmemory.NewResponses()
	q := servicequeue.New(echo(),
		servicequeue.WithResponseSink(sink),
		servicequeue.WithOnEmpty(func() { panic("hook") }),
	)
	require.NoError(t, q.Start())

	require.NoError(t, q.Call(t.Context(), call("echo", 1)))
	require.NoError(t, q.Flush(t.Context()))
	require.NoError(t, q.Call(t.Context(), call("echo", 2)))
	require.NoError(t, q.Stop(t.Context()))
	require.Equal(t, 2, sink.Len())
}

func TestQueue_IdleHook(t *testing.T) {
	var idle atomic.Int32
	q := servicequeue.New(echo(), servicequeue.WithOnIdle(5*time.Millisecond, func() { idle.Add(1) }))
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return idle.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestQueue_Ask(t *testing.T) {
	q := servicequeue.New(echo())
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	v, err := q.Ask(t.Context(), "echo", "hi")
	require.NoError(t, err)
	require.Equal(t, "hi", v)

	s, err := servicequeue.Ask[string](t.Context(), q, "echo", "typed")
	require.NoError(t, err)
	require.Equal(t, "typed", s)

	_, err = servicequeue.Ask[int](t.Context(), q, "echo", "not an int")
	require.ErrorIs(t, err, berr.ErrHandlerTypeMismatch)

	_, err = q.Ask(t.Context(), "fail", nil)
	require.ErrorIs(t, err, berr.ErrInvocationFailed)

	ch, err := q.AskAsync(t.Context(), "echo", 42)
	require.NoError(t, err)

	select {
	case r := <-ch:
		require.Equal(t, 42, r.Body())
	case <-time.After(time.Second):
		t.Fatal("no response")
	}
}

func TestQueue_AskResponsesBypassSink(t *testing.T) {
	sink := inmemory.NewResponses()
	q := servicequeue.New(echo(), servicequeue.WithResponseSink(sink))
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	_, err := q.Ask(t.Context(), "echo", 1)
	require.NoError(t, err)
	require.Equal(t, 0, sink.Len())
}

func TestQueue_LateAskResponseIsDropped(t *testing.T) {
	sink := inmemory.NewResponses()
	release := make(chan struct{})
	slow := cbus.Methods{"slow": func(_ context.Context, c cbus.Call) (any, error) {
		<-release
		return c.Body(), nil
	}}

	q := servicequeue.New(slow, servicequeue.WithResponseSink(sink))
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Ask(ctx, "slow", 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, q.Flush(t.Context()))
	require.EqualValues(t, 1, q.Stats().Processed)
	require.Equal(t, 0, sink.Len())
}

func TestQueue_MiddlewareOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)

	mark := func(name string) cbus.Middleware {
		return func(next cbus.MethodFunc) cbus.MethodFunc {
			return func(ctx context.Context, c cbus.Call) (any, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()

				return next(ctx, c)
			}
		}
	}

	q := servicequeue.New(echo(), servicequeue.WithMiddleware(mark("a"), mark("b")))
	require.NoError(t, q.Start())

	_, err := q.Ask(t.Context(), "echo", 1)
	require.NoError(t, err)
	require.NoError(t, q.Stop(t.Context()))

	require.Equal(t, []string{"a", "b"}, order)
}

func TestQueue_DeliverEvent(t *testing.T) {
	got := make(chan []any, 1)
	h := cbus.Methods{"onHire": func(_ context.Context, c cbus.Call) (any, error) {
		got <- c.Args()
		return nil, nil
	}}

	q := servicequeue.New(h, servicequeue.WithEventChannels(map[string]string{"employee.new": "onHire"}))
	require.Equal(t, []string{"employee.new"}, q.Channels())
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	require.NoError(t, q.Deliver(t.Context(), cbus.NewEvent("employee.new", "rick", 1)))

	select {
	case args := <-got:
		require.Equal(t, []any{"rick", 1}, args)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

type staticResolver map[string]string

func (r staticResolver) Resolve(any) (map[string]string, error) { return r, nil }

func TestQueue_ChannelResolver(t *testing.T) {
	q := servicequeue.New(echo(), servicequeue.WithChannelResolver(staticResolver{
		"echo": "chan.echo",
		"fail": "",
	}))

	require.Equal(t, []string{"chan.echo"}, q.Channels())
}
