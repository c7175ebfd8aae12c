package servicequeue

import (
	"context"
	"fmt"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
)

// askReturnAddress marks calls whose response goes back to a waiting proxy caller
// instead of the response sink.
const askReturnAddress = "servicequeue.ask"

// Dispatch submits a fire-and-forget call to method.
func (q *Queue) Dispatch(ctx context.Context, method string, body any) error {
	return q.Call(ctx, cbus.NewCall(q.name, body, cbus.WithMethod(method)))
}

// AskAsync submits a call to method and returns a channel receiving its single Response.
func (q *Queue) AskAsync(ctx context.Context, method string, body any) (<-chan cbus.Response, error) {
	ch, _, err := q.ask(ctx, method, body)
	return ch, err
}

// Ask submits a call to method and waits for its result. An invocation failure is returned
// as the error; ctx bounds the wait, and a timeout means the outcome is unknown.
func (q *Queue) Ask(ctx context.Context, method string, body any) (any, error) {
	ch, id, err := q.ask(ctx, method, body)
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		if r.WasErrors() {
			return nil, r.Err()
		}

		return r.Body(), nil
	case <-ctx.Done():
		q.pending.Delete(id)
		return nil, ctx.Err()
	}
}

func (q *Queue) ask(ctx context.Context, method string, body any) (chan cbus.Response, string, error) {
	call := cbus.NewCall(q.name, body, cbus.WithMethod(method), cbus.WithReturnAddress(askReturnAddress))
	ch := make(chan cbus.Response, 1)
	q.pending.Store(call.ID(), ch)

	if err := q.Call(ctx, call); err != nil {
		q.pending.Delete(call.ID())
		return nil, "", err
	}

	return ch, call.ID(), nil
}

// Ask is the typed form of Queue.Ask.
func Ask[R any](ctx context.Context, q *Queue, method string, body any) (R, error) {
	var zero R

	v, err := q.Ask(ctx, method, body)
	if err != nil {
		return zero, err
	}

	if v == nil {
		return zero, nil
	}

	r, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("ask %s: result %T: %w", method, v, berr.ErrHandlerTypeMismatch)
	}

	return r, nil
}

// Deliver turns an event into a fire-and-forget call to the method mapped to its channel.
// A channel with no mapping is served by the method of the same name.
func (q *Queue) Deliver(ctx context.Context, ev cbus.Event) error {
	method, ok := q.channels[ev.Channel]
	if !ok {
		method = ev.Channel
	}

	args := append([]any(nil), ev.Args...)

	return q.Call(ctx, cbus.NewCall(ev.Channel, args, cbus.WithMethod(method)))
}
