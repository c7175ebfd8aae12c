package servicebundle

import (
	"context"
	"errors"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
)

// revive:disable:max-public-structs
// BatchOptions controls CallBatch behavior.
// OnProgress is called after each call was routed (success or failure) with done and total.
// OnError is called when routing a call fails, with its index, the call, and the error.
type BatchOptions struct {
	OnProgress func(done, total int)
	OnError    func(index int, call cbus.Call, err error)
}

// revive:enable:max-public-structs

// BatchOpt configures BatchOptions.
type BatchOpt func(*BatchOptions)

// WithBatchProgress sets the progress callback.
func WithBatchProgress(fn func(done, total int)) BatchOpt { //nolint:ireturn
	return func(o *BatchOptions) { o.OnProgress = fn }
}

// WithBatchOnError sets the error callback.
func WithBatchOnError(fn func(index int, call cbus.Call, err error)) BatchOpt { //nolint:ireturn
	return func(o *BatchOptions) { o.OnError = fn }
}

// CallBatch routes the provided calls sequentially, so calls sharing a queue keep their order.
// It respects context cancellation, reports progress, and aggregates errors.
func (b *Bundle) CallBatch(ctx context.Context, calls []cbus.Call, opts ...BatchOpt) error {
	var o BatchOptions
	for _, f := range opts {
		f(&o)
	}

	total := len(calls)

	var errs []error

	for i, c := range calls {
		if err := ctx.Err(); err != nil { // canceled or deadline exceeded
			return errors.Join(append(errs, err)...)
		}

		err := b.Call(ctx, c)
		if err != nil {
			if o.OnError != nil {
				o.OnError(i, c, err)
			}

			errs = append(errs, err)
		}

		if o.OnProgress != nil {
			o.OnProgress(i+1, total)
		}
	}

	return errors.Join(errs...)
}
