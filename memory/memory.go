// Package memory builds a ready-to-use, in-process System: no brokers, no discovery.
package memory

import (
	"context"
	"time"

	"github.com/next-trace/scg-service-core/servicebus"
)

// ShutdownTimeout bounds the cleanup returned by New.
const ShutdownTimeout = 5 * time.Second

// New constructs and starts a System, and returns it with a cleanup that shuts it down.
func New(opts ...servicebus.Option) (*servicebus.System, func(), error) {
	s := servicebus.New(opts...)
	if err := s.Start(); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		_ = s.Shutdown(ctx)
	}

	return s, cleanup, nil
}
