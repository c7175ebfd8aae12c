package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-metrics"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/eventbus"
	"github.com/next-trace/scg-service-core/internal/telemetry"
	"github.com/next-trace/scg-service-core/servicebundle"
	"github.com/next-trace/scg-service-core/servicepool"
	"github.com/next-trace/scg-service-core/servicequeue"
)

const (
	stateNew = iota
	stateRunning
	stateStopping
	stateStopped
)

// System owns the components of one process. Queues registered through it are routed by the
// bundle and, when they declare channels, subscribed to the event bus.
//
// System is concurrency-safe and contains no global state.
type System struct {
	bundle *servicebundle.Bundle
	events *eventbus.Bus
	pools  *servicepool.Registry

	logger *slog.Logger
	msink  metrics.MetricSink

	mu       sync.Mutex
	state    int
	services []cbus.Service
	bridges  []cbus.Bridge
	done     chan struct{}
	err      error
}

// New builds a System. Nothing runs until Start.
func New(opts ...Option) *System {
	c := &config{}
	for _, o := range opts {
		o(c)
	}

	c.logger = telemetry.LoggerOrDefault(c.logger)
	c.msink = telemetry.SinkOrBlackhole(c.msink)

	s := &System{
		logger: c.logger,
		msink:  c.msink,
		done:   make(chan struct{}),
	}

	s.events = eventbus.New(append([]eventbus.Option{
		eventbus.WithLogger(c.logger),
		eventbus.WithMetricSink(c.msink),
		eventbus.WithMetricLabels(c.labels),
	}, c.events...)...)

	s.bundle = servicebundle.New(append([]servicebundle.Option{
		servicebundle.WithLogger(c.logger),
		servicebundle.WithMetricSink(c.msink),
		servicebundle.WithMetricLabels(c.labels),
	}, c.bundle...)...)

	popts := []servicepool.Option{servicepool.WithLogger(c.logger), servicepool.WithMetricSink(c.msink)}
	if c.poolEvent {
		popts = append(popts, servicepool.WithListener(servicepool.BusListener{Sender: s.events, Logger: c.logger}))
	}

	s.pools = servicepool.NewRegistry(append(popts, c.pools...)...)

	return s
}

func (s *System) Bundle() *servicebundle.Bundle { return s.bundle }
func (s *System) Events() *eventbus.Bus          { return s.events }
func (s *System) Pools() *servicepool.Registry   { return s.pools }

// Register adds handler under prefix and joins its queue to the event bus when it listens on
// any channel.
func (s *System) Register(prefix string, handler cbus.Handler, opts ...servicequeue.Option) (*servicequeue.Queue, error) {
	if err := s.accepting(); err != nil {
		return nil, fmt.Errorf("register %s: %w", prefix, err)
	}

	q, err := s.bundle.AddServiceObject(prefix, handler, opts...)
	if err != nil {
		return nil, err
	}

	if len(q.Channels()) > 0 {
		s.events.JoinServices(q)
		s.logger.Debug("queue subscribed", telemetry.LabelQueue.L(q.Name()), "channels", q.Channels())
	}

	return q, nil
}

// AddBridge subscribes b to the event bus. Bridges are closed after the queues drained.
func (s *System) AddBridge(b cbus.Bridge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state >= stateStopping {
		return fmt.Errorf("add bridge: %w", berr.ErrQueueClosed)
	}

	s.events.JoinServices(b)
	s.bridges = append(s.bridges, b)

	return nil
}

// AddService puts svc under the System lifecycle. Services start before the queues and stop
// before them, in reverse order.
func (s *System) AddService(svc cbus.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state >= stateStopping:
		return fmt.Errorf("add service: %w", berr.ErrQueueClosed)
	case s.state == stateRunning:
		if err := svc.Start(); err != nil {
			return fmt.Errorf("add service: %w", err)
		}
	}

	s.services = append(s.services, svc)

	return nil
}

func (s *System) accepting() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state >= stateStopping {
		return berr.ErrQueueClosed
	}

	return nil
}

// Call routes call through the bundle.
func (s *System) Call(ctx context.Context, call cbus.Call) error { return s.bundle.Call(ctx, call) }

// Send publishes on the event bus.
func (s *System) Send(ctx context.Context, channel string, args ...any) error {
	return s.events.Send(ctx, channel, args...)
}

// Responses is the bundle's shared response stream.
func (s *System) Responses() *servicebundle.ResponseQueue { return s.bundle.Responses() }

// Start starts the lifecycle services, then every queue.
func (s *System) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return berr.ErrAlreadyStarted
	case stateStopping, stateStopped:
		return berr.ErrQueueClosed
	}

	for i, svc := range s.services {
		if err := svc.Start(); err != nil {
			s.stopServices(s.services[:i])
			return fmt.Errorf("start service %T: %w", svc, err)
		}
	}

	// Queues that did start keep running until Shutdown drains them.
	if err := s.bundle.Start(); err != nil {
		s.stopServices(s.services)
		return fmt.Errorf("start queues: %w", err)
	}

	s.state = stateRunning
	s.logger.Info("system started",
		"queues", len(s.bundle.Addresses()), "bridges", len(s.bridges), "services", len(s.services))

	return nil
}

// stopServices undoes a partial Start, newest first.
func (s *System) stopServices(started []cbus.Service) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(context.Background()); err != nil {
			s.logger.Warn("rollback stop failed", "service", fmt.Sprintf("%T", started[i]), telemetry.LabelError.L(err))
		}
	}
}

// Shutdown stops the System in two phases. First the lifecycle services stop, so no new
// discovery or imported traffic originates from them. Then the bundle drains every queue and
// emits the remaining responses, and only after that are the bridges closed, so events raised
// while draining still leave the process. Later calls wait for the first one.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state >= stateStopping {
		s.mu.Unlock()
		return s.Wait(ctx)
	}

	var services []cbus.Service
	if s.state == stateRunning {
		services = append(services, s.services...)
	}

	s.state = stateStopping
	bridges := append([]cbus.Bridge(nil), s.bridges...)
	s.mu.Unlock()

	var errs []error

	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop service %T: %w", services[i], err))
		}
	}

	if err := s.bundle.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	for _, b := range bridges {
		s.events.LeaveServices(b)

		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bridge %T: %w", b, err))
		}
	}

	err := errors.Join(errs...)

	s.mu.Lock()
	s.state = stateStopped
	s.err = err
	close(s.done)
	s.mu.Unlock()

	s.logger.Info("system stopped", telemetry.LabelError.L(err))

	return err
}

// Done is closed once Shutdown finished.
func (s *System) Done() <-chan struct{} { return s.done }

// Wait blocks until Shutdown finished or ctx is done, and returns the shutdown error.
func (s *System) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()

		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ cbus.Sender = (*System)(nil)
