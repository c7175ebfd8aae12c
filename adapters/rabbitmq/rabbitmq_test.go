package rabbitmq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-service-core/adapters/inmemory"
	"github.com/next-trace/scg-service-core/adapters/internal/wire"
	"github.com/next-trace/scg-service-core/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/eventbus"
)

type fakePublisher struct {
	calls []rabbitmq.PubMsg
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, m rabbitmq.PubMsg) error {
	f.calls = append(f.calls, m)

	return f.err
}

func TestRabbitMQ_ForwardsChannelsAsRoutingKeys(t *testing.T) {
	fp := &fakePublisher{}
	fw := rabbitmq.New(fp, []string{"employee.new", "employee.payroll"},
		rabbitmq.WithPropagator(cbus.HeaderPropagatorFunc(func(_ context.Context, h map[string]string) {
			h["traceparent"] = "00-abc"
		})),
		rabbitmq.WithPublishOptions(cbus.PublishOptions{Key: "rk", Headers: map[string]string{"h": "x"}}),
	)

	bus := eventbus.New()
	bus.JoinServices(fw)

	if err := bus.Send(t.Context(), "employee.new", "rick"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := bus.Send(t.Context(), "employee.payroll", "rick", 100); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(fp.calls) != 2 {
		t.Fatalf("want 2, got %d", len(fp.calls))
	}

	c := fp.calls[0]
	if c.Exchange != "integration" || c.RoutingKey != "employee.new" {
		t.Fatalf("routing: %q %q", c.Exchange, c.RoutingKey)
	}

	if c.MessageID == "" || c.MessageID != c.Headers[wire.HeaderEventID] {
		t.Fatalf("message id: %q headers=%+v", c.MessageID, c.Headers)
	}

	if c.Headers["h"] != "x" || c.Headers["key"] != "rk" || c.Headers["traceparent"] != "00-abc" {
		t.Fatalf("headers: %+v", c.Headers)
	}

	env, err := wire.Decode(fp.calls[1].Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if env.Channel != "employee.payroll" || len(env.Args) != 2 {
		t.Fatalf("envelope: %+v", env)
	}
}

func TestRabbitMQ_RoutingKeyOverrideAndExchange(t *testing.T) {
	fp := &fakePublisher{}
	fw := rabbitmq.New(fp, []string{"c"},
		rabbitmq.WithExchange("hr"),
		rabbitmq.WithPublishOptions(cbus.PublishOptions{TopicOverride: "evt.all"}),
	)

	if err := fw.Deliver(t.Context(), cbus.NewEvent("c")); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if fp.calls[0].Exchange != "hr" || fp.calls[0].RoutingKey != "evt.all" {
		t.Fatalf("routing: %+v", fp.calls[0])
	}
}

func TestRabbitMQ_ErrorsAreReportedNotThrown(t *testing.T) {
	fp := &fakePublisher{err: errors.New("boom")}
	fw := rabbitmq.New(fp, []string{"c"})
	rec := inmemory.New("c")

	bus := eventbus.New()
	bus.JoinServices(fw, rec)

	err := bus.Send(t.Context(), "c", 1)
	if !errors.Is(err, berr.ErrPublishFailed) || !errors.Is(err, berr.ErrDeliveryFailed) {
		t.Fatalf("want publish failure reported by the bus, got %v", err)
	}

	if len(rec.Events()) != 1 {
		t.Fatalf("local subscriber missed the event")
	}

	fp.err = context.Canceled
	if err := fw.Deliver(t.Context(), cbus.NewEvent("c")); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	if err := rabbitmq.New(nil, nil).Deliver(t.Context(), cbus.NewEvent("c")); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed for nil publisher, got %v", err)
	}
}

func TestRabbitMQ_SkipsImportedEvents(t *testing.T) {
	fp := &fakePublisher{}
	fw := rabbitmq.New(fp, []string{"c"})

	if err := fw.Deliver(wire.MarkImported(t.Context()), cbus.NewEvent("c")); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(fp.calls) != 0 {
		t.Fatalf("imported event was forwarded")
	}

	if err := fw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
