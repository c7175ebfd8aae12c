package nats_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-service-core/adapters/inmemory"
	"github.com/next-trace/scg-service-core/adapters/internal/wire"
	"github.com/next-trace/scg-service-core/adapters/nats"
	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
	"github.com/next-trace/scg-service-core/eventbus"
)

type published struct {
	subject string
	data    []byte
	headers map[string]string
}

type fakeClient struct {
	mu    sync.Mutex
	calls []published
	subs  map[string]nats.MsgHandler
	err   error
}

func (f *fakeClient) Publish(subject string, data []byte, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, published{subject, data, headers})

	return f.err
}

func (f *fakeClient) Subscribe(subject string, fn nats.MsgHandler) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs == nil {
		f.subs = map[string]nats.MsgHandler{}
	}

	f.subs[subject] = fn

	return func() error {
		f.mu.Lock()
		delete(f.subs, subject)
		f.mu.Unlock()

		return nil
	}, nil
}

func (f *fakeClient) inject(subject string, data []byte, headers map[string]string) {
	f.mu.Lock()
	fn := f.subs[subject]
	f.mu.Unlock()

	fn(subject, data, headers)
}

type tracer struct{}

func (tracer) Inject(_ context.Context, h map[string]string) { h["traceparent"] = "00-abc" }

func TestBridge_DeliverPublishesEnvelope(t *testing.T) {
	fc := &fakeClient{}
	br := nats.New(fc, []string{"employee.new"},
		nats.WithOrigin("node-a"),
		nats.WithPropagator(tracer{}),
		nats.WithPublishOptions(cbus.PublishOptions{Key: "k", Headers: map[string]string{"h": "v"}}),
	)

	ev := cbus.NewEvent("employee.new", "rick", 10)
	require.NoError(t, br.Deliver(t.Context(), ev))
	require.Len(t, fc.calls, 1)

	c := fc.calls[0]
	require.Equal(t, "scg.events.employee.new", c.subject)
	require.Equal(t, "node-a", c.headers[wire.HeaderOrigin])
	require.Equal(t, ev.ID, c.headers[wire.HeaderEventID])
	require.Equal(t, "k", c.headers["key"])
	require.Equal(t, "v", c.headers["h"])
	require.Equal(t, "00-abc", c.headers["traceparent"])

	var env wire.Envelope
	require.NoError(t, json.Unmarshal(c.data, &env))
	require.Equal(t, []any{"rick", 10.0}, env.Args)
}

func TestBridge_SubjectOverrideAndPrefix(t *testing.T) {
	fc := &fakeClient{}

	require.Equal(t, "hr.x", nats.New(fc, nil, nats.WithPrefix("hr.")).Subject("x"))
	require.Equal(t, "fixed", nats.New(fc, nil,
		nats.WithPublishOptions(cbus.PublishOptions{TopicOverride: "fixed"})).Subject("x"))
}

func TestBridge_ImportedEventsAreNotForwarded(t *testing.T) {
	fc := &fakeClient{}
	br := nats.New(fc, []string{"c"})

	require.NoError(t, br.Deliver(wire.MarkImported(t.Context()), cbus.NewEvent("c")))
	require.Empty(t, fc.calls)
}

func TestBridge_Errors(t *testing.T) {
	require.ErrorIs(t, nats.New(nil, nil).Deliver(t.Context(), cbus.NewEvent("c")), berr.ErrPublishFailed)

	fc := &fakeClient{err: errors.New("boom")}
	br := nats.New(fc, nil)
	require.ErrorIs(t, br.Deliver(t.Context(), cbus.NewEvent("c")), berr.ErrPublishFailed)

	fc.err = context.Canceled
	require.ErrorIs(t, br.Deliver(t.Context(), cbus.NewEvent("c")), context.Canceled)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, br.Deliver(ctx, cbus.NewEvent("c")), context.Canceled)

	require.NoError(t, br.Close())
	require.ErrorIs(t, br.Deliver(t.Context(), cbus.NewEvent("c")), berr.ErrPublishFailed)
	require.NoError(t, br.Close())
}

func TestBridge_ImportResendsLocally(t *testing.T) {
	fc := &fakeClient{}
	br := nats.New(fc, []string{"employee.new"}, nats.WithOrigin("local"))

	bus := eventbus.New()
	rec := inmemory.New("employee.new")
	bus.JoinServices(rec, br)

	require.NoError(t, br.Import(bus, "employee.new"))

	remote, err := wire.Encode(cbus.NewEvent("employee.new", "morty"), "remote")
	require.NoError(t, err)
	fc.inject("scg.events.employee.new", remote, map[string]string{wire.HeaderOrigin: "remote"})

	require.Len(t, rec.Events(), 1)
	require.Equal(t, []any{"morty"}, rec.Events()[0].Args)
	// The bridge is subscribed to the bus too, but did not echo the import back out.
	require.Empty(t, fc.calls)

	own, err := wire.Encode(cbus.NewEvent("employee.new", "self"), "local")
	require.NoError(t, err)
	fc.inject("scg.events.employee.new", own, map[string]string{wire.HeaderOrigin: "local"})
	fc.inject("scg.events.employee.new", []byte("garbage"), nil)
	require.Len(t, rec.Events(), 1)

	require.NoError(t, br.Close())
	require.Empty(t, fc.subs)
}

func runServer(t *testing.T) *server.Server {
	t.Helper()

	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)

	go s.Start()

	if !s.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}

	t.Cleanup(s.Shutdown)

	return s
}

func TestBridge_TwoNodesOverNATS(t *testing.T) {
	s := runServer(t)

	busA, busB := eventbus.New(), eventbus.New()

	brA, cleanA, err := nats.NewWithNATS(nats.Config{URL: s.ClientURL(), Name: "a"}, []string{"employee.new"})
	require.NoError(t, err)
	t.Cleanup(cleanA)

	brB, cleanB, err := nats.NewWithNATS(nats.Config{URL: s.ClientURL(), Name: "b"}, []string{"employee.new"})
	require.NoError(t, err)
	t.Cleanup(cleanB)

	recA, recB := inmemory.New("employee.new"), inmemory.New("employee.new")
	busA.JoinServices(brA, recA)
	busB.JoinServices(brB, recB)

	require.NoError(t, brA.Import(busA, "employee.new"))
	require.NoError(t, brB.Import(busB, "employee.new"))

	require.NoError(t, busA.Send(t.Context(), "employee.new", "rick"))

	require.Eventually(t, func() bool { return len(recB.Events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []any{"rick"}, recB.Events()[0].Args)

	// No echo back to A and no ping-pong.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, recA.Events(), 1)
	require.Len(t, recB.Events(), 1)
}
