package inmemory

import (
	"context"
	"sync"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
)

// Recorder is a thread-safe in-memory cbus.Bridge. It records every event delivered on the
// channels it was created for, for testing and examples.
type Recorder struct {
	mu       sync.Mutex
	channels []string
	events   []cbus.Event
	err      error
	closed   bool
}

// New creates a Recorder listening on channels.
func New(channels ...string) *Recorder {
	return &Recorder{channels: append([]string(nil), channels...)}
}

// FailWith makes every following delivery return err. Pass nil to accept again.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Channels() []string { return append([]string(nil), r.channels...) }

func (r *Recorder) Deliver(_ context.Context, ev cbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.events = append(r.events, ev)

	return nil
}

// Events returns a copy of the recorded events in delivery order.
func (r *Recorder) Events() []cbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]cbus.Event(nil), r.events...)
}

// On returns the recorded events of one channel.
func (r *Recorder) On(channel string) []cbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []cbus.Event
	for _, ev := range r.events {
		if ev.Channel == channel {
			out = append(out, ev)
		}
	}

	return out
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	return nil
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

// Responses is a thread-safe in-memory cbus.ResponseSink recording emitted responses.
type Responses struct {
	mu    sync.Mutex
	items []cbus.Response
}

// NewResponses creates an empty response recorder.
func NewResponses() *Responses { return &Responses{} }

func (s *Responses) Emit(responses ...cbus.Response) {
	s.mu.Lock()
	s.items = append(s.items, responses...)
	s.mu.Unlock()
}

// All returns a copy of the recorded responses in emission order.
func (s *Responses) All() []cbus.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]cbus.Response(nil), s.items...)
}

// Len returns how many responses were recorded.
func (s *Responses) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

var (
	_ cbus.Bridge       = (*Recorder)(nil)
	_ cbus.ResponseSink = (*Responses)(nil)
)
