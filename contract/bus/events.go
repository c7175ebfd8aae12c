package bus

import (
	"context"
	"time"

	"github.com/nats-io/nuid"
)

// Event is a payload published on a named channel.
type Event struct {
	ID        string
	Channel   string
	Args      []any
	Timestamp time.Time
}

// NewEvent stamps a new Event for channel.
func NewEvent(channel string, args ...any) Event {
	return Event{ID: nuid.Next(), Channel: channel, Args: args, Timestamp: time.Now()}
}

// Consumer accepts events delivered by an event bus. Returning an error reports
// that this consumer did not accept the event; other consumers are unaffected.
type Consumer interface {
	Deliver(ctx context.Context, ev Event) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, ev Event) error

func (f ConsumerFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Subscriber is a Consumer that declares the channels it listens on.
type Subscriber interface {
	Consumer
	Channels() []string
}

// Sender publishes args on a channel. Event buses implement it.
type Sender interface {
	Send(ctx context.Context, channel string, args ...any) error
}

// ChannelResolver maps a handler's method ids to already-resolved channel names.
// Resolution happens outside the event bus; the bus only sees plain strings.
type ChannelResolver interface {
	Resolve(handler any) (map[string]string, error)
}
