// Package wire is the envelope every broker bridge puts on the wire, plus the bits of context
// the bridges share to keep events from bouncing between a bus and its broker.
package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	cbus "github.com/next-trace/scg-service-core/contract/bus"
	berr "github.com/next-trace/scg-service-core/contract/errors"
)

// Header names set on every outbound message.
const (
	HeaderOrigin  = "x-scg-origin"
	HeaderEventID = "x-scg-event-id"
	HeaderChannel = "x-scg-channel"
)

// Envelope is the JSON body of a bridged event. Args decode as plain JSON values
// (float64, string, bool, map[string]any, []any) on the receiving side.
type Envelope struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Args      []any     `json:"args"`
	Timestamp time.Time `json:"ts"`
	Origin    string    `json:"origin,omitempty"`
}

// Encode marshals ev for the wire, stamped with origin.
func Encode(ev cbus.Event, origin string) ([]byte, error) {
	args := ev.Args
	if args == nil {
		args = []any{}
	}

	b, err := json.Marshal(Envelope{
		ID:        ev.ID,
		Channel:   ev.Channel,
		Args:      args,
		Timestamp: ev.Timestamp,
		Origin:    origin,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Channel, errors.Join(berr.ErrSerializationFailed, err))
	}

	return b, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	if env.Channel == "" {
		return Envelope{}, fmt.Errorf("decode: %w: missing channel", berr.ErrSerializationFailed)
	}

	return env, nil
}

// Event turns the envelope back into a bus event.
func (e Envelope) Event() cbus.Event {
	return cbus.Event{ID: e.ID, Channel: e.Channel, Args: e.Args, Timestamp: e.Timestamp}
}

// Headers merges base with the bridge headers for ev. base is not modified.
func Headers(base map[string]string, ev cbus.Event, origin string) map[string]string {
	h := make(map[string]string, len(base)+3)
	maps.Copy(h, base)

	h[HeaderOrigin] = origin
	h[HeaderEventID] = ev.ID
	h[HeaderChannel] = ev.Channel

	return h
}

type importedKey struct{}

// MarkImported tags ctx as carrying an event that arrived from a broker.
func MarkImported(ctx context.Context) context.Context {
	return context.WithValue(ctx, importedKey{}, true)
}

// Imported reports whether ctx was tagged by MarkImported. Bridges do not forward such events.
func Imported(ctx context.Context) bool {
	v, _ := ctx.Value(importedKey{}).(bool)
	return v
}

// WrapPublish returns context errors untouched and joins anything else with ErrPublishFailed.
func WrapPublish(label string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%s publish: %w", label, errors.Join(berr.ErrPublishFailed, err))
}
