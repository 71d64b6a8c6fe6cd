package presence

import (
	"context"
	"errors"
	"time"
)

// Kind is the transition being published.
type Kind string

const (
	KindJoined Kind = "joined"
	KindLeft   Kind = "left"
	// KindRefreshed is a heartbeat for a connection that is still in its room.
	KindRefreshed Kind = "refreshed"
)

// Event describes one connection entering, staying in or leaving a room.
type Event struct {
	Kind         Kind      `json:"kind"`
	RoomID       string    `json:"roomId"`
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	X            int       `json:"x"`
	Y            int       `json:"y"`
	At           time.Time `json:"at"`
}

// Sink receives presence events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }
