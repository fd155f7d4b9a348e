package speech

import (
	"context"
	"time"
)

// EventKind classifies what an engine reported.
type EventKind string

const (
	EventPartial  EventKind = "partial"
	EventFinal    EventKind = "final"
	EventCanceled EventKind = "canceled"
)

// Event is a single engine callback translated into a value.
type Event struct {
	Kind EventKind
	Text string
	// Reason is the vendor's cancellation reason, passed through verbatim.
	Reason string
	// AudioBytes is set on a synthesis final event.
	AudioBytes int64
	Time       time.Time
}

func Partial(text string) Event { return Event{Kind: EventPartial, Text: text, Time: time.Now()} }
func Final(text string) Event { return Event{Kind: EventFinal, Text: text, Time: time.Now()} }
func Canceled(reason string) Event {
	return Event{Kind: EventCanceled, Reason: reason, Time: time.Now()}
}

// Engine is the part of the contract shared by both variants.
type Engine interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Results returns the engine's event stream for the current session.
	Results() <-chan Event
	// Stop ends the operation and releases the vendor connection.
	Stop(ctx context.Context) error
}

// Recognizer turns audio into a stream of partial results ending in one final.
type Recognizer interface {
	Engine
	// Start returns once the engine is ready to recognize.
	Start(ctx context.Context) error
}

// Synthesizer turns text into audio and reports exactly one terminal event.
type Synthesizer interface {
	Engine
	// Speak returns once synthesis has begun.
	Speak(ctx context.Context, text string) error
}

// Pausable is implemented by engines that can hold their audio.
type Pausable interface {
	Pause() error
	Resume() error
}

// Mutable is implemented by engines with a muteable audio output.
type Mutable interface {
	SetMuted(muted bool) error
}
