package results

import "time"

// Kind classifies a result event.
type Kind string

const (
	KindPartial Kind = "partial"
	KindFinal   Kind = "final"
	KindError   Kind = "error"
)

// Terminal reports whether no further events follow this kind for a session.
func (k Kind) Terminal() bool { return k == KindFinal || k == KindError }

// Event is one result delivered to the consumer for a session.
// For synthesis the final event is the audio-completion marker: Text holds the
// spoken text and AudioBytes the amount of audio handed to the player.
type Event struct {
	SessionID  string
	Kind       Kind
	Text       string
	AudioBytes int64
	Err        error
	Time       time.Time
}
