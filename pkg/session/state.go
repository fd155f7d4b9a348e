package session

import (
	"fmt"
	"strings"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StatePaused
	StateStopping
	StateError
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Mode selects which engine variant a session drives.
type Mode int

const (
	ModeRecognition Mode = iota
	ModeSynthesis
)

func (m Mode) String() string {
	switch m {
	case ModeRecognition:
		return "recognition"
	case ModeSynthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

func ParseMode(v string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "recognition", "listen", "stt":
		return ModeRecognition, nil
	case "synthesis", "speak", "tts":
		return ModeSynthesis, nil
	}
	return 0, fmt.Errorf("unknown session mode %q", v)
}

// Session is a snapshot of the coordinator's live interaction.
type Session struct {
	ID        string
	Mode      Mode
	State     State
	Muted     bool
	StartedAt time.Time
	// Err is the failure that moved the session to StateError.
	Err error
}

// Request describes the interaction to start.
type Request struct {
	Mode Mode
	// Text is spoken in synthesis mode.
	Text string
}
