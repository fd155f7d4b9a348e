package session

import "time"

// trigger is an input to the session state machine: either a consumer call
// or a completion reported by a worker.
type trigger string

const (
	triggerStart   trigger = "start"
	triggerReady   trigger = "engine_ready"
	triggerFail    trigger = "engine_error"
	triggerPause   trigger = "pause"
	triggerResume  trigger = "resume"
	triggerMute    trigger = "mute"
	triggerStop    trigger = "stop"
	triggerDone    trigger = "final"
	triggerStopped trigger = "engine_stopped"
	triggerTimeout trigger = "timeout"
	triggerReset   trigger = "reset"
)

// validTransitions is the complete transition table. Any pair missing here
// is illegal and rejected without changing state.
var validTransitions = map[State]map[trigger]State{
	StateIdle: {
		triggerStart: StateStarting,
	},
	StateStarting: {
		triggerReady:   StateActive,
		triggerFail:    StateError,
		triggerStop:    StateStopping,
		triggerTimeout: StateError,
	},
	StateActive: {
		triggerPause: StatePaused,
		triggerMute:  StateActive,
		triggerStop:  StateStopping,
		triggerDone:  StateStopping,
		triggerFail:  StateError,
	},
	StatePaused: {
		triggerResume: StateActive,
		triggerMute:   StatePaused,
		triggerStop:   StateStopping,
		triggerDone:   StateStopping,
		triggerFail:   StateError,
	},
	StateStopping: {
		triggerStopped: StateIdle,
		triggerTimeout: StateError,
	},
	StateError: {
		triggerReset: StateIdle,
	},
}

func next(from State, t trigger) (State, bool) {
	to, ok := validTransitions[from][t]
	return to, ok
}

// StateChange represents a state transition event.
type StateChange struct {
	SessionID string
	Mode      Mode
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes session state changes. Listeners run on the
// coordinator's loop and must not call back into the coordinator.
type StateListener interface {
	OnStateChange(event StateChange)
}

// ListenerFunc adapts a function to StateListener.
type ListenerFunc func(StateChange)

func (f ListenerFunc) OnStateChange(event StateChange) { f(event) }
