package errorsx

import (
	"fmt"
	"time"
)

// AuthError reports a credential fetch or validation failure.
// It is recoverable by starting again.
type AuthError struct {
	Op     string
	Reason ReasonCode
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + e.Op
	}
	return "auth: " + e.Op + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) ReasonCode() ReasonCode {
	if e.Reason == "" {
		return ReasonAuthFetch
	}
	return e.Reason
}

// EngineError reports a vendor cancellation or device failure.
// Reason is the vendor detail, surfaced verbatim.
type EngineError struct {
	Engine string
	Reason string
	Code   ReasonCode
	Err    error
}

func (e *EngineError) Error() string {
	msg := "engine"
	if e.Engine != "" {
		msg += " " + e.Engine
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) ReasonCode() ReasonCode {
	if e.Code == "" {
		return ReasonEngineCanceled
	}
	return e.Code
}

// InvalidStateError is returned when an operation is not legal in the current state.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: %s not allowed in %s", e.Op, e.State)
}

func (e *InvalidStateError) ReasonCode() ReasonCode { return ReasonInvalidState }

// UnsupportedOperationError is returned when the engine lacks a capability. It is non-fatal.
type UnsupportedOperationError struct {
	Op     string
	Engine string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation: %s on %s", e.Op, e.Engine)
}

func (e *UnsupportedOperationError) ReasonCode() ReasonCode { return ReasonUnsupported }

// TimeoutError reports a transition that did not complete in time.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s did not complete within %s", e.Op, e.After)
}

func (e *TimeoutError) ReasonCode() ReasonCode { return ReasonTimeout }
