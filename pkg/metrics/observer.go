package metrics

import "time"

// Event names recorded by the coordinator and credential provider.
const (
	EventSessionState      = "session_state"
	EventSessionResult     = "session_result"
	EventCredentialRefresh = "credential_refresh"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
