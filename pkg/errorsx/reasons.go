package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonAuthFetch       ReasonCode = "auth_fetch"
	ReasonAuthPayload     ReasonCode = "auth_payload"
	ReasonAuthRateLimit   ReasonCode = "auth_rate_limit"
	ReasonAuthCircuitOpen ReasonCode = "auth_circuit_open"

	ReasonEngineStart    ReasonCode = "engine_start"
	ReasonEngineCanceled ReasonCode = "engine_canceled"

	ReasonInvalidState ReasonCode = "invalid_state"
	ReasonUnsupported  ReasonCode = "unsupported_operation"
	ReasonTimeout      ReasonCode = "timeout"
)
