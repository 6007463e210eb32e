package obs

import (
	"errors"
	"fmt"
)

// Kind is the coordination-runtime error taxonomy (§7 of the design spec):
// a closed set of seven kinds, independent of any particular Go error type.
type Kind string

const (
	KindStorage     Kind = "StorageError"
	KindPublish     Kind = "PublishError"
	KindSubscriberLag Kind = "SubscriberLag"
	KindPhase       Kind = "PhaseError"
	KindGovernance  Kind = "GovernanceError"
	KindAgent       Kind = "AgentError"
	KindConfig      Kind = "ConfigError"
)

// Fatal reports whether errors of this kind are fatal at startup. Only
// ConfigError is; every other kind is recovered at the narrowest boundary
// that can proceed (per-message, per-phase, per-tick).
func (k Kind) Fatal() bool {
	return k == KindConfig
}

// CoordError is a structured error carrying its taxonomy kind, an optional
// component-supplied detail map, and the wrapped cause.
type CoordError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *CoordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *CoordError) Unwrap() error { return e.Err }

// WithDetail attaches a diagnostic key/value, returning the same error for chaining.
func (e *CoordError) WithDetail(key string, value interface{}) *CoordError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newErr(kind Kind, message string, err error) *CoordError {
	return &CoordError{Kind: kind, Message: message, Err: err}
}

func Storage(message string, err error) *CoordError    { return newErr(KindStorage, message, err) }
func Publish(message string, err error) *CoordError    { return newErr(KindPublish, message, err) }
func SubscriberLag(subscriber string, dropped int) *CoordError {
	return newErr(KindSubscriberLag, "subscriber lagging", nil).
		WithDetail("subscriber", subscriber).
		WithDetail("dropped", dropped)
}
func Phase(phase string, err error) *CoordError {
	return newErr(KindPhase, "phase could not produce its artifact", err).WithDetail("phase", phase)
}
func Governance(message string, err error) *CoordError { return newErr(KindGovernance, message, err) }
func Agent(agentID string, err error) *CoordError {
	return newErr(KindAgent, "agent think failed", err).WithDetail("agent_id", agentID)
}
func Config(message string, err error) *CoordError { return newErr(KindConfig, message, err) }

// Is reports whether err (or anything it wraps) is a CoordError of kind k.
func Is(err error, k Kind) bool {
	var ce *CoordError
	if errors.As(err, &ce) {
		return ce.Kind == k
	}
	return false
}

// KindOf extracts the taxonomy kind from err, or "" if err isn't a CoordError.
func KindOf(err error) Kind {
	var ce *CoordError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
