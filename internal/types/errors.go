package types

import "fmt"

// ErrorKind classifies routing failures. Only InvalidInput and an exhausted
// fallback chain surface to callers; everything else degrades in place.
type ErrorKind string

const (
	// ErrInvalidInput marks unrecoverable caller errors, e.g. an empty
	// candidate list. Fatal to the single call.
	ErrInvalidInput ErrorKind = "invalid_input"

	// ErrStrategyFailure marks a strategy that could not produce a decision.
	// The unified router recovers with exactly one fallback retry.
	ErrStrategyFailure ErrorKind = "strategy_failure"

	// ErrBackendUnavailable marks cache backend errors. Treated as a miss or
	// no-op write, logged and counted but never propagated.
	ErrBackendUnavailable ErrorKind = "backend_unavailable"
)

// RoutingError is the typed failure returned by the routing core.
type RoutingError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RoutingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// NewInvalidInput builds an InvalidInput error.
func NewInvalidInput(format string, args ...interface{}) *RoutingError {
	return &RoutingError{Kind: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NewStrategyFailure builds a StrategyFailure error wrapping the cause.
func NewStrategyFailure(msg string, err error) *RoutingError {
	return &RoutingError{Kind: ErrStrategyFailure, Message: msg, Err: err}
}

// IsKind reports whether err is a RoutingError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	re, ok := err.(*RoutingError)
	return ok && re.Kind == kind
}
