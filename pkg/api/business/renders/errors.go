package renders

import (
	"errors"
	"time"
)

const (
	KindCapacityExceeded = "capacity_exceeded"
	KindRenderFailed     = "render_failed"
	KindValidationFailed = "validation_failed"
	KindDependencyFailed = "dependency_failed"
	KindCreationFailed   = "creation_failed"
	KindConnectionLost   = "connection_lost"
)

var (
	ErrCapacityExceeded = errors.New("pool capacity exceeded")
	ErrInstanceCrashed  = errors.New("engine instance crashed")
	ErrCreationFailed   = errors.New("engine creation failed")
	ErrValidationFailed = errors.New("render call validation failed")
	ErrDependencyFailed = errors.New("dependency call failed")
	ErrRenderFailed     = errors.New("render failed")
	ErrConnectionLost   = errors.New("connection lost")
)

// KindOf maps an error chain onto the wire-level error kind. Unknown errors
// count as render failures.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return KindCapacityExceeded
	case errors.Is(err, ErrValidationFailed):
		return KindValidationFailed
	case errors.Is(err, ErrDependencyFailed):
		return KindDependencyFailed
	case errors.Is(err, ErrCreationFailed):
		return KindCreationFailed
	case errors.Is(err, ErrConnectionLost):
		return KindConnectionLost
	default:
		return KindRenderFailed
	}
}

// Retryable reports whether the caller may usefully retry the same call.
func Retryable(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrInstanceCrashed)
}

// CallError is the per-call failure shape shared by both gateway modes.
// Index is the call's position in the submitted batch; stream-mode errors
// carry no batch position and leave it at zero.
type CallError struct {
	Index        int    `json:"index"`
	CallID       string `json:"call_id"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

func (e *CallError) Error() string {
	return e.Kind + ": " + e.Message
}

func NewCallError(callID string, err error) *CallError {
	return &CallError{
		CallID:  callID,
		Kind:    KindOf(err),
		Message: err.Error(),
	}
}

func (e *CallError) WithRetryAfter(period time.Duration) *CallError {
	e.RetryAfterMs = period.Milliseconds()

	return e
}

func (e *CallError) WithIndex(index int) *CallError {
	e.Index = index

	return e
}
