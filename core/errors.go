package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of failure classes the platform recognizes.
// Every failure that crosses a component boundary is normalized to one of
// these before it reaches a record or an API response.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindBlocked    ErrorKind = "blocked"
	KindTimeout    ErrorKind = "timeout"
	KindTransient  ErrorKind = "transient"
	KindPermanent  ErrorKind = "permanent"
	KindCancelled  ErrorKind = "cancelled"
	KindInternal   ErrorKind = "internal"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	ErrSkillNotFound     = errors.New("skill not found")
	ErrSkillSuppressed   = errors.New("skill suppressed by safety profile")
	ErrHubNotFound       = errors.New("hub not found")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")

	ErrDescriptorConflict = errors.New("conflicting skill descriptor")

	ErrBlocked          = errors.New("blocked by aurora")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrRateLimited      = errors.New("rate limit exhausted")
	ErrConfirmationWait = errors.New("awaiting confirmation")

	ErrTimeout   = errors.New("operation timeout")
	ErrCancelled = errors.New("execution cancelled")
	ErrCut       = errors.New("cut by aurora")

	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Error provides structured error information with context. It implements
// the error interface and supports wrapping.
type Error struct {
	Op      string    // Operation that failed (e.g. "registry.Lookup")
	Kind    ErrorKind // Failure class
	ID      string    // Optional ID of the entity involved
	Message string    // Human-readable message
	Err     error     // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a structured platform error.
func NewError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the error kind, walking the wrap chain. Unknown errors
// are classified Internal; context errors map to Timeout/Cancelled.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Kind != "" {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrSkillNotFound), errors.Is(err, ErrHubNotFound),
		errors.Is(err, ErrWorkflowNotFound), errors.Is(err, ErrExecutionNotFound),
		errors.Is(err, ErrSkillSuppressed):
		return KindNotFound
	case errors.Is(err, ErrDescriptorConflict):
		return KindConflict
	case errors.Is(err, ErrBlocked), errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrRateLimited):
		return KindBlocked
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrCut):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the executor may retry the failed operation.
// Only transient faults and timeouts qualify; the step must additionally be
// idempotent, which is the caller's check.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether the error represents a missing entity.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsBlocked reports whether the error represents an authorization denial.
func IsBlocked(err error) bool {
	return KindOf(err) == KindBlocked
}

// APICode maps an error kind onto the gateway's error code vocabulary.
func (k ErrorKind) APICode() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "INVALID_REQUEST"
	case KindBlocked:
		return "BLOCKED"
	case KindTimeout, KindTransient, KindPermanent, KindCancelled:
		return "PROCESSING_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps an error kind onto an HTTP status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBlocked:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindTransient, KindPermanent, KindCancelled:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorInfoFrom normalizes any error into the record/API shape.
func ErrorInfoFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{
		Code:    KindOf(err).APICode(),
		Message: err.Error(),
	}
}
