package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yeremiapane/restaurant-floor/database"
)

type ErrorCode string

const (
	CodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	CodeAlreadyMerged        ErrorCode = "ALREADY_MERGED"
	CodeNotMerged            ErrorCode = "NOT_MERGED"
	CodeConflictingOperation ErrorCode = "CONFLICTING_OPERATION"
	CodeSessionExpired       ErrorCode = "SESSION_EXPIRED"
	CodeSessionNotFound      ErrorCode = "SESSION_NOT_FOUND"
	CodeTableUnavailable     ErrorCode = "TABLE_UNAVAILABLE"
	CodeBackendUnavailable   ErrorCode = "BACKEND_UNAVAILABLE"
	CodeValidation           ErrorCode = "VALIDATION_ERROR"
	CodeNotFound             ErrorCode = "NOT_FOUND"
)

// Reasons attached to TableUnavailable.
const (
	ReasonMaintenance   = "maintenance"
	ReasonInactive      = "inactive"
	ReasonMergedAway    = "merged"
	ReasonOccupied      = "occupied"
	ReasonCleaning      = "cleaning"
	ReasonSessionActive = "session_active"
)

// LifecycleError is returned by every engine operation. Match with
// errors.Is against the sentinels below; the code decides equality.
type LifecycleError struct {
	Code    ErrorCode
	Message string
	Reason  string
	Err     error
}

func (e *LifecycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidTransition    = &LifecycleError{Code: CodeInvalidTransition, Message: "invalid status transition"}
	ErrAlreadyMerged        = &LifecycleError{Code: CodeAlreadyMerged, Message: "table is already merged"}
	ErrNotMerged            = &LifecycleError{Code: CodeNotMerged, Message: "table has no merged tables"}
	ErrConflictingOperation = &LifecycleError{Code: CodeConflictingOperation, Message: "conflicting operation on table"}
	ErrSessionExpired       = &LifecycleError{Code: CodeSessionExpired, Message: "session expired"}
	ErrSessionNotFound      = &LifecycleError{Code: CodeSessionNotFound, Message: "session not found"}
	ErrTableUnavailable     = &LifecycleError{Code: CodeTableUnavailable, Message: "table unavailable"}
	ErrBackendUnavailable   = &LifecycleError{Code: CodeBackendUnavailable, Message: "backend unavailable"}
	ErrValidation           = &LifecycleError{Code: CodeValidation, Message: "validation error"}
	ErrNotFound             = &LifecycleError{Code: CodeNotFound, Message: "not found"}
)

func newError(code ErrorCode, format string, args ...interface{}) *LifecycleError {
	return &LifecycleError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalidTransition(from, to string) *LifecycleError {
	return newError(CodeInvalidTransition, "cannot change table status from %s to %s", from, to)
}

func tableUnavailable(reason, format string, args ...interface{}) *LifecycleError {
	e := newError(CodeTableUnavailable, format, args...)
	e.Reason = reason
	return e
}

func validationError(format string, args ...interface{}) *LifecycleError {
	return newError(CodeValidation, format, args...)
}

// translate maps storage failures onto the lifecycle taxonomy.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	var le *LifecycleError
	if errors.As(err, &le) {
		return le
	}
	switch {
	case errors.Is(err, database.ErrNotFound):
		return newError(CodeNotFound, "%s not found", what)
	case errors.Is(err, database.ErrVersionConflict), errors.Is(err, database.ErrDuplicate):
		return &LifecycleError{Code: CodeConflictingOperation, Message: what + " was modified concurrently", Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &LifecycleError{Code: CodeBackendUnavailable, Message: "backend timed out", Err: err}
	default:
		return &LifecycleError{Code: CodeBackendUnavailable, Message: "backend unavailable", Err: err}
	}
}
