package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Mileage error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"      // 400
	ErrNotFound            ErrorCode = "NOT_FOUND"            // 404
	ErrFileNotFound        ErrorCode = "FILE_NOT_FOUND"       // 404
	ErrAlreadyTracking     ErrorCode = "ALREADY_TRACKING"     // 409
	ErrNotTracking         ErrorCode = "NOT_TRACKING"         // 409
	ErrRecoveryPending     ErrorCode = "RECOVERY_PENDING"     // 409
	ErrResumeNotAllowed    ErrorCode = "RESUME_NOT_ALLOWED"   // 409
	ErrLocationDenied      ErrorCode = "LOCATION_DENIED"      // 403
	ErrLocationUnavailable ErrorCode = "LOCATION_UNAVAILABLE" // 503
	ErrRouteUnavailable    ErrorCode = "ROUTE_UNAVAILABLE"    // 502
	ErrSnapshotCorrupt     ErrorCode = "SNAPSHOT_CORRUPT"     // 500
	ErrCancelled           ErrorCode = "CANCELLED"            // 499
	ErrInternal            ErrorCode = "INTERNAL"             // 500
)

// MileageError represents a structured error with code, status, and details.
type MileageError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *MileageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *MileageError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *MileageError {
	return &MileageError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a trip or job cannot be found.
func NewNotFound(identifier string) *MileageError {
	return &MileageError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing input file.
func NewFileNotFound(path string) *MileageError {
	return &MileageError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewAlreadyTracking creates a 409 error when a session is already active.
func NewAlreadyTracking(sessionID string) *MileageError {
	return &MileageError{
		Code:    ErrAlreadyTracking,
		Status:  409,
		Message: "a tracking session is already active",
		Details: map[string]any{"session_id": sessionID},
	}
}

// NewNotTracking creates a 409 error when no session is active.
func NewNotTracking() *MileageError {
	return &MileageError{
		Code:    ErrNotTracking,
		Status:  409,
		Message: "no tracking session is active",
	}
}

// NewRecoveryPending creates a 409 error when an interrupted trip must be
// resolved before a new session can start.
func NewRecoveryPending(sessionID string) *MileageError {
	return &MileageError{
		Code:    ErrRecoveryPending,
		Status:  409,
		Message: "an interrupted trip must be resumed, finalized or discarded first",
		Details: map[string]any{"session_id": sessionID},
	}
}

// NewResumeNotAllowed creates a 409 error when a snapshot cannot be resumed.
func NewResumeNotAllowed(mode string) *MileageError {
	return &MileageError{
		Code:    ErrResumeNotAllowed,
		Status:  409,
		Message: fmt.Sprintf("only continuous trips can be resumed (snapshot mode %q)", mode),
		Details: map[string]any{"tracking_mode": mode},
	}
}

// NewLocationDenied creates a 403 error when location access is refused.
func NewLocationDenied() *MileageError {
	return &MileageError{
		Code:    ErrLocationDenied,
		Status:  403,
		Message: "location access denied",
	}
}

// NewLocationUnavailable creates a 503 error when no fix could be obtained.
func NewLocationUnavailable(err error) *MileageError {
	msg := "location unavailable"
	if err != nil {
		msg = fmt.Sprintf("location unavailable: %v", err)
	}
	return &MileageError{
		Code:    ErrLocationUnavailable,
		Status:  503,
		Message: msg,
		cause:   err,
	}
}

// NewRouteUnavailable creates a 502 error when the routing provider fails.
func NewRouteUnavailable(err error) *MileageError {
	msg := "route unavailable"
	if err != nil {
		msg = fmt.Sprintf("route unavailable: %v", err)
	}
	return &MileageError{
		Code:    ErrRouteUnavailable,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewSnapshotCorrupt creates a 500 error for an unparsable trip snapshot.
func NewSnapshotCorrupt(err error) *MileageError {
	return &MileageError{
		Code:    ErrSnapshotCorrupt,
		Status:  500,
		Message: fmt.Sprintf("trip snapshot is corrupt: %v", err),
		cause:   err,
	}
}

// NewCancelled creates a 499 error when the caller abandoned an operation.
func NewCancelled(operation string) *MileageError {
	return &MileageError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *MileageError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &MileageError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a MileageError with the given code.
func Is(err error, code ErrorCode) bool {
	var mErr *MileageError
	if stderrors.As(err, &mErr) {
		return mErr.Code == code
	}
	return false
}
