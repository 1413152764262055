// Package errs provides the unified error type used across bucketdesk.
//
// Every subsystem (filestore providers, the journal database drivers, the
// desk state machine, …) wraps its native errors into *errs.Error before
// returning them. Callers use the Is* predicates or KindOf to react without
// importing provider-specific packages.
//
// Usage:
//
//	// In a provider, wrap native errors:
//	return errs.Wrap(errs.ErrKindNotFound, "failed to delete object", s3Err)
//
//	// In a handler, map to a status:
//	http.Error(w, err.Error(), errs.HTTPStatus(err))
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// MinIO, AWS S3, the in-memory store, Postgres and MySQL all map their
// native errors to one of these kinds.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no object, no bucket, no row
	ErrKindConnectionFailed         // cannot reach the backend
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // storage or SQL operation error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied / auth failure
	ErrKindConflict                 // operation already in progress
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all bucketdesk subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original provider-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a missing object, bucket or row.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsConflict reports whether err was raised because the operation is
// already running.
func IsConflict(err error) bool {
	return KindOf(err) == ErrKindConflict
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// HTTPStatus maps an error to the status code the HTTP front end replies with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrKindNotFound:
		return http.StatusNotFound
	case ErrKindInvalidInput:
		return http.StatusBadRequest
	case ErrKindPermissionDenied:
		return http.StatusForbidden
	case ErrKindConflict:
		return http.StatusConflict
	case ErrKindTimeout:
		return http.StatusGatewayTimeout
	case ErrKindConnectionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
