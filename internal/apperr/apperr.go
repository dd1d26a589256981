// Package apperr centralizes the dispatcher's error taxonomy so that every
// HTTP handler maps failures to status codes the same way, rather than each
// handler guessing.
package apperr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way the system's error handling design
// groups them: by how a caller should react, not by which component raised
// them.
type Kind string

// The full set of error kinds the dispatcher surfaces.
const (
	KindInvalidInput    Kind = "invalid_input"
	KindAuthRequired    Kind = "auth_required"
	KindAuthFailed      Kind = "auth_failed"
	KindLostRace        Kind = "lost_race"
	KindNotFound        Kind = "not_found"
	KindUpstreamFailure Kind = "upstream_failure"
	KindConfigError     Kind = "config_error"
)

// Error wraps an underlying cause with a Kind used for HTTP mapping and a
// human-readable message safe to return to a caller.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As keep working
// through this type.
func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an existing error,
// preserving it as the cause via github.com/pkg/errors so that call-site
// stack information survives for logging. The message is carried once, in
// Message; the cause itself is attached with errors.WithStack rather than
// errors.WithMessage so Error() doesn't repeat it.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, cause: errors.WithStack(cause)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindUpstreamFailure for anything unrecognized.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUpstreamFailure
}

// HTTPStatus maps an error's Kind to the status code spec.md's error
// handling design assigns it. Unknown errors default to 500.
func HTTPStatus(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindAuthRequired, KindAuthFailed:
		return http.StatusUnauthorized
	case KindLostRace:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamFailure:
		return http.StatusBadRequest
	case KindConfigError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
