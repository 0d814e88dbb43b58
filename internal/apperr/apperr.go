// Package apperr defines the failure taxonomy shared by the transport client,
// the check-in orchestrator and the station API.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can choose how to present it.
type Kind string

const (
	// KindConfiguration means the secret or base URL is missing. Fatal for any network action.
	KindConfiguration Kind = "configuration"

	// KindUnreachable means the backend could not be reached (DNS, TLS, connection, timeout).
	KindUnreachable Kind = "unreachable"

	// KindServer means the backend answered with a non-2xx status.
	KindServer Kind = "server"

	// KindProtocol means the backend answered with something that is not the expected JSON.
	KindProtocol Kind = "protocol"

	// KindValidation means the input was rejected before any network call.
	KindValidation Kind = "validation"
)

// Messages shown to operators when the underlying detail is not presentable.
const (
	MsgUnreachable   = "Unable to connect to server. Check your internet connection and API URL."
	MsgProtocol      = "Unexpected response from server"
	MsgConfiguration = "API is not properly configured"
	MsgGeneric       = "Failed to process check-in"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	// Status is the HTTP status for server errors, zero otherwise.
	Status int
	// Detail holds the raw response body for protocol errors.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around an underlying cause.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Server creates a server error for a non-2xx response.
func Server(status int, message string) *Error {
	return &Error{Kind: KindServer, Message: message, Status: status}
}

// Protocol creates a protocol error keeping the raw body for diagnosis.
func Protocol(message, body string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: message, Detail: body, Err: err}
}

// KindOf extracts the kind from err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether resubmitting the same action may succeed.
func Retryable(err error) bool {
	return Is(err, KindUnreachable)
}

// UserMessage renders err for an operator.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return MsgGeneric
	}
	switch e.Kind {
	case KindUnreachable:
		return MsgUnreachable
	case KindProtocol:
		return MsgProtocol
	case KindConfiguration:
		if e.Message != "" {
			return e.Message
		}
		return MsgConfiguration
	default:
		if e.Message != "" {
			return e.Message
		}
		return MsgGeneric
	}
}
