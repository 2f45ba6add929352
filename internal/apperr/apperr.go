// Package apperr defines the error taxonomy shared by the job, bid, escrow and progress engines.
//
// Every engine operation returns either nil or an *Error. Conflict and invalid transition errors
// carry the current authoritative record in Current so callers can re-fetch and decide whether
// to retry against the new state.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_state_transition"
	KindExternal          Kind = "external_service"
	KindStorage           Kind = "storage"
)

// Machine-readable codes exposed to clients.
const (
	CodeValidation            = "validation_error"
	CodeNotFound              = "not_found"
	CodeConflict              = "conflict"
	CodeDuplicateBid          = "duplicate_bid"
	CodeJobClosed             = "job_closed"
	CodeAlreadyDecided        = "already_decided"
	CodeIdempotencyInProgress = "idempotency_in_progress"
	CodeInvalidTransition     = "invalid_state_transition"
	CodeExternal              = "external_service_error"
	CodeStorage               = "storage_error"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string

	// Current is the authoritative record at the time of a conflict or rejected transition.
	Current any

	// Retryable and LocalMutation are only meaningful for KindExternal.
	Retryable     bool
	LocalMutation bool

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// Conflict reports a lost race or a duplicate; code narrows it (CodeDuplicateBid, CodeJobClosed, ...).
func Conflict(code, message string, current any) *Error {
	if code == "" {
		code = CodeConflict
	}
	return &Error{Kind: KindConflict, Code: code, Message: message, Current: current}
}

func InvalidTransition(message string, current any) *Error {
	return &Error{Kind: KindInvalidTransition, Code: CodeInvalidTransition, Message: message, Current: current}
}

// External wraps a payment processor failure.
func External(op string, err error, retryable, localMutation bool) *Error {
	return &Error{
		Kind:          KindExternal,
		Code:          CodeExternal,
		Message:       op + " failed",
		Retryable:     retryable,
		LocalMutation: localMutation,
		Err:           err,
	}
}

func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Code: CodeStorage, Message: op, Err: err}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, treating unknown errors as storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindStorage
}

// CodeOf returns the machine code of err.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeStorage
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// Restore rebuilds an error from a stored code and message, such as the recorded outcome of an
// idempotent request.
func Restore(code, message string) *Error {
	kind := KindStorage
	switch code {
	case CodeValidation:
		kind = KindValidation
	case CodeNotFound:
		kind = KindNotFound
	case CodeConflict, CodeDuplicateBid, CodeJobClosed, CodeAlreadyDecided, CodeIdempotencyInProgress:
		kind = KindConflict
	case CodeInvalidTransition:
		kind = KindInvalidTransition
	case CodeExternal:
		kind = KindExternal
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

// MessageOf returns the client-facing message of err without the wrapped cause.
func MessageOf(err error) string {
	if e, ok := As(err); ok {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
