// Package dispatcherr defines the typed error taxonomy used across
// dispatchd's components, replacing exception-driven not-found/conflict
// control flow with explicit result variants (see spec §7 and the
// REDESIGN FLAGS note on exception-driven control flow).
package dispatcherr

import (
	"errors"
	"fmt"

	"github.com/cuemby/dispatchd/pkg/types"
)

// Code classifies an Error for HTTP status mapping and retry policy.
type Code string

const (
	CodeValidation       Code = "validation"
	CodeNotFound         Code = "not_found"
	CodeForbidden        Code = "forbidden"
	CodeVersionConflict  Code = "version_conflict"
	CodeInvalidTransition Code = "invalid_transition"
	CodeConflict         Code = "conflict"
	CodeTransient        Code = "transient"
	CodeFatal            Code = "fatal"
)

// Error is the typed error every component returns instead of a bare
// error string. Current, when set, carries the authoritative resource
// state a caller should reconcile against (used by VersionConflict).
type Error struct {
	Code    Code
	Message string
	Current any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, dispatcherr.CodeX)-style matching by
// comparing codes when both sides are *Error.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func Forbidden(message string) *Error {
	return New(CodeForbidden, message)
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func InvalidTransition(from, to types.TaskStatus) *Error {
	return New(CodeInvalidTransition, fmt.Sprintf("cannot transition task from %s to %s", from, to))
}

// VersionConflict reports an optimistic-concurrency mismatch; current
// is the authoritative persisted resource the caller should reconcile
// against (spec §4.1, §7).
func VersionConflict(current *types.Task) *Error {
	return &Error{
		Code:    CodeVersionConflict,
		Message: "task version mismatch",
		Current: current,
	}
}

func Transient(message string, err error) *Error {
	return Wrap(CodeTransient, message, err)
}

func Fatal(message string, err error) *Error {
	return Wrap(CodeFatal, message, err)
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error,
// defaulting to CodeFatal for unrecognized errors so the API adapter
// never leaks a raw 500 without a code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeFatal
}

// IsCode reports whether err is (or wraps) a *Error with the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
