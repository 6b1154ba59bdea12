// Package orcerr provides the structured error type shared by every
// orchestrator component.
package orcerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the closed error kinds from the error handling design.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflictState Kind = "conflict_state"
	KindStorage       Kind = "storage"
	KindWorkerCrash   Kind = "worker_crash"
	KindBridgeLost    Kind = "bridge_lost"
	KindCancellation  Kind = "cancellation"
	KindTimeout       Kind = "timeout"
)

// Error is the structured error type returned by orchestrator components.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a causing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// MarshalJSON renders the wire shape used on the event stream: kind,
// message, occurredAt is stamped by the caller (events carry their own
// timestamp field, so it is not duplicated here).
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		Cause string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.Cause = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Of extracts an *Error from err, or nil if err is not one.
func Of(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// KindOf returns the Kind of err if it is an *Error, or "" otherwise.
func KindOf(err error) Kind {
	if e := Of(err); e != nil {
		return e.Kind
	}
	return ""
}

// --- constructors for the errors components raise most often ---

func NotFound(what, id string) *Error {
	return New(KindValidation, fmt.Sprintf("%s %q not found", what, id))
}

func Conflict(message string) *Error {
	return New(KindConflictState, message)
}

func Storage(message string, cause error) *Error {
	return Wrap(KindStorage, message, cause)
}

func WorkerCrash(message string, cause error) *Error {
	return Wrap(KindWorkerCrash, message, cause)
}

func BridgeLost(message string) *Error {
	return New(KindBridgeLost, message)
}

func Timeout(message string) *Error {
	return New(KindTimeout, message)
}
