package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the session subsystem.
type Kind string

const (
	KindInvalidArgument     Kind = "invalid_argument"
	KindUnauthorized        Kind = "unauthorized"
	KindNotFound            Kind = "not_found"
	KindPolicyViolation     Kind = "policy_violation"
	KindConflict            Kind = "conflict"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamError       Kind = "upstream_error"
	KindInternal            Kind = "internal"
)

// Error is the typed error returned across store, gateway and service boundaries.
// NotFound is used both for missing and for foreign sessions.
type Error struct {
	Kind      Kind
	Op        string
	SessionID SessionID
	// Session is the partially updated session when a mutation happened before the failure.
	Session *Session
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.SessionID != "" {
		msg += " (session " + string(e.SessionID) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) style checks match on kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrPolicyViolation     = &Error{Kind: KindPolicyViolation}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrUpstreamError       = &Error{Kind: KindUpstreamError}
)

func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to a lower-level error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func NotFound(op string, id SessionID) *Error {
	return &Error{Kind: KindNotFound, Op: op, SessionID: id, Msg: "session not found"}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// SessionOf returns the partial session carried by err, if any.
func SessionOf(err error) *Session {
	var de *Error
	for err != nil {
		if !errors.As(err, &de) {
			return nil
		}
		if de.Session != nil {
			return de.Session
		}
		err = de.Err
	}
	return nil
}
