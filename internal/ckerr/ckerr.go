// Package ckerr defines the daemon-wide error taxonomy and the plumbing
// to translate it onto D-Bus error names at the bus boundary.
package ckerr

import (
	"errors"
	"fmt"
)

// Kind distinguishes the category of a daemon error so that callers at
// the bus boundary can map it to a stable D-Bus error name without
// string-matching the message.
type Kind int

const (
	// KindFailed is the catch-all for unexpected failures.
	KindFailed Kind = iota
	// KindGeneral indicates a contract violation by the caller's state.
	KindGeneral
	// KindInsufficientPermission indicates uid/pid does not own the
	// referenced object.
	KindInsufficientPermission
	// KindAuthorizationRequired indicates external authorization needs an
	// interactive challenge.
	KindAuthorizationRequired
	// KindBusy indicates a system action is already in flight.
	KindBusy
	// KindNotSupported indicates the platform lacks the requested
	// capability.
	KindNotSupported
	// KindInhibited indicates a BLOCK-mode inhibitor prevents the action.
	KindInhibited
	// KindInvalidInput indicates an argument failed validation.
	KindInvalidInput
	// KindOOM indicates an allocation failed.
	KindOOM
	// KindNoSeats indicates seat enumeration returned empty.
	KindNoSeats
	// KindNoSessions indicates session enumeration returned empty.
	KindNoSessions
	// KindNothingInhibited indicates ListInhibitors was called when all
	// counts are zero.
	KindNothingInhibited
	// KindAlreadyActive indicates activation of the already-active session.
	KindAlreadyActive
)

// String returns the taxonomy name, used both for logging and for
// deriving the D-Bus error name suffix.
func (k Kind) String() string {
	switch k {
	case KindFailed:
		return "Failed"
	case KindGeneral:
		return "General"
	case KindInsufficientPermission:
		return "InsufficientPermission"
	case KindAuthorizationRequired:
		return "AuthorizationRequired"
	case KindBusy:
		return "Busy"
	case KindNotSupported:
		return "NotSupported"
	case KindInhibited:
		return "Inhibited"
	case KindInvalidInput:
		return "InvalidInput"
	case KindOOM:
		return "OOM"
	case KindNoSeats:
		return "NoSeats"
	case KindNoSessions:
		return "NoSessions"
	case KindNothingInhibited:
		return "NothingInhibited"
	case KindAlreadyActive:
		return "AlreadyActive"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for op with the given kind, wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of returns the Kind carried by err if it (or something it wraps) is a
// *Error, and ok=false otherwise — in which case callers should treat
// the error as KindFailed.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindFailed, false
}

// KindOf is a convenience wrapper returning KindFailed for untyped errors.
func KindOf(err error) Kind {
	k, _ := Of(err)
	return k
}
