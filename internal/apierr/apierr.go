// Package apierr classifies failures of remote API calls so callers never
// inspect raw transport responses.
package apierr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the classification of a failed remote call.
type Kind int

const (
	// Transport covers network errors, timeouts, 5xx responses and
	// undecodable bodies.
	Transport Kind = iota
	// NotFound means the remote resource does not exist or is not visible
	// to the credential.
	NotFound
	// Rejected means the remote side understood the call and returned an
	// explicit error code.
	Rejected
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Rejected:
		return "rejected"
	default:
		return "transport failure"
	}
}

// Error is a classified remote call failure.
type Error struct {
	Op   string // e.g. "conversations.info"
	Kind Kind
	Code string // remote error code, when the remote side supplied one
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil && (e.Code == "" || e.Err.Error() != e.Code) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error.
func New(op string, kind Kind, code string, err error) *Error {
	return &Error{Op: op, Kind: kind, Code: code, Err: err}
}

// Rejectedf builds a Rejected error with a code and formatted message.
func Rejectedf(op, code, format string, args ...interface{}) *Error {
	return &Error{Op: op, Kind: Rejected, Code: code, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err. Errors that were never classified, and
// context deadline or cancellation errors, count as Transport.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Transport
}

// IsNotFound reports whether err is a classified NotFound failure.
func IsNotFound(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == NotFound
}

// IsTimeout reports whether err stems from a context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
