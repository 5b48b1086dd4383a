package broker

import (
	"errors"
	"fmt"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
)

// ErrorKind classifies adapter failures.
type ErrorKind int

const (
	// KindNetwork covers connection failures, timeouts and 5xx/429 answers.
	KindNetwork ErrorKind = iota + 1
	// KindProtocol covers responses the adapter could not decode or validate.
	KindProtocol
	// KindUnauthorized means the broker refused the session or credentials.
	KindUnauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is returned by Client implementations.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("broker %s: %s error (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("broker %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps the error kind onto the application taxonomy.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindNetwork:
		return target == apperrors.ErrTransientNetwork
	case KindProtocol:
		return target == apperrors.ErrProtocolMismatch
	case KindUnauthorized:
		return target == apperrors.ErrAuthRejected
	}
	return false
}

func networkError(op string, status int, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Status: status, Err: err}
}

func protocolError(op string, status int, err error) *Error {
	return &Error{Kind: KindProtocol, Op: op, Status: status, Err: err}
}

func unauthorizedError(op string, status int, err error) *Error {
	return &Error{Kind: KindUnauthorized, Op: op, Status: status, Err: err}
}

// KindOf returns the kind of a broker error, or 0 when err is not one.
func KindOf(err error) ErrorKind {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind
	}
	return 0
}

// IsNetwork reports whether err is a transient transport failure.
func IsNetwork(err error) bool { return KindOf(err) == KindNetwork }

// IsUnauthorized reports whether the broker refused the session.
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }
