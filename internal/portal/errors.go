package portal

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of remote-facing operations.
type ErrorKind string

const (
	// KindCapabilityMissing reports that no wallet capability is available.
	KindCapabilityMissing = ErrorKind("capability_missing")
	// KindUserRejected reports that the user declined a wallet prompt.
	KindUserRejected = ErrorKind("user_rejected")
	// KindResourceExceeded reports that a write ran past its resource ceiling.
	KindResourceExceeded = ErrorKind("resource_exceeded")
	// KindRemoteRejected reports a contract-level revert.
	KindRemoteRejected = ErrorKind("remote_rejected")
	// KindUnknown covers every other failure.
	KindUnknown = ErrorKind("unknown")
)

const (
	errMessageNotConnected        = "wallet not connected"
	errMessagePostInFlight        = "profile post already in flight"
	errMessageConnectionInFlight  = "wallet connection already in flight"
	errMessageNoAccountsReturned  = "wallet returned no accounts"
	errMessageMissingConfirmation = "write returned no pending transaction"
)

var (
	// ErrNotConnected is returned by store operations before an account is set.
	ErrNotConnected = errors.New(errMessageNotConnected)
	// ErrPostInFlight is returned while a previous post has not settled.
	ErrPostInFlight = errors.New(errMessagePostInFlight)
	// ErrConnectionInFlight is returned when probe and connect overlap.
	ErrConnectionInFlight = errors.New(errMessageConnectionInFlight)

	// ErrCapabilityMissing matches any *Error of kind KindCapabilityMissing.
	ErrCapabilityMissing = &Error{Kind: KindCapabilityMissing}
	// ErrUserRejected matches any *Error of kind KindUserRejected.
	ErrUserRejected = &Error{Kind: KindUserRejected}
	// ErrResourceExceeded matches any *Error of kind KindResourceExceeded.
	ErrResourceExceeded = &Error{Kind: KindResourceExceeded}
	// ErrRemoteRejected matches any *Error of kind KindRemoteRejected.
	ErrRemoteRejected = &Error{Kind: KindRemoteRejected}
	// ErrUnknown matches any *Error of kind KindUnknown.
	ErrUnknown = &Error{Kind: KindUnknown}
)

// Error carries the classified outcome of a failed operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with the given kind. A nil err yields a bare kind error.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var kindErr *Error
	if !errors.As(target, &kindErr) {
		return false
	}
	return kindErr.Kind == e.Kind
}

// KindOf returns the kind of err, defaulting to KindUnknown for unclassified errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var kindErr *Error
	if errors.As(err, &kindErr) {
		return kindErr.Kind
	}
	return KindUnknown
}

// classify attaches the operation name and guarantees a *Error result.
func classify(operation string, err error) *Error {
	var kindErr *Error
	if !errors.As(err, &kindErr) {
		return &Error{Kind: KindUnknown, Op: operation, Err: err}
	}
	cause := err
	if direct, ok := err.(*Error); ok {
		cause = direct.Err
	}
	return &Error{Kind: kindErr.Kind, Op: operation, Err: cause}
}
