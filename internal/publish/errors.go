// ABOUTME: Classified publish errors and the kinds that drive retry decisions
// ABOUTME: Submitters wrap failures with Transient, Auth, or Rejected

package publish

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failed submission.
type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindTransient ErrorKind = "transient"
	KindAuth      ErrorKind = "auth"
	KindRejected  ErrorKind = "rejected"
	KindCanceled  ErrorKind = "canceled"
	KindUnknown   ErrorKind = "unknown"
)

// Error is a classified submission failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient marks err as worth retrying.
func Transient(err error) error { return &Error{Kind: KindTransient, Err: err} }

// Auth marks err as an authentication failure.
func Auth(err error) error { return &Error{Kind: KindAuth, Err: err} }

// Rejected marks err as the platform refusing the content.
func Rejected(err error) error { return &Error{Kind: KindRejected, Err: err} }

// KindOf extracts the kind of err. Unclassified errors are KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}
