package engine

import (
	"errors"
	"fmt"
)

// Failure taxonomy for engine operations. All of these are recoverable:
// the operation aborts, a user-facing message lands in the state
// store's Err field, and the caller gets back false. Nothing escapes to
// the presentation layer as a fault.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("session not found")
	ErrConflict          = errors.New("name conflict")
	ErrIllegalState      = errors.New("operation not valid for session state")
	ErrPermission        = errors.New("owner-only operation")
	ErrRemoteUnavailable = errors.New("remote store unavailable")
)

// userError pairs a taxonomy sentinel with the message shown to the
// participant. errors.Is sees through it to the sentinel.
type userError struct {
	kind error
	msg  string
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.kind }

func failUser(kind error, msg string) error {
	return &userError{kind: kind, msg: msg}
}

func wrapRemote(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, op, err)
}

// userMessage extracts the message to surface for err, falling back to
// the operation's generic failure text.
func userMessage(err error, fallback string) string {
	var ue *userError
	if errors.As(err, &ue) {
		return ue.msg
	}
	return fallback
}
