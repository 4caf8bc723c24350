package fault

import (
	"errors"
	"fmt"
)

// Class tells the task scheduler whether restarting the connector can help.
type Class int

const (
	// Unavailable covers transient broker/coordination outages. The task
	// should back off and restart the connector.
	Unavailable Class = iota
	// Config marks an inconsistent task configuration. Retry cannot change
	// the outcome; the task must be killed.
	Config
	// Payload marks a record that cannot be written as given (missing value,
	// no resolvable topic).
	Payload
	// Send marks an asynchronous produce rejected by the broker.
	Send
)

func (c Class) String() string {
	switch c {
	case Unavailable:
		return "unavailable"
	case Config:
		return "config"
	case Payload:
		return "payload"
	case Send:
		return "send"
	}
	return "unknown"
}

type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Class, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func New(c Class, format string, args ...any) error {
	return &Error{Class: c, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a class to an existing error, preserving the chain.
func Wrap(c Class, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: c, Err: err}
}

// IsRecoverable reports whether err (or anything it wraps) is a transient
// condition worth a restart-with-backoff. Unclassified errors are treated as
// fatal: retry is only safe when we know the cause is transient.
func IsRecoverable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class == Unavailable
	}
	return false
}

// ClassOf returns the class carried by err, or ok=false for plain errors.
func ClassOf(err error) (Class, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class, true
	}
	return 0, false
}
