// Package erruser carries errors meant for end users: Error() is the plain
// message shown inline (next to the diff input or as a run notice), while the
// technical cause stays reachable through Unwrap for --trace output.
package erruser

import "errors"

// Err pairs a user-facing message with an optional cause.
type Err struct {
	Msg string
	Err error
}

// Error returns the user-facing message only, never the cause.
func (e *Err) Error() string {
	if e == nil {
		return ""
	}
	return e.Msg
}

// Unwrap exposes the cause for errors.Is/As and trace logs. Safe on a nil
// receiver.
func (e *Err) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds a user-facing error. When cause is nil the result is a plain
// error with no Unwrap chain.
func New(msg string, cause error) error {
	if cause == nil {
		return errors.New(msg)
	}
	return &Err{Msg: msg, Err: cause}
}
