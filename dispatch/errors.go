package dispatch

import (
	"errors"
	"fmt"

	"carestore/store"
)

// UsageError is returned when a command is missing arguments or an
// argument that must be non-empty is empty.
type UsageError struct {
	Command string
	Usage   string // e.g. "REGISTER|username|user_id"
}

func (e *UsageError) Error() string { return "usage: " + e.Usage }

// ParseError is returned when an integer argument is not a base-10
// 64-bit integer.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid integer %q for %s: %v", e.Value, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnknownCommandError is returned for a command name with no handler.
type UnknownCommandError struct{ Name string }

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

// errEmpty is returned for a blank request line.
var errEmpty = errors.New("empty")

// errInternal stands in for a recovered handler panic.
var errInternal = errors.New("internal error")

// Message returns the client-facing text for err, as carried in the
// second field of an ERR response.
func Message(err error) string {
	var (
		ue *UsageError
		pe *ParseError
		ce *UnknownCommandError
	)
	switch {
	case errors.As(err, &ue):
		return ue.Error()
	case errors.As(err, &pe):
		return "invalid integer"
	case errors.As(err, &ce):
		return "unknown command"
	case errors.Is(err, errEmpty):
		return "empty"
	case errors.Is(err, store.ErrPersist):
		return store.ErrPersist.Error()
	default:
		return errInternal.Error()
	}
}
