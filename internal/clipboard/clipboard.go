// Package clipboard gives short-lived exclusive access to the system
// clipboard and reports who is holding it when access is refused.
package clipboard

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means there is no usable clipboard on this system.
	ErrUnavailable = errors.New("clipboard unavailable")
	// ErrReleased is returned when a lease is used after Release.
	ErrReleased = errors.New("clipboard lease already released")
)

// Owner identifies whoever held the clipboard when we asked for it.
type Owner struct {
	PID     uint32
	Window  uintptr
	Process string
}

func (o Owner) String() string {
	switch {
	case o.Process != "":
		return fmt.Sprintf("%s (pid %d)", o.Process, o.PID)
	case o.PID != 0:
		return fmt.Sprintf("pid %d", o.PID)
	case o.Window != 0:
		return fmt.Sprintf("window %#x", o.Window)
	}
	return "unknown"
}

// ContentionError is returned by Acquire when another party holds the clipboard.
type ContentionError struct {
	Owner Owner
	Err   error
}

func (e *ContentionError) Error() string {
	msg := "clipboard held by " + e.Owner.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ContentionError) Unwrap() error { return e.Err }

// Lease is exclusive access obtained from Acquire. It must be released on the
// goroutine that acquired it.
type Lease interface {
	SetText(text string) error
	Text() (string, error)
	Release() error
}

// Clipboard hands out leases. Acquire never blocks; callers retry on
// *ContentionError.
type Clipboard interface {
	Acquire() (Lease, error)
}
