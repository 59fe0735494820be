package chat

import (
	"errors"
	"fmt"

	"github.com/dohr-michael/neorix/internal/modes"
)

var (
	// ErrServiceUnavailable is matched by every send failure that reached the hosted
	// service (setup or mid-stream).
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrSuperseded ends a send whose session was replaced by a mode change. Fragments
	// produced afterwards are discarded; callers should end the turn silently.
	ErrSuperseded = errors.New("session superseded")

	// ErrBusy rejects a send while another one is in flight on the same session.
	ErrBusy = errors.New("a message is already being sent")
)

// SendError reports a failed send. It matches ErrServiceUnavailable and the
// classified cause with errors.Is.
type SendError struct {
	SessionID string
	Mode      modes.Mode
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send on %s (%s): %v: %v", e.SessionID, e.Mode, ErrServiceUnavailable, e.Err)
}

func (e *SendError) Unwrap() []error {
	return []error{ErrServiceUnavailable, e.Err}
}
