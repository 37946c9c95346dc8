package reconciler

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation names a ticket id absent from
// the local collection. No request is sent in that case.
var ErrNotFound = errors.New("ticket not found")

// Op names an intent for error reporting and notifications.
type Op string

const (
	OpLoad   Op = "load tickets"
	OpCreate Op = "create ticket"
	OpMove   Op = "move ticket"
	OpEdit   Op = "edit ticket"
	OpDelete Op = "delete ticket"
)

// OpError reports a failed operation. Err wraps the underlying cause, so
// errors.Is works against ErrNotFound and the remote error kinds.
type OpError struct {
	Op       Op
	TicketID string
	Err      error
}

func (e *OpError) Error() string {
	if e.TicketID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.TicketID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
