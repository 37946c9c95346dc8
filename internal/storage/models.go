package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Event kinds recorded in a ticket's history.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventMoved   = "moved"
	EventDeleted = "deleted"
)

type TicketEvent struct {
	ID         int64     `json:"id"`
	TicketID   string    `json:"ticketId"`
	Kind       string    `json:"kind"`
	FromStatus string    `json:"fromStatus,omitempty"`
	ToStatus   string    `json:"toStatus,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
