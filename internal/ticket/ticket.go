package ticket

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities lists every valid priority, lowest first.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusInTesting  Status = "in_testing"
	StatusDone       Status = "done"
	StatusArchived   Status = "archived"
)

// Statuses lists every valid status in board column order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusInTesting, StatusDone, StatusArchived}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusInTesting, StatusDone, StatusArchived:
		return true
	}
	return false
}

// Label returns the column heading for s.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "In Progress"
	case StatusInTesting:
		return "In Testing"
	case StatusDone:
		return "Done"
	case StatusArchived:
		return "Archived"
	}
	return string(s)
}

// Ticket is a unit of support work. ID and CreatedAt are assigned by the
// ticket store and never set by clients.
type Ticket struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	Assignee    string    `json:"assignee"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Fields is the client-supplied part of a ticket, sent on creation.
type Fields struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	Status      Status   `json:"status"`
	Assignee    string   `json:"assignee"`
}

// Fields returns the client-editable part of t.
func (t Ticket) Fields() Fields {
	return Fields{
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Status:      t.Status,
		Assignee:    t.Assignee,
	}
}

// WithFields returns a copy of t carrying f. ID and CreatedAt are kept.
func (t Ticket) WithFields(f Fields) Ticket {
	t.Title = f.Title
	t.Description = f.Description
	t.Priority = f.Priority
	t.Status = f.Status
	t.Assignee = f.Assignee
	return t
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid ticket")

// ValidationError lists the offending fields.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Normalize trims text fields and fills in the defaults a new ticket form
// starts with (medium priority, pending status).
func (f Fields) Normalize() Fields {
	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	f.Assignee = strings.TrimSpace(f.Assignee)
	if f.Priority == "" {
		f.Priority = PriorityMedium
	}
	if f.Status == "" {
		f.Status = StatusPending
	}
	return f
}

// Validate reports every missing or out-of-range field at once.
func (f Fields) Validate() error {
	var problems []string
	if strings.TrimSpace(f.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(f.Description) == "" {
		problems = append(problems, "description is required")
	}
	if strings.TrimSpace(f.Assignee) == "" {
		problems = append(problems, "assignee is required")
	}
	if !f.Priority.Valid() {
		problems = append(problems, fmt.Sprintf("priority %q is not one of low, medium, high", f.Priority))
	}
	if !f.Status.Valid() {
		problems = append(problems, fmt.Sprintf("status %q is not a board column", f.Status))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ParseStatus accepts a status value or its column label, case-insensitively
// ("In Progress", "in-progress" and "in_progress" are equivalent).
func ParseStatus(s string) (Status, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	st := Status(norm)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Column is one status lane of the board.
type Column struct {
	Status  Status
	Tickets []Ticket
}

// GroupByStatus splits tickets into board columns, preserving the input
// order within each column. Every status gets a column, empty or not.
func GroupByStatus(tickets []Ticket) []Column {
	cols := make([]Column, len(Statuses))
	index := make(map[Status]int, len(Statuses))
	for i, s := range Statuses {
		cols[i] = Column{Status: s}
		index[s] = i
	}
	for _, t := range tickets {
		i, ok := index[t.Status]
		if !ok {
			continue
		}
		cols[i].Tickets = append(cols[i].Tickets, t)
	}
	return cols
}
