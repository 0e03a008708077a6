package ticketsys

import (
	"context"
	"time"

	"ticketflow/internal/items"
)

// TicketRef identifies a created ticket.
type TicketRef = items.TicketRef

// TicketFields is the payload for a new ticket.
type TicketFields struct {
	// CorrelationID is the item dedup key; creation is idempotent on it.
	CorrelationID    string
	ShortDescription string
	Description      string
	Category         string
	Subcategory      string
	Priority         string
	Urgency          string
	// AssignmentGroup is a group name; the adapter resolves it.
	AssignmentGroup string
	CallerEmail     string
}

// Status is a ticket's current lifecycle state.
type Status struct {
	State           string    `json:"state"`
	Name            string    `json:"name"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
}

// Closed reports whether the status is Resolved, Closed, or Canceled.
func (s Status) Closed() bool { return IsClosedState(s.State) }

// System is the ticket system contract.
type System interface {
	CreateTicket(ctx context.Context, fields TicketFields) (TicketRef, error)
	GetStatus(ctx context.Context, ref TicketRef) (Status, error)
}

// Incident state codes.
const (
	StateNew        = "1"
	StateInProgress = "2"
	StateOnHold     = "3"
	StateResolved   = "6"
	StateClosed     = "7"
	StateCanceled   = "8"
)

var stateNames = map[string]string{
	StateNew:        "New",
	StateInProgress: "In Progress",
	StateOnHold:     "On Hold",
	StateResolved:   "Resolved",
	StateClosed:     "Closed",
	StateCanceled:   "Canceled",
}

// IsClosedState reports whether state is terminal.
func IsClosedState(state string) bool {
	switch state {
	case StateResolved, StateClosed, StateCanceled:
		return true
	default:
		return false
	}
}

// StateName returns the display name for state, or "Unknown (<state>)".
func StateName(state string) string {
	if name, ok := stateNames[state]; ok {
		return name
	}
	if state == "" {
		return "Unknown"
	}
	return "Unknown (" + state + ")"
}
