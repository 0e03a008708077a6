package tracker

import (
	"errors"
	"fmt"
	"time"

	"ticketflow/internal/items"
	"ticketflow/internal/services"
	"ticketflow/internal/ticketsys"
)

var (
	// ErrHandoffFull is returned by Track when the handoff buffer is full.
	// It is transient: the caller may retry after backoff.
	ErrHandoffFull = fmt.Errorf("%w: tracker handoff full", services.ErrTransient)
	// ErrStaleTrackingExpired reports a ticket dropped at the tracking
	// horizon without reaching a closed state.
	ErrStaleTrackingExpired = errors.New("stale tracking expired")
	// ErrNotTracked is returned for ticket numbers outside the tracked set.
	ErrNotTracked = errors.New("ticket not tracked")
)

// StatusChange is one observed state transition.
type StatusChange struct {
	State    string    `json:"state"`
	Name     string    `json:"name"`
	Previous string    `json:"previous,omitempty"`
	At       time.Time `json:"at"`
}

// TrackedTicket is a ticket under lifecycle observation.
type TrackedTicket struct {
	Ref               items.TicketRef `json:"ref"`
	DedupKey          string          `json:"dedup_key,omitempty"`
	OriginatorAddress string          `json:"originator_address"`
	CallerName        string          `json:"caller_name,omitempty"`
	ShortDescription  string          `json:"short_description,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	LastPolledAt      time.Time       `json:"last_polled_at,omitzero"`
	LastKnownStatus   string          `json:"last_known_status,omitempty"`
	NotifiedOnCreate  bool            `json:"notified_on_create"`
	NotifiedOnClose   bool            `json:"notified_on_close"`
	StatusHistory     []StatusChange  `json:"status_history,omitempty"`
}

// Number returns the ticket number used as the tracking key.
func (t TrackedTicket) Number() string { return t.Ref.Number }

// Closed reports whether the last observed status is a closed state.
func (t TrackedTicket) Closed() bool { return ticketsys.IsClosedState(t.LastKnownStatus) }

// PendingClosure reports a closed ticket whose notification has not gone out.
func (t TrackedTicket) PendingClosure() bool { return t.Closed() && !t.NotifiedOnClose }

// Validate checks the fields required to poll and notify.
func (t TrackedTicket) Validate() error {
	if t.Ref.Number == "" {
		return errors.New("tracked ticket: number required")
	}
	if t.Ref.SysID == "" {
		return fmt.Errorf("tracked ticket %s: sys_id required", t.Ref.Number)
	}
	if t.NotifiedOnClose && !t.Closed() {
		return fmt.Errorf("tracked ticket %s: notified on close before closing", t.Ref.Number)
	}
	return nil
}

func (t TrackedTicket) clone() TrackedTicket {
	out := t
	if len(t.StatusHistory) > 0 {
		out.StatusHistory = append([]StatusChange(nil), t.StatusHistory...)
	}
	return out
}
