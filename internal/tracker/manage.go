package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"ticketflow/internal/logging"
	"ticketflow/internal/metrics"
	"ticketflow/internal/ticketsys"
)

// TicketBrief identifies a tracked ticket in summaries.
type TicketBrief struct {
	Number     string    `json:"number"`
	CreatedAt  time.Time `json:"created_at"`
	Originator string    `json:"originator,omitempty"`
}

// Summary describes the tracked set.
type Summary struct {
	Total                int            `json:"total"`
	ByStatus             map[string]int `json:"by_status"`
	PendingNotifications int            `json:"pending_notifications"`
	Oldest               *TicketBrief   `json:"oldest,omitempty"`
	Newest               *TicketBrief   `json:"newest,omitempty"`
}

// Summary counts tracked tickets by status display name. Tickets not yet
// polled are counted as "Unknown".
func (t *Tracker) Summary() Summary {
	out := Summary{ByStatus: map[string]int{}}
	for _, ticket := range t.List() {
		out.Total++
		out.ByStatus[ticketsys.StateName(ticket.LastKnownStatus)]++
		if ticket.PendingClosure() {
			out.PendingNotifications++
		}
		brief := &TicketBrief{Number: ticket.Number(), CreatedAt: ticket.CreatedAt, Originator: ticket.OriginatorAddress}
		if out.Oldest == nil || ticket.CreatedAt.Before(out.Oldest.CreatedAt) {
			out.Oldest = brief
		}
		if out.Newest == nil || ticket.CreatedAt.After(out.Newest.CreatedAt) {
			out.Newest = brief
		}
	}
	return out
}

// List returns copies of the tracked tickets ordered by creation time.
func (t *Tracker) List() []TrackedTicket {
	t.mu.Lock()
	out := make([]TrackedTicket, 0, len(t.tracked))
	for _, ticket := range t.tracked {
		out = append(out, ticket.clone())
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number() < out[j].Number()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns a copy of the tracked ticket for number.
func (t *Tracker) Get(number string) (TrackedTicket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ticket, ok := t.tracked[number]
	if !ok {
		return TrackedTicket{}, false
	}
	return ticket.clone(), true
}

// History returns the observed status changes for number.
func (t *Tracker) History(number string) ([]StatusChange, error) {
	ticket, ok := t.Get(number)
	if !ok {
		return nil, fmt.Errorf("history %s: %w", number, ErrNotTracked)
	}
	return ticket.StatusHistory, nil
}

// StopTracking removes number from the tracked set without notifying.
func (t *Tracker) StopTracking(ctx context.Context, number string) error {
	if !t.drop(ctx, number) {
		return fmt.Errorf("stop tracking %s: %w", number, ErrNotTracked)
	}
	t.logger.Info("stopped tracking ticket", logging.Ticket(number))
	return nil
}

// Cleanup drops closed tickets whose closure notification has been pending
// for longer than maxAge, and returns how many were removed.
func (t *Tracker) Cleanup(ctx context.Context, maxAge time.Duration) int {
	return t.cleanupBefore(ctx, t.now().Add(-maxAge))
}

func (t *Tracker) cleanup(ctx context.Context, now time.Time) {
	if t.opts.CleanupAfter <= 0 {
		return
	}
	t.cleanupBefore(ctx, now.Add(-t.opts.CleanupAfter))
}

func (t *Tracker) cleanupBefore(ctx context.Context, cutoff time.Time) int {
	var removed []string
	t.mu.Lock()
	for number, ticket := range t.tracked {
		if !ticket.PendingClosure() || len(ticket.StatusHistory) == 0 {
			continue
		}
		closedAt := ticket.StatusHistory[len(ticket.StatusHistory)-1].At
		if closedAt.Before(cutoff) {
			removed = append(removed, number)
			delete(t.tracked, number)
		}
	}
	count := len(t.tracked)
	t.mu.Unlock()

	if len(removed) == 0 {
		return 0
	}
	metrics.SetTracked(count)
	for _, number := range removed {
		t.unpersist(ctx, number)
		logging.WarnWithContext(t.logger, "closed ticket cleaned up without notification", "tracking_cleanup",
			logging.Ticket(number),
			logging.String(logging.FieldImpact, "originator was not told the ticket closed"),
			logging.Hint("check SMTP settings and notify the originator manually"),
		)
	}
	return len(removed)
}

type exportFile struct {
	ExportedAt time.Time       `json:"exported_at"`
	Total      int             `json:"total"`
	Tickets    []TrackedTicket `json:"tickets"`
}

// Export writes the tracked set to path as indented JSON. The file is
// replaced atomically.
func (t *Tracker) Export(path string) (int, error) {
	tickets := t.List()
	data, err := json.MarshalIndent(exportFile{
		ExportedAt: t.now().UTC(),
		Total:      len(tickets),
		Tickets:    tickets,
	}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode tracking export: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(append(data, '\n'))); err != nil {
		return 0, fmt.Errorf("write tracking export: %w", err)
	}
	return len(tickets), nil
}

// Import registers the tickets in an export file. Comments and trailing
// commas are accepted so exports can be edited by hand. Tickets already
// tracked are skipped; the number added is returned.
func (t *Tracker) Import(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read tracking import: %w", err)
	}
	standard, err := hujson.Standardize(raw)
	if err != nil {
		return 0, fmt.Errorf("parse tracking import: %w", err)
	}
	var file exportFile
	if err := json.Unmarshal(standard, &file); err != nil {
		return 0, fmt.Errorf("decode tracking import: %w", err)
	}
	for i, ticket := range file.Tickets {
		if err := ticket.Validate(); err != nil {
			return 0, fmt.Errorf("tracking import entry %d: %w", i, err)
		}
	}
	added := 0
	for _, ticket := range file.Tickets {
		if t.register(ctx, ticket) {
			added++
		}
	}
	return added, nil
}

// Restore loads persisted tracking records. Entries that fail to decode are
// skipped with a warning.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	records, err := t.store.LoadTickets(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	t.mu.Lock()
	for number, payload := range records {
		if _, exists := t.tracked[number]; exists {
			continue
		}
		var ticket TrackedTicket
		if err := json.Unmarshal(payload, &ticket); err != nil || ticket.Validate() != nil {
			logging.WarnWithContext(t.logger, "skipping unreadable tracking record", "tracking_restore_skip",
				logging.Ticket(number),
				logging.String(logging.FieldImpact, "ticket will not be polled"),
			)
			continue
		}
		t.tracked[number] = &ticket
		restored++
	}
	count := len(t.tracked)
	t.mu.Unlock()
	metrics.SetTracked(count)
	return restored, nil
}

func (t *Tracker) persist(ctx context.Context, ticket TrackedTicket) {
	if t.store == nil {
		return
	}
	payload, err := json.Marshal(ticket)
	if err == nil {
		err = t.store.SaveTicket(context.WithoutCancel(ctx), ticket.Number(), payload)
	}
	if err != nil {
		logging.WarnWithContext(t.logger, "tracking record not saved", "tracking_persist_failed",
			logging.Ticket(ticket.Number()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "ticket may not resume tracking after restart"),
		)
	}
}

func (t *Tracker) unpersist(ctx context.Context, number string) {
	if t.store == nil {
		return
	}
	if err := t.store.DeleteTicket(context.WithoutCancel(ctx), number); err != nil {
		logging.WarnWithContext(t.logger, "tracking record not deleted", "tracking_persist_failed",
			logging.Ticket(number),
			logging.Error(err),
			logging.String(logging.FieldImpact, "ticket may be restored after restart"),
		)
	}
}
