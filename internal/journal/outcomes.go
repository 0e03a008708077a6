package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ticketflow/internal/items"
)

// Outcome is one journal row describing how an item left the pipeline.
type Outcome struct {
	ID             int64       `json:"id"`
	DedupKey       string      `json:"dedup_key"`
	Subject        string      `json:"subject,omitempty"`
	Sender         string      `json:"sender,omitempty"`
	Stage          items.Stage `json:"stage"`
	TerminalReason string      `json:"terminal_reason,omitempty"`
	TicketNumber   string      `json:"ticket_number,omitempty"`
	JiraKey        string      `json:"jira_key,omitempty"`
	Attempts       int         `json:"attempts"`
	RequestID      string      `json:"request_id,omitempty"`
	RecordedAt     time.Time   `json:"recorded_at"`
}

// OutcomeFromItem builds a journal row from the final state of an item.
func OutcomeFromItem(item items.Item, requestID string) Outcome {
	out := Outcome{
		DedupKey:       item.DedupKey,
		Subject:        item.Content.Subject,
		Sender:         item.Content.From,
		Stage:          item.Stage,
		TerminalReason: item.TerminalReason,
		Attempts:       item.Attempts,
		RequestID:      requestID,
	}
	if item.Ticket != nil {
		out.TicketNumber = item.Ticket.Number
		out.JiraKey = item.Ticket.JiraKey
	}
	return out
}

// RecordOutcome appends an outcome row. RecordedAt defaults to now.
func (s *Store) RecordOutcome(ctx context.Context, outcome Outcome) error {
	if strings.TrimSpace(outcome.DedupKey) == "" {
		return fmt.Errorf("record outcome: dedup key required")
	}
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = s.now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO outcomes (dedup_key, subject, sender, stage, terminal_reason, ticket_number, jira_key, attempts, request_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.DedupKey,
		nullable(outcome.Subject),
		nullable(outcome.Sender),
		string(outcome.Stage),
		nullable(outcome.TerminalReason),
		nullable(outcome.TicketNumber),
		nullable(outcome.JiraKey),
		outcome.Attempts,
		nullable(outcome.RequestID),
		formatTime(outcome.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", outcome.DedupKey, err)
	}
	return nil
}

// RecentOutcomes returns up to limit outcomes, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, dedup_key, subject, sender, stage, terminal_reason, ticket_number, jira_key, attempts, request_id, recorded_at
		 FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o                                                   Outcome
			subject, sender, reason, ticket, jiraKey, requestID sql.NullString
			stage, recordedAt                                   string
		)
		if err := rows.Scan(&o.ID, &o.DedupKey, &subject, &sender, &stage, &reason, &ticket, &jiraKey, &o.Attempts, &requestID, &recordedAt); err != nil {
			return nil, err
		}
		o.Subject = subject.String
		o.Sender = sender.String
		o.Stage = items.Stage(stage)
		o.TerminalReason = reason.String
		o.TicketNumber = ticket.String
		o.JiraKey = jiraKey.String
		o.RequestID = requestID.String
		o.RecordedAt = parseTime(recordedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// OutcomeCounts returns the number of outcomes per stage recorded at or after since.
func (s *Store) OutcomeCounts(ctx context.Context, since time.Time) (map[items.Stage]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT stage, COUNT(1) FROM outcomes WHERE recorded_at >= ? GROUP BY stage`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[items.Stage]int)
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		counts[items.Stage(stage)] = count
	}
	return counts, rows.Err()
}

// PruneOutcomes deletes outcomes recorded before cutoff and returns the count removed.
func (s *Store) PruneOutcomes(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM outcomes WHERE recorded_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune outcomes: %w", err)
	}
	return res.RowsAffected()
}

func nullable(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
