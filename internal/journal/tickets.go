package journal

import (
	"context"
	"fmt"
	"strings"
)

// SaveTicket upserts the serialized tracking record for a ticket number.
func (s *Store) SaveTicket(ctx context.Context, number string, payload []byte) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return fmt.Errorf("save ticket: number required")
	}
	_, err := s.exec(ctx,
		`INSERT INTO tracked_tickets (number, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(number) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		number, string(payload), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("save ticket %s: %w", number, err)
	}
	return nil
}

// DeleteTicket removes the tracking record for number. Absent numbers are ignored.
func (s *Store) DeleteTicket(ctx context.Context, number string) error {
	if _, err := s.exec(ctx, `DELETE FROM tracked_tickets WHERE number = ?`, number); err != nil {
		return fmt.Errorf("delete ticket %s: %w", number, err)
	}
	return nil
}

// LoadTickets returns every stored tracking record keyed by ticket number.
func (s *Store) LoadTickets(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT number, payload FROM tracked_tickets ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var number, payload string
		if err := rows.Scan(&number, &payload); err != nil {
			return nil, err
		}
		out[number] = []byte(payload)
	}
	return out, rows.Err()
}
