// Package journal persists pipeline outcomes and tracked tickets in SQLite.
//
// The outcome table is append-only and exists for observability: operators
// can list what happened to recent messages after the items have left the
// in-memory store. The tracked_tickets table lets the tracker resume polling
// after a daemon restart. Neither table participates in admission or
// deduplication; the mail source remains the authority on what is processed.
package journal
