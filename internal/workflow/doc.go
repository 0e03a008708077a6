// Package workflow advances fetched messages through the ticket pipeline.
//
// The Orchestrator admits each message into the item store and drives it
// through an explicit state machine: classify, summarize, categorize, create
// ticket, notify, and hand off to the tracker. Every collaborator call runs
// under a per-call timeout and is retried with exponential backoff; permanent
// errors skip the remaining budget. Exhausted stages resolve into a fallback
// value, DISCARDED, or FAILED according to the transition table in fsm.go.
//
// The source is only told an item is processed once the item reaches a
// terminal state, so a crash mid-pipeline leads to re-admission rather than
// loss. Ticket creation is idempotent on the item's dedup key, which covers
// re-admission after a ticket was already created.
package workflow
