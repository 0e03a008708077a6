// Package daemon coordinates the long-running ticketflow process.
//
// It owns the batch scheduler and the ticket tracker loop, holds a
// flock-based lock so only one instance runs against a state directory, and
// exposes an optional HTTP API for status, health, manual triggers, tracked
// tickets, recent outcomes, and Prometheus metrics.
//
// Keep orchestration logic here: stage behavior lives in workflow and the
// stage packages, and polling behavior lives in tracker.
package daemon
