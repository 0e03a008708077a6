package workflow

import (
	"context"

	"ticketflow/internal/items"
	"ticketflow/internal/stage"
)

// StatusSummary reports orchestrator state for the status API.
type StatusSummary struct {
	LastRun       *RunStats           `json:"last_run,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	InFlight      int                 `json:"in_flight"`
	StageCounts   map[items.Stage]int `json:"stage_counts"`
	FetchFailures int                 `json:"fetch_failures"`
	StageHealth   []stage.Health      `json:"stage_health,omitempty"`
}

// Status returns a snapshot of the orchestrator and its collaborators.
func (o *Orchestrator) Status(ctx context.Context) StatusSummary {
	o.mu.RLock()
	summary := StatusSummary{FetchFailures: o.fetchFailures}
	if o.lastRun != nil {
		run := *o.lastRun
		summary.LastRun = &run
	}
	if o.lastErr != nil {
		summary.LastError = o.lastErr.Error()
	}
	o.mu.RUnlock()

	summary.InFlight = o.store.Len()
	summary.StageCounts = o.store.StageCounts()
	for _, checker := range o.checkers {
		summary.StageHealth = append(summary.StageHealth, checker.HealthCheck(ctx))
	}
	return summary
}

// Healthy reports whether every collaborator probe is ready.
func (s StatusSummary) Healthy() bool {
	for _, h := range s.StageHealth {
		if !h.Ready {
			return false
		}
	}
	return true
}
