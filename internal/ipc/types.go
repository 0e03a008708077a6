package ipc

import (
	"time"

	"ticketflow/internal/journal"
	"ticketflow/internal/tracker"
	"ticketflow/internal/workflow"
)

// StartRequest starts the daemon loops.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon loops.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StageHealth describes readiness of a collaborator.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// RunSummary describes the last batch run.
type RunSummary = workflow.RunStats

// StatusResponse represents combined daemon, scheduler, and tracker status.
type StatusResponse struct {
	Running       bool            `json:"running"`
	PID           int             `json:"pid"`
	LockPath      string          `json:"lock_path"`
	JournalPath   string          `json:"journal_path"`
	LogPath       string          `json:"log_path"`
	BatchAlive    bool            `json:"batch_alive"`
	BatchInFlight bool            `json:"batch_in_flight"`
	Interval      time.Duration   `json:"interval"`
	Runs          int             `json:"runs"`
	LastRunStart  time.Time       `json:"last_run_start,omitzero"`
	LastRunFinish time.Time       `json:"last_run_finish,omitzero"`
	LastRun       *RunSummary     `json:"last_run,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	ItemsInFlight int             `json:"items_in_flight"`
	StageCounts   map[string]int  `json:"stage_counts"`
	FetchFailures int             `json:"fetch_failures"`
	Tracking      tracker.Summary `json:"tracking"`
	StageHealth   []StageHealth   `json:"stage_health"`
}

// HealthRequest fetches loop liveness.
type HealthRequest struct{}

// HealthResponse reports loop liveness and collaborator readiness.
type HealthResponse struct {
	Healthy         bool          `json:"healthy"`
	BatchLoopAlive  bool          `json:"batch_loop_alive"`
	TrackerAlive    bool          `json:"tracker_loop_alive"`
	BatchLastTick   time.Time     `json:"batch_last_tick,omitzero"`
	TrackerLastTick time.Time     `json:"tracker_last_tick,omitzero"`
	Collaborators   []StageHealth `json:"collaborators"`
}

// TriggerRequest asks for an immediate batch run.
type TriggerRequest struct{}

// TriggerResponse reports whether the run was accepted.
type TriggerResponse struct {
	Accepted bool   `json:"accepted"`
	Result   string `json:"result"`
}

// TicketListRequest lists tracked tickets, optionally filtered by state code.
type TicketListRequest struct {
	State string `json:"state"`
}

// TicketListResponse contains tracked tickets.
type TicketListResponse struct {
	Tickets []tracker.TrackedTicket `json:"tickets"`
}

// TicketCheckRequest forces an immediate poll of every tracked ticket.
type TicketCheckRequest struct{}

// TicketCheckResponse acknowledges the poll request.
type TicketCheckResponse struct {
	Requested bool `json:"requested"`
	Tracked   int  `json:"tracked"`
}

// TicketUntrackRequest stops tracking the named tickets.
type TicketUntrackRequest struct {
	Numbers []string `json:"numbers"`
}

// TicketUntrackResponse reports which tickets were removed.
type TicketUntrackResponse struct {
	Removed  []string `json:"removed"`
	NotFound []string `json:"not_found"`
}

// TicketExportRequest writes the tracked set to a file on the daemon host.
type TicketExportRequest struct {
	Path string `json:"path"`
}

// TicketExportResponse reports how many tickets were written.
type TicketExportResponse struct {
	Path     string `json:"path"`
	Exported int    `json:"exported"`
}

// TicketImportRequest loads an export file into the tracked set.
type TicketImportRequest struct {
	Path string `json:"path"`
}

// TicketImportResponse reports how many tickets were added.
type TicketImportResponse struct {
	Imported int `json:"imported"`
}

// OutcomesRequest fetches recent journaled outcomes.
type OutcomesRequest struct {
	Limit int `json:"limit"`
}

// OutcomesResponse contains journaled outcomes, newest first.
type OutcomesResponse struct {
	Outcomes []journal.Outcome `json:"outcomes"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
