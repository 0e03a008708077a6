package daemonctl

import (
	"context"
	"errors"
	"os"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/ipc"
	"ticketflow/internal/journal"
	"ticketflow/internal/preflight"
)

const countsWindow = 24 * time.Hour

// Snapshot is the status view rendered by the CLI. When the daemon is
// offline the journal and preflight checks fill in what they can.
type Snapshot struct {
	Status       ipc.StatusResponse `json:"status"`
	Reachable    bool               `json:"reachable"`
	RecentCounts map[string]int     `json:"recent_counts"`
	Checks       []preflight.Result `json:"checks,omitempty"`
	CountsWindow time.Duration      `json:"counts_window"`
}

// Snapshot collects daemon status and falls back to local state when the
// daemon cannot be reached.
func (c *Controller) Snapshot(ctx context.Context) (*Snapshot, error) {
	if c.Config == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{CountsWindow: countsWindow}

	if client, err := ipc.Dial(c.SocketPath); err == nil {
		if resp, err := client.Status(); err == nil {
			snap.Status = *resp
			snap.Reachable = true
		}
		_ = client.Close()
	}

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if counts, err := recentCounts(queryCtx, c.Config.JournalPath(), countsWindow); err == nil {
		snap.RecentCounts = counts
	}
	if !snap.Status.Running {
		snap.Checks = offlineChecks(ctx, c.Config)
	}
	return snap, nil
}

// recentCounts reads the journal directly; SQLite WAL mode lets this run
// beside the daemon's writer.
func recentCounts(ctx context.Context, path string, window time.Duration) (map[string]int, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	store, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	counts, err := store.OutcomeCounts(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts))
	for stage, n := range counts {
		out[string(stage)] = n
	}
	return out, nil
}

// offlineChecks skips the LLM probe, which costs tokens.
func offlineChecks(ctx context.Context, cfg *config.Config) []preflight.Result {
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	checks := []preflight.Result{
		preflight.CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		preflight.CheckServiceNow(checkCtx, cfg.ServiceNow),
	}
	if cfg.Mail.Source == config.MailSourceSpool {
		return append(checks, preflight.CheckDirectoryAccess("Mail spool", cfg.Mail.SpoolDir))
	}
	return append(checks, preflight.CheckTCP(checkCtx, "IMAP", cfg.Mail.IMAPHost, cfg.Mail.IMAPPort))
}
