package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"ticketflow/internal/daemonctl"
	"ticketflow/internal/ipc"
	"ticketflow/internal/items"
)

// stageOrder lists pipeline stages in processing order for display.
var stageOrder = []items.Stage{
	items.StageFetched,
	items.StageClassified,
	items.StageSummarized,
	items.StageCategorized,
	items.StageTicketCreated,
	items.StageNotified,
	items.StageTracking,
	items.StageDiscarded,
	items.StageFailed,
}

func daemonStatusLines(snap *daemonctl.Snapshot, colorize bool) []string {
	status := snap.Status
	if !snap.Reachable || !status.Running {
		message := "Not running"
		if snap.Reachable {
			message = "Process up, loops stopped (run `ticketflow start`)"
		}
		return []string{renderStatusLine("Daemon", statusError, message, colorize)}
	}
	lines := []string{
		renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize),
		renderStatusLine("Batch loop", statusKindFromBool(status.BatchAlive, statusError), batchLoopDetail(status), colorize),
		renderStatusLine("Runs", statusInfo, runsDetail(status), colorize),
	}
	if status.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusWarn, status.LastError, colorize))
	}
	if status.FetchFailures > 0 {
		lines = append(lines, renderStatusLine("Mail fetch", statusWarn, fmt.Sprintf("%d consecutive failures", status.FetchFailures), colorize))
	}
	if status.LogPath != "" {
		lines = append(lines, renderStatusLine("Log", statusInfo, status.LogPath, colorize))
	}
	return lines
}

func batchLoopDetail(status ipc.StatusResponse) string {
	state := "Idle"
	if status.BatchInFlight {
		state = "Run in flight"
	}
	if !status.BatchAlive {
		state = "Stalled"
	}
	return fmt.Sprintf("%s (every %s)", state, status.Interval)
}

func runsDetail(status ipc.StatusResponse) string {
	if status.Runs == 0 || status.LastRun == nil {
		return "No runs yet"
	}
	last := status.LastRun
	return fmt.Sprintf("%d total; last %s: fetched %d, tracking %d, discarded %d, failed %d",
		status.Runs,
		formatTimestamp(status.LastRunFinish),
		last.Fetched,
		last.Tracking,
		last.Discarded,
		last.Failed,
	)
}

func stageHealthLines(health []ipc.StageHealth, colorize bool) []string {
	lines := make([]string, 0, len(health))
	for _, h := range health {
		detail := strings.TrimSpace(h.Detail)
		if detail == "" {
			detail = "Ready"
		}
		lines = append(lines, renderStatusLine(h.Name, statusKindFromBool(h.Ready, statusWarn), detail, colorize))
	}
	return lines
}

func offlineCheckLines(snap *daemonctl.Snapshot, colorize bool) []string {
	lines := make([]string, 0, len(snap.Checks))
	for _, check := range snap.Checks {
		lines = append(lines, renderStatusLine(check.Name, statusKindFromBool(check.Passed, statusError), check.Detail, colorize))
	}
	return lines
}

// buildStageRows renders in-flight and recent counts side by side in
// pipeline order. Stages with no activity in either column are omitted.
func buildStageRows(inFlight, recent map[string]int) [][]string {
	rows := make([][]string, 0, len(stageOrder))
	for _, stage := range stageOrder {
		name := string(stage)
		current, past := inFlight[name], recent[name]
		if current == 0 && past == 0 {
			continue
		}
		rows = append(rows, []string{name, strconv.Itoa(current), strconv.Itoa(past)})
	}
	return rows
}

func trackingLines(snap *daemonctl.Snapshot, colorize bool, now time.Time) []string {
	summary := snap.Status.Tracking
	if summary.Total == 0 {
		return []string{renderStatusLine("Tracked", statusInfo, "No tickets tracked", colorize)}
	}
	lines := []string{renderStatusLine("Tracked", statusInfo, strconv.Itoa(summary.Total), colorize)}
	for _, name := range slices.Sorted(maps.Keys(summary.ByStatus)) {
		lines = append(lines, renderStatusLine(name, statusInfo, strconv.Itoa(summary.ByStatus[name]), colorize))
	}
	if summary.PendingNotifications > 0 {
		lines = append(lines, renderStatusLine("Pending notices", statusWarn, strconv.Itoa(summary.PendingNotifications), colorize))
	}
	if summary.Oldest != nil {
		lines = append(lines, renderStatusLine("Oldest", statusInfo,
			fmt.Sprintf("%s (%s)", summary.Oldest.Number, formatAge(summary.Oldest.CreatedAt, now)), colorize))
	}
	return lines
}
