// Package logs reads the daemon's log files for the CLI.
//
// Tail returns the last N lines or everything past a byte offset, optionally
// waiting for new lines to appear. Filter narrows lines down by level,
// ticket, item, or event type; it understands the JSON handler's keys and
// falls back to substring matching for console-format lines.
package logs
