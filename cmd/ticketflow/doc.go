// Package main hosts the ticketflow CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against the daemon: lifecycle control, batch triggers, tracked ticket
// maintenance, journal queries, and configuration scaffolding. Configuration
// resolution and socket discovery live in commandContext so subcommands only
// deal with presentation.
package main
