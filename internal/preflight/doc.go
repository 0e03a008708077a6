// Package preflight provides readiness checks for the external services and
// filesystem paths ticketflow depends on.
//
// These checks run in two contexts:
//   - The daemon wraps them as stage.Checker probes so /api/health and the
//     status command report collaborator readiness.
//   - The CLI "ticketflow status" command runs RunAll when the daemon is not
//     reachable, to explain why.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
