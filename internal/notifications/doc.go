// Package notifications delivers ticket lifecycle mail to originators and
// operator alerts to ntfy.
//
// Notifier is the originator-facing contract: a template name plus string
// fields, rendered with text/template and sent over SMTP. Service publishes
// operator events (unreachable intake, stale tickets, batch failures) to the
// configured ntfy topic and degrades to a no-op when no topic is set.
package notifications
