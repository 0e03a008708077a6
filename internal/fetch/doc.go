// Package fetch turns inbound mail into pipeline messages.
//
// Two sources are provided: IMAPSource reads unseen mail from a mailbox and
// flags it \Seen on MarkProcessed, and SpoolSource reads .eml files from a
// directory and moves them under processed/. Both share Parse, which applies
// the privacy gate (subject first, a bounded body preview only when the
// subject is too vague to act on) and the bounce/auto-reply prefilter.
package fetch
