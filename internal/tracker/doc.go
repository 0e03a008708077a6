// Package tracker watches created tickets until they close.
//
// The orchestrator hands tickets over through Track, which feeds a bounded
// channel drained by the Run loop. Run polls due tickets concurrently with a
// per-call timeout, sends the closure notification once a ticket reaches a
// closed state, and drops tickets that outlive the tracking horizon. The
// tracked set is owned by the Tracker; other components read it through
// List, Summary, and Export.
package tracker
