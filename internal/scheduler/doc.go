// Package scheduler fires orchestrator batch runs on an interval and on
// manual request, with at most one run in flight.
//
// Interval ticks that land while a run is in flight are coalesced. Manual
// triggers are answered immediately with Accepted or Rejected and never queue
// a second run. After each run the tracker is asked for an immediate poll so
// freshly created tickets are checked without waiting a full interval.
package scheduler
