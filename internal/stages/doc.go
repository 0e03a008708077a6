// Package stages holds the per-stage executors the workflow orchestrator
// drives: Classify, Summarize, Categorize, and CreateTicket.
//
// Each executor wraps exactly one collaborator call and owns the validation
// and fallback policy for its stage. Executors never retry, never create
// items, and never inspect how content was gathered; retries and transitions
// belong to the orchestrator.
package stages
