// Package services defines shared utilities consumed by the pipeline stages
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp item dedup keys, stage names, ticket numbers,
//     and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and the transient versus
//     permanent classification the workflow retry policy relies on.
//
// Use these helpers when wiring new collaborator adapters so retries and
// observability stay uniform across the pipeline.
package services
