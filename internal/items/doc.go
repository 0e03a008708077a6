// Package items defines the pipeline's Item data model and the in-memory
// Store that guards admission by dedup key.
//
// The Store is the sole idempotency guard against duplicate tickets: a
// message re-observed before it is marked processed resolves to the item
// already in flight. Items leave the store once they reach DISCARDED, FAILED,
// or are handed off for tracking.
package items
