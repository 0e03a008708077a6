// Package llm provides the JSON completion clients used by the classify,
// summarize, and categorize stages.
//
// Two backends satisfy Completer: Client speaks the OpenRouter chat
// completion API directly, and LangChainClient routes through langchaingo's
// OpenAI provider. NewCompleter picks one from llm.provider.
//
// # Error Classification
//
// Failures are tagged with services markers so the workflow retry policy can
// tell them apart: HTTP 408/429/5xx, empty completions, and network timeouts
// are transient; 4xx responses and unparseable bodies are permanent.
//
// # Retry Behaviour
//
// Client performs a single attempt by default; each pipeline stage owns its
// retry budget. WithRetry enables in-client retries of transient failures,
// honouring Retry-After. A requests_per_minute limit throttles outbound calls
// with a token bucket.
package llm
