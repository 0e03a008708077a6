package stages

import (
	"context"

	"ticketflow/internal/items"
)

// Classifier decides whether content is a support request.
type Classifier interface {
	Classify(ctx context.Context, content items.Content) (items.Classification, error)
}

// Summarizer produces ticket text for content.
type Summarizer interface {
	Summarize(ctx context.Context, content items.Content) (items.Summary, error)
}

// Categorizer routes content to a category with priority and urgency.
type Categorizer interface {
	Categorize(ctx context.Context, content items.Content, summary items.Summary) (items.Category, error)
}

// Stage names used in logs, metrics, and the journal.
const (
	NameClassify     = "classify"
	NameSummarize    = "summarize"
	NameCategorize   = "categorize"
	NameCreateTicket = "create_ticket"
	NameNotify       = "notify"
)
