package stages

import (
	"context"
	"fmt"
	"strings"

	"ticketflow/internal/items"
	"ticketflow/internal/services"
	"ticketflow/internal/ticketsys"
)

// Executors binds the collaborators to their stage policies.
type Executors struct {
	Classifier  Classifier
	Summarizer  Summarizer
	Categorizer Categorizer
	Tickets     ticketsys.System
	Policy      Policy
	Fallbacks   Fallbacks
}

// Classify runs the spam prefilter, then the classifier. Confidence is clamped
// to [0, 1].
func (e *Executors) Classify(ctx context.Context, content items.Content) (items.Classification, error) {
	if verdict, spam := ObviousSpam(content); spam {
		return verdict, nil
	}
	if e.Classifier == nil {
		return items.Classification{}, services.Wrap(services.ErrConfiguration, NameClassify, "classify", "classifier not configured", nil)
	}
	result, err := e.Classifier.Classify(ctx, content)
	if err != nil {
		return items.Classification{}, err
	}
	result.Confidence = max(0, min(1, result.Confidence))
	result.Reason = strings.TrimSpace(result.Reason)
	return result, nil
}

// Summarize runs the summarizer and bounds its output. An empty short
// description is treated as a malformed response.
func (e *Executors) Summarize(ctx context.Context, content items.Content) (items.Summary, error) {
	if e.Summarizer == nil {
		return items.Summary{}, services.Wrap(services.ErrConfiguration, NameSummarize, "summarize", "summarizer not configured", nil)
	}
	result, err := e.Summarizer.Summarize(ctx, content)
	if err != nil {
		return items.Summary{}, err
	}
	result.ShortDescription = truncate(result.ShortDescription, maxShortDescription)
	result.Description = truncate(result.Description, maxDescription)
	if result.ShortDescription == "" {
		return items.Summary{}, services.Wrap(services.ErrPermanent, NameSummarize, "validate", "empty short description", nil)
	}
	if result.Description == "" {
		result.Description = result.ShortDescription
	}
	return result, nil
}

// SummarizeFallback is the summary used once Summarize is exhausted.
func (e *Executors) SummarizeFallback(content items.Content) items.Summary {
	return FallbackSummary(content)
}

// Categorize runs the categorizer and normalizes the result against policy.
func (e *Executors) Categorize(ctx context.Context, content items.Content, summary items.Summary) (items.Category, error) {
	if e.Categorizer == nil {
		return items.Category{}, services.Wrap(services.ErrConfiguration, NameCategorize, "categorize", "categorizer not configured", nil)
	}
	raw, err := e.Categorizer.Categorize(ctx, content, summary)
	if err != nil {
		return items.Category{}, err
	}
	return e.Policy.Normalize(raw, content, e.Fallbacks.Category), nil
}

// CategorizeFallback is the category used once Categorize is exhausted.
func (e *Executors) CategorizeFallback(content items.Content) items.Category {
	return e.Policy.Fallback(content, e.Fallbacks.Category)
}

// TicketFields assembles the creation payload. Assignment falls back to the
// default group and caller when the category has no mapped group or the item
// has no sender.
func (e *Executors) TicketFields(item items.Item) (ticketsys.TicketFields, error) {
	if item.Classification == nil || item.Summary == nil || item.Category == nil {
		return ticketsys.TicketFields{}, services.Wrap(services.ErrValidation, NameCreateTicket, "validate", items.ErrIncompleteUpstream.Error(), items.ErrIncompleteUpstream)
	}
	if !item.Classification.Relevant {
		return ticketsys.TicketFields{}, services.Wrap(services.ErrValidation, NameCreateTicket, "validate", "item not relevant", nil)
	}
	caller := strings.TrimSpace(item.Content.From)
	if caller == "" {
		caller = e.Fallbacks.Caller
	}
	description := item.Summary.Description
	if item.Content.From != "" {
		description = fmt.Sprintf("%s\n\nReported by: %s", description, item.Content.From)
	}
	return ticketsys.TicketFields{
		CorrelationID:    item.DedupKey,
		ShortDescription: item.Summary.ShortDescription,
		Description:      description,
		Category:         item.Category.Category,
		Subcategory:      item.Category.Subcategory,
		Priority:         ClampLevel(item.Category.Priority),
		Urgency:          ClampLevel(item.Category.Urgency),
		AssignmentGroup:  e.Fallbacks.GroupFor(item.Category.Category),
		CallerEmail:      caller,
	}, nil
}

// CreateTicket creates the ticket for a fully processed item.
func (e *Executors) CreateTicket(ctx context.Context, item items.Item) (items.TicketRef, error) {
	fields, err := e.TicketFields(item)
	if err != nil {
		return items.TicketRef{}, err
	}
	if e.Tickets == nil {
		return items.TicketRef{}, services.Wrap(services.ErrConfiguration, NameCreateTicket, "create", "ticket system not configured", nil)
	}
	ref, err := e.Tickets.CreateTicket(ctx, fields)
	if err != nil {
		return items.TicketRef{}, err
	}
	if strings.TrimSpace(ref.Number) == "" {
		return items.TicketRef{}, services.Wrap(services.ErrPermanent, NameCreateTicket, "create", "ticket system returned no number", nil)
	}
	if ref.AssignmentGroup == "" {
		ref.AssignmentGroup = fields.AssignmentGroup
	}
	return ref, nil
}
