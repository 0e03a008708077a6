package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ticketflow/internal/items"
	"ticketflow/internal/services"
	"ticketflow/internal/services/llm"
)

const classifyPrompt = `You triage an IT service desk inbox. Decide whether the message is a
genuine support request from an employee (access problems, broken equipment,
software faults, HR/finance/facilities requests) or something that needs no
ticket (newsletters, marketing, personal mail, automated notices).

Respond with JSON only:
{"relevant": true|false, "confidence": 0.0-1.0, "reason": "one short sentence"}`

const summarizePrompt = `You write service desk tickets from inbound email. Produce a concise
short description (at most 80 characters, no ticket jargon) and a description
that states the problem, its impact, and any detail the sender gave.

Respond with JSON only:
{"short_description": "...", "description": "..."}`

const categorizePromptTemplate = `You route service desk tickets. Choose the best category from this list:
%s

Also choose a subcategory (free text), a priority and an urgency on a 1-4 scale
(1=Critical, 2=High, 3=Medium, 4=Low).

Respond with JSON only:
{"category": "...", "subcategory": "...", "priority": "1-4", "urgency": "1-4"}`

// LLMStages implements Classifier, Summarizer, and Categorizer on a JSON
// completion backend.
type LLMStages struct {
	client     llm.Completer
	categories []string
}

// NewLLMStages wraps client. categories is the allowed category list offered
// to the categorize prompt.
func NewLLMStages(client llm.Completer, categories []string) *LLMStages {
	return &LLMStages{client: client, categories: append([]string(nil), categories...)}
}

// Classify asks the model whether content is a support request.
func (s *LLMStages) Classify(ctx context.Context, content items.Content) (items.Classification, error) {
	var out struct {
		Relevant   *bool   `json:"relevant"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := s.complete(ctx, NameClassify, classifyPrompt, messagePrompt(content), &out); err != nil {
		return items.Classification{}, err
	}
	if out.Relevant == nil {
		return items.Classification{}, services.Wrap(services.ErrPermanent, NameClassify, "decode", "response missing relevant", nil)
	}
	return items.Classification{Relevant: *out.Relevant, Confidence: out.Confidence, Reason: out.Reason}, nil
}

// Summarize asks the model for ticket text.
func (s *LLMStages) Summarize(ctx context.Context, content items.Content) (items.Summary, error) {
	var out struct {
		ShortDescription string `json:"short_description"`
		Description      string `json:"description"`
	}
	if err := s.complete(ctx, NameSummarize, summarizePrompt, messagePrompt(content), &out); err != nil {
		return items.Summary{}, err
	}
	return items.Summary{ShortDescription: out.ShortDescription, Description: out.Description}, nil
}

// Categorize asks the model for routing fields.
func (s *LLMStages) Categorize(ctx context.Context, content items.Content, summary items.Summary) (items.Category, error) {
	var out struct {
		Category    string          `json:"category"`
		Subcategory string          `json:"subcategory"`
		Priority    json.RawMessage `json:"priority"`
		Urgency     json.RawMessage `json:"urgency"`
	}
	system := fmt.Sprintf(categorizePromptTemplate, "- "+strings.Join(s.categories, "\n- "))
	user := messagePrompt(content) + "\n\nSummary: " + summary.ShortDescription + "\n" + summary.Description
	if err := s.complete(ctx, NameCategorize, system, user, &out); err != nil {
		return items.Category{}, err
	}
	return items.Category{
		Category:    out.Category,
		Subcategory: out.Subcategory,
		Priority:    rawLevel(out.Priority),
		Urgency:     rawLevel(out.Urgency),
	}, nil
}

// HealthCheck probes the completion backend.
func (s *LLMStages) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func (s *LLMStages) complete(ctx context.Context, stage, system, user string, target any) error {
	if s == nil || s.client == nil {
		return services.Wrap(services.ErrConfiguration, stage, "complete", "llm client not configured", nil)
	}
	content, err := s.client.CompleteJSON(ctx, system, user)
	if err != nil {
		return err
	}
	if err := llm.DecodeLLMJSON(content, target); err != nil {
		return services.Wrap(services.ErrPermanent, stage, "decode", "malformed model response", err)
	}
	return nil
}

func messagePrompt(content items.Content) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\nSubject: %s", content.From, content.Subject)
	if content.Body != "" {
		fmt.Fprintf(&b, "\nBody preview: %s", content.Body)
	}
	return b.String()
}

// rawLevel accepts both "2" and 2 from the model.
func rawLevel(raw json.RawMessage) string {
	trimmed := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	return trimmed
}
