package items

import (
	"errors"
	"fmt"
	"time"
)

// Stage is an item's position in the pipeline state machine.
type Stage string

const (
	StageFetched       Stage = "FETCHED"
	StageClassified    Stage = "CLASSIFIED"
	StageDiscarded     Stage = "DISCARDED"
	StageSummarized    Stage = "SUMMARIZED"
	StageCategorized   Stage = "CATEGORIZED"
	StageTicketCreated Stage = "TICKET_CREATED"
	StageNotified      Stage = "NOTIFIED"
	StageTracking      Stage = "TRACKING"
	StageFailed        Stage = "FAILED"
)

// Terminal reports whether no further pipeline transition follows s.
// TRACKING is terminal from the orchestrator's point of view.
func (s Stage) Terminal() bool {
	switch s {
	case StageDiscarded, StageFailed, StageTracking:
		return true
	default:
		return false
	}
}

// Content is the raw inbound message. The fetch adapter decides whether Body
// is populated; stages treat it as opaque.
type Content struct {
	Subject    string    `json:"subject"`
	Body       string    `json:"body,omitempty"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"received_at"`
}

// Text joins subject and body for prompt construction.
func (c Content) Text() string {
	if c.Body == "" {
		return c.Subject
	}
	return c.Subject + "\n\n" + c.Body
}

// Classification is the relevance decision for an item.
type Classification struct {
	Relevant   bool    `json:"relevant"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Summary is the ticket text derived from the message.
type Summary struct {
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	Fallback         bool   `json:"fallback,omitempty"`
}

// Category is the routing decision for an item.
type Category struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Priority    string `json:"priority"`
	Urgency     string `json:"urgency"`
	Fallback    bool   `json:"fallback,omitempty"`
	Rule        string `json:"rule,omitempty"`
}

// TicketRef identifies a ticket once creation is confirmed.
type TicketRef struct {
	Number          string `json:"number"`
	SysID           string `json:"sys_id"`
	AssignmentGroup string `json:"assignment_group,omitempty"`
	AssignedTo      string `json:"assigned_to,omitempty"`
	Caller          string `json:"caller,omitempty"`
	Existing        bool   `json:"existing,omitempty"`
	JiraKey         string `json:"jira_key,omitempty"`
}

// Item is one inbound message under processing.
type Item struct {
	DedupKey         string          `json:"dedup_key"`
	Content          Content         `json:"content"`
	Stage            Stage           `json:"stage"`
	Classification   *Classification `json:"classification,omitempty"`
	Summary          *Summary        `json:"summary,omitempty"`
	Category         *Category       `json:"category,omitempty"`
	Ticket           *TicketRef      `json:"ticket,omitempty"`
	Attempts         int             `json:"attempts"`
	TerminalReason   string          `json:"terminal_reason,omitempty"`
	NotifiedOnCreate bool            `json:"notified_on_create"`
	MarkPending      bool            `json:"mark_pending,omitempty"`
	AdmittedAt       time.Time       `json:"admitted_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ErrIncompleteUpstream reports an attempt to attach a ticket to an item whose
// upstream stages have not all produced a result.
var ErrIncompleteUpstream = errors.New("ticket requires classification, summary, and category")

// Validate checks the item invariants.
func (i Item) Validate() error {
	if i.DedupKey == "" {
		return errors.New("item: dedup key required")
	}
	if i.Ticket != nil && (i.Classification == nil || i.Summary == nil || i.Category == nil) {
		return fmt.Errorf("item %s: %w", i.DedupKey, ErrIncompleteUpstream)
	}
	if i.Ticket != nil && i.Classification != nil && !i.Classification.Relevant {
		return fmt.Errorf("item %s: ticket attached to non-relevant item", i.DedupKey)
	}
	return nil
}

func (i Item) clone() Item {
	out := i
	if i.Classification != nil {
		c := *i.Classification
		out.Classification = &c
	}
	if i.Summary != nil {
		s := *i.Summary
		out.Summary = &s
	}
	if i.Category != nil {
		c := *i.Category
		out.Category = &c
	}
	if i.Ticket != nil {
		t := *i.Ticket
		out.Ticket = &t
	}
	return out
}
