package stages

import (
	"context"
	"errors"
	"testing"

	"ticketflow/internal/items"
	"ticketflow/internal/services"
	"ticketflow/internal/ticketsys"
)

type stubClassifier struct {
	result items.Classification
	err    error
	calls  int
}

func (s *stubClassifier) Classify(context.Context, items.Content) (items.Classification, error) {
	s.calls++
	return s.result, s.err
}

type stubSummarizer struct {
	result items.Summary
	err    error
}

func (s stubSummarizer) Summarize(context.Context, items.Content) (items.Summary, error) {
	return s.result, s.err
}

type stubCategorizer struct {
	result items.Category
}

func (s stubCategorizer) Categorize(context.Context, items.Content, items.Summary) (items.Category, error) {
	return s.result, nil
}

type stubTickets struct {
	fields []ticketsys.TicketFields
	ref    items.TicketRef
}

func (s *stubTickets) CreateTicket(_ context.Context, fields ticketsys.TicketFields) (items.TicketRef, error) {
	s.fields = append(s.fields, fields)
	return s.ref, nil
}

func (s *stubTickets) GetStatus(context.Context, items.TicketRef) (ticketsys.Status, error) {
	return ticketsys.Status{}, nil
}

func newTestExecutors() (*Executors, *stubClassifier, *stubTickets) {
	fallbacks, policy := testPolicy()
	classifier := &stubClassifier{result: items.Classification{Relevant: true, Confidence: 1.7}}
	tickets := &stubTickets{ref: items.TicketRef{Number: "INC0010001", SysID: "sys-1"}}
	return &Executors{
		Classifier:  classifier,
		Summarizer:  stubSummarizer{result: items.Summary{ShortDescription: "Payroll portal access denied"}},
		Categorizer: stubCategorizer{result: items.Category{Category: "HR", Subcategory: "Payroll", Priority: "2", Urgency: "2"}},
		Tickets:     tickets,
		Policy:      policy,
		Fallbacks:   fallbacks,
	}, classifier, tickets
}

func TestClassifySkipsModelForSpam(t *testing.T) {
	exec, classifier, _ := newTestExecutors()
	result, err := exec.Classify(context.Background(), items.Content{Subject: "You have won the lottery"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Relevant || classifier.calls != 0 {
		t.Fatalf("expected spam short-circuit, got %+v calls=%d", result, classifier.calls)
	}

	result, err = exec.Classify(context.Background(), items.Content{Subject: "Can't access payroll"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !result.Relevant || result.Confidence != 1 {
		t.Fatalf("expected clamped confidence, got %+v", result)
	}
}

func TestSummarizeRejectsEmpty(t *testing.T) {
	exec, _, _ := newTestExecutors()
	exec.Summarizer = stubSummarizer{result: items.Summary{ShortDescription: "  "}}
	if _, err := exec.Summarize(context.Background(), items.Content{}); !services.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	exec.Summarizer = stubSummarizer{err: services.ErrTransient}
	if _, err := exec.Summarize(context.Background(), items.Content{}); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected collaborator error passed through, got %v", err)
	}
}

func TestCreateTicketBuildsFields(t *testing.T) {
	exec, _, tickets := newTestExecutors()
	item := items.Item{
		DedupKey:       "msg-1",
		Content:        items.Content{Subject: "Can't access payroll", From: "dana@example.com"},
		Classification: &items.Classification{Relevant: true},
		Summary:        &items.Summary{ShortDescription: "Payroll access", Description: "Access denied"},
		Category:       &items.Category{Category: "HR", Subcategory: "Payroll", Priority: "2", Urgency: "9"},
	}
	ref, err := exec.CreateTicket(context.Background(), item)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if ref.Number != "INC0010001" || ref.AssignmentGroup != "HR Support" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	fields := tickets.fields[0]
	if fields.CorrelationID != "msg-1" || fields.AssignmentGroup != "HR Support" || fields.Urgency != "4" || fields.CallerEmail != "dana@example.com" {
		t.Fatalf("unexpected fields %+v", fields)
	}
}

func TestCreateTicketRefusesIncompleteItems(t *testing.T) {
	exec, _, tickets := newTestExecutors()
	_, err := exec.CreateTicket(context.Background(), items.Item{DedupKey: "msg-1", Classification: &items.Classification{Relevant: true}})
	if !errors.Is(err, items.ErrIncompleteUpstream) || !services.IsPermanent(err) {
		t.Fatalf("expected permanent incomplete-upstream error, got %v", err)
	}
	_, err = exec.CreateTicket(context.Background(), items.Item{
		DedupKey:       "msg-2",
		Classification: &items.Classification{Relevant: false},
		Summary:        &items.Summary{ShortDescription: "x"},
		Category:       &items.Category{Category: "IT"},
	})
	if err == nil {
		t.Fatal("expected error for non-relevant item")
	}
	if len(tickets.fields) != 0 {
		t.Fatalf("expected no ticket system calls, got %d", len(tickets.fields))
	}
}

func TestCreateTicketUsesDefaultCaller(t *testing.T) {
	exec, _, tickets := newTestExecutors()
	exec.Fallbacks.Caller = "helpdesk@example.com"
	item := items.Item{
		DedupKey:       "msg-1",
		Classification: &items.Classification{Relevant: true},
		Summary:        &items.Summary{ShortDescription: "x", Description: "y"},
		Category:       &items.Category{Category: "Legal"},
	}
	if _, err := exec.CreateTicket(context.Background(), item); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if tickets.fields[0].CallerEmail != "helpdesk@example.com" || tickets.fields[0].AssignmentGroup != "Service Desk" {
		t.Fatalf("expected default caller and group, got %+v", tickets.fields[0])
	}
}
