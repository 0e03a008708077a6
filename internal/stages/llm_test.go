package stages

import (
	"context"
	"strings"
	"testing"

	"ticketflow/internal/items"
	"ticketflow/internal/services"
)

type scriptedCompleter struct {
	response string
	err      error
	system   string
	user     string
}

func (s *scriptedCompleter) CompleteJSON(_ context.Context, system, user string) (string, error) {
	s.system = system
	s.user = user
	return s.response, s.err
}

func (s *scriptedCompleter) HealthCheck(context.Context) error { return nil }

func TestLLMClassify(t *testing.T) {
	client := &scriptedCompleter{response: "```json\n{\"relevant\": true, \"confidence\": 0.9, \"reason\": \"access issue\"}\n```"}
	stages := NewLLMStages(client, nil)
	result, err := stages.Classify(context.Background(), items.Content{Subject: "help", Body: "VPN is down", From: "a@example.com"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !result.Relevant || result.Confidence != 0.9 {
		t.Fatalf("unexpected classification %+v", result)
	}
	if !strings.Contains(client.user, "Body preview: VPN is down") {
		t.Fatalf("expected body preview in prompt, got %q", client.user)
	}

	client.response = `{"confidence": 0.5}`
	if _, err := stages.Classify(context.Background(), items.Content{}); !services.IsPermanent(err) {
		t.Fatalf("expected permanent error for missing verdict, got %v", err)
	}
	client.response = "not json"
	if _, err := stages.Classify(context.Background(), items.Content{}); !services.IsPermanent(err) {
		t.Fatalf("expected permanent error for malformed response, got %v", err)
	}
}

func TestLLMCategorizeAcceptsNumericLevels(t *testing.T) {
	client := &scriptedCompleter{response: `{"category": "IT", "subcategory": "Network", "priority": 2, "urgency": "3"}`}
	stages := NewLLMStages(client, []string{"IT", "HR"})
	result, err := stages.Categorize(context.Background(), items.Content{Subject: "VPN"}, items.Summary{ShortDescription: "VPN drops"})
	if err != nil {
		t.Fatalf("Categorize: %v", err)
	}
	if result.Priority != "2" || result.Urgency != "3" || result.Category != "IT" {
		t.Fatalf("unexpected category %+v", result)
	}
	if !strings.Contains(client.system, "- IT\n- HR") {
		t.Fatalf("expected category list in prompt, got %q", client.system)
	}
}

func TestLLMSummarizePassesErrors(t *testing.T) {
	client := &scriptedCompleter{err: services.ErrTransient}
	if _, err := NewLLMStages(client, nil).Summarize(context.Background(), items.Content{}); !services.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
