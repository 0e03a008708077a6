package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"ticketflow/internal/config"
	"ticketflow/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default().Notifications
	cfg.NtfyTopic = ""
	svc := notifications.NewService(cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "intake unreachable",
			event: notifications.EventIntakeUnreachable,
			payload: notifications.Payload{
				"failures": 5,
				"error":    errors.New("dial tcp: i/o timeout"),
			},
			expectTitle:    "ticketflow - Intake Unreachable",
			expectMessage:  "Mail intake failed 5 consecutive runs: dial tcp: i/o timeout",
			expectTags:     "ticketflow,intake,alert",
			expectPriority: "high",
		},
		{
			name:  "stale ticket",
			event: notifications.EventStaleTicket,
			payload: notifications.Payload{
				"ticket": "INC0010001",
				"age":    "720h0m0s",
			},
			expectTitle:   "ticketflow - Tracking Expired",
			expectMessage: "Stopped tracking INC0010001 after 720h0m0s without closure",
			expectTags:    "ticketflow,tracking,stale",
		},
		{
			name:  "ticket failed",
			event: notifications.EventTicketFailed,
			payload: notifications.Payload{
				"subject": "VPN down",
				"from":    "sam@example.com",
				"error":   "servicenow returned 503",
			},
			expectTitle:    "ticketflow - Ticket Creation Failed",
			expectMessage:  `Could not create a ticket for "VPN down" from sam@example.com: servicenow returned 503`,
			expectTags:     "ticketflow,ticket,failed",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default().Notifications
			cfg.NtfyTopic = server.URL
			cfg.RequestTimeout = 5

			svc := notifications.NewService(cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresSuppressedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default().Notifications
	cfg.NtfyTopic = server.URL

	svc := notifications.NewService(cfg)
	if err := svc.Publish(context.Background(), notifications.EventBatchCompleted, notifications.Payload{"value": "ignored"}); err != nil {
		t.Fatalf("expected no error for suppressed event, got %v", err)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic disabled", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default().Notifications
	cfg.NtfyTopic = server.URL
	if err := notifications.NewService(cfg).Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
