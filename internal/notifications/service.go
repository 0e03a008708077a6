package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ticketflow/internal/config"
)

const userAgent = "ticketflow/0.1.0"

// Event identifies an operator alert.
type Event string

const (
	EventIntakeUnreachable Event = "intake_unreachable"
	EventIntakeRecovered   Event = "intake_recovered"
	EventTicketFailed      Event = "ticket_failed"
	EventStaleTicket       Event = "stale_ticket"
	EventBatchCompleted    Event = "batch_completed"
	EventTest              Event = "test"
)

// Payload carries event fields.
type Payload map[string]any

// Service publishes operator alerts.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	msg, ok := buildPayload(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func buildPayload(event Event, data Payload) (payload, bool) {
	switch event {
	case EventIntakeUnreachable:
		return payload{
			title:    "ticketflow - Intake Unreachable",
			message:  fmt.Sprintf("Mail intake failed %s consecutive runs: %s", stringValue(data, "failures"), stringValue(data, "error")),
			tags:     []string{"ticketflow", "intake", "alert"},
			priority: "high",
		}, true
	case EventIntakeRecovered:
		return payload{
			title:   "ticketflow - Intake Recovered",
			message: fmt.Sprintf("Mail intake reachable again after %s failed runs", stringValue(data, "failures")),
			tags:    []string{"ticketflow", "intake", "recovered"},
		}, true
	case EventTicketFailed:
		return payload{
			title:    "ticketflow - Ticket Creation Failed",
			message:  fmt.Sprintf("Could not create a ticket for %q from %s: %s", stringValue(data, "subject"), stringValue(data, "from"), stringValue(data, "error")),
			tags:     []string{"ticketflow", "ticket", "failed"},
			priority: "high",
		}, true
	case EventStaleTicket:
		return payload{
			title:   "ticketflow - Tracking Expired",
			message: fmt.Sprintf("Stopped tracking %s after %s without closure", stringValue(data, "ticket"), stringValue(data, "age")),
			tags:    []string{"ticketflow", "tracking", "stale"},
		}, true
	case EventTest:
		return payload{
			title:    "ticketflow - Test",
			message:  "Notification system test",
			tags:     []string{"ticketflow", "test"},
			priority: "low",
		}, true
	default:
		// Batch completions are journaled, not pushed.
		return payload{}, false
	}
}

func stringValue(data Payload, key string) string {
	if data == nil {
		return ""
	}
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
