package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"ticketflow/internal/fetch"
	"ticketflow/internal/items"
	"ticketflow/internal/journal"
	"ticketflow/internal/logging"
	"ticketflow/internal/notifications"
	"ticketflow/internal/scheduler"
	"ticketflow/internal/stages"
	"ticketflow/internal/testsupport"
	"ticketflow/internal/ticketsys"
	"ticketflow/internal/tracker"
	"ticketflow/internal/workflow"
)

type emptyFetcher struct{}

func (emptyFetcher) FetchUnprocessed(context.Context) ([]fetch.Message, error) { return nil, nil }
func (emptyFetcher) MarkProcessed(context.Context, string) error { return nil }

type staticTickets struct{}

func (staticTickets) CreateTicket(context.Context, ticketsys.TicketFields) (ticketsys.TicketRef, error) {
	return ticketsys.TicketRef{Number: "INC0000001", SysID: "sys-1"}, nil
}

func (staticTickets) GetStatus(context.Context, ticketsys.TicketRef) (ticketsys.Status, error) {
	return ticketsys.Status{State: ticketsys.StateInProgress, Name: "In Progress"}, nil
}

func newTestAPI(t *testing.T, opts ...testsupport.ConfigOption) (*apiServer, *Daemon) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	logger := logging.NewNop()
	trk := tracker.New(staticTickets{}, notifications.NoopNotifier{}, tracker.Options{PollInterval: time.Hour}, logger)
	orch := workflow.New(emptyFetcher{}, &stages.Executors{Tickets: staticTickets{}}, notifications.NoopNotifier{}, trk, workflow.Options{}, logger)
	sched := scheduler.New(orch, trk, scheduler.Options{Interval: time.Hour}, logger)
	d, err := New(cfg, Components{
		Orchestrator: orch,
		Tracker:      trk,
		Scheduler:    sched,
		Journal:      testsupport.MustOpenJournal(t, cfg),
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.api == nil {
		t.Fatal("expected api server for configured bind")
	}
	return d.api, d
}

func TestAPIServerHealthUnavailableWhenStopped(t *testing.T) {
	srv, _ := newTestAPI(t)
	w := httptest.NewRecorder()
	srv.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var health Health
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Healthy || health.BatchLoopAlive || health.TrackerAlive {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestAPIServerTriggerRejectedWhenSchedulerIdle(t *testing.T) {
	srv, _ := newTestAPI(t)
	w := httptest.NewRecorder()
	srv.handleTrigger(w, httptest.NewRequest(http.MethodPost, "/api/trigger", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp TriggerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result != "rejected" {
		t.Fatalf("result = %q", resp.Result)
	}

	w = httptest.NewRecorder()
	srv.handleTrigger(w, httptest.NewRequest(http.MethodGet, "/api/trigger", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", w.Code)
	}
}

func TestAPIServerTickets(t *testing.T) {
	srv, d := newTestAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := d.tracker.Import(ctx, writeExport(t)); err != nil {
		t.Fatalf("Import: %v", err)
	}

	w := httptest.NewRecorder()
	srv.handleTickets(w, httptest.NewRequest(http.MethodGet, "/api/tickets", nil))
	var list TicketListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Tickets) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(list.Tickets))
	}

	w = httptest.NewRecorder()
	srv.handleTickets(w, httptest.NewRequest(http.MethodGet, "/api/tickets?state=6", nil))
	list = TicketListResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Tickets) != 1 || list.Tickets[0].Number() != "INC0000002" {
		t.Fatalf("unexpected filtered tickets %+v", list.Tickets)
	}

	w = httptest.NewRecorder()
	srv.handleTicket(w, httptest.NewRequest(http.MethodGet, "/api/tickets/INC0000404", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	srv.handleTicket(w, httptest.NewRequest(http.MethodDelete, "/api/tickets/INC0000001", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if _, ok := d.Ticket("INC0000001"); ok {
		t.Fatal("expected ticket untracked")
	}
}

func TestAPIServerOutcomesLimit(t *testing.T) {
	srv, d := newTestAPI(t)
	for _, key := range []string{"a@example.com", "b@example.com"} {
		if err := d.journal.RecordOutcome(context.Background(), journalOutcome(key)); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	w := httptest.NewRecorder()
	srv.handleOutcomes(w, httptest.NewRequest(http.MethodGet, "/api/outcomes?limit=1", nil))
	var resp OutcomeListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(resp.Outcomes))
	}

	w = httptest.NewRecorder()
	srv.handleOutcomes(w, httptest.NewRequest(http.MethodGet, "/api/outcomes?limit=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }
	handler := authMiddleware("s3cret", next)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusTeapot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			handler(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusUnauthorized && !strings.Contains(w.Body.String(), "unauthorized") {
				t.Fatalf("unexpected body %q", w.Body.String())
			}
		})
	}

	if passthrough := authMiddleware("", next); passthrough == nil {
		t.Fatal("expected passthrough handler")
	}
}

func TestAPIServerDisabledWithoutBind(t *testing.T) {
	_, d := newTestAPIWithoutBind(t)
	if d.api != nil {
		t.Fatal("expected no api server without bind")
	}
	if d.APIAddress() != "" {
		t.Fatalf("expected empty address, got %q", d.APIAddress())
	}
}

func newTestAPIWithoutBind(t *testing.T) (*apiServer, *Daemon) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	logger := logging.NewNop()
	trk := tracker.New(staticTickets{}, notifications.NoopNotifier{}, tracker.Options{}, logger)
	orch := workflow.New(emptyFetcher{}, &stages.Executors{}, notifications.NoopNotifier{}, trk, workflow.Options{}, logger)
	d, err := New(cfg, Components{
		Orchestrator: orch,
		Tracker:      trk,
		Scheduler:    scheduler.New(orch, trk, scheduler.Options{}, logger),
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d.api, d
}

type fakeIncidents struct {
	stats ticketsys.IncidentStats
	err   error
	pages [][2]int
}

func (f *fakeIncidents) IncidentStats(context.Context) (ticketsys.IncidentStats, error) {
	return f.stats, f.err
}

func (f *fakeIncidents) ListIncidents(_ context.Context, limit, offset int) ([]ticketsys.Incident, error) {
	f.pages = append(f.pages, [2]int{limit, offset})
	if f.err != nil {
		return nil, f.err
	}
	return []ticketsys.Incident{{Number: "INC0010042", State: "In Progress"}}, nil
}

func TestAPIServerIncidentStats(t *testing.T) {
	srv, d := newTestAPI(t)

	w := httptest.NewRecorder()
	srv.handleIncidentStats(w, httptest.NewRequest(http.MethodGet, "/api/servicenow/stats", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a reader, got %d", w.Code)
	}

	d.incidents = &fakeIncidents{stats: ticketsys.IncidentStats{
		Total:      3,
		ByState:    map[string]int{"New": 1, "Closed": 2},
		ByPriority: map[string]int{"2": 3},
	}}
	w = httptest.NewRecorder()
	srv.handleIncidentStats(w, httptest.NewRequest(http.MethodGet, "/api/servicenow/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats ticketsys.IncidentStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 3 || stats.ByState["Closed"] != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	d.incidents = &fakeIncidents{err: errors.New("incident returned 401")}
	w = httptest.NewRecorder()
	srv.handleIncidentStats(w, httptest.NewRequest(http.MethodGet, "/api/servicenow/stats", nil))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on upstream failure, got %d", w.Code)
	}
}

func TestAPIServerIncidentPaging(t *testing.T) {
	srv, d := newTestAPI(t)
	reader := &fakeIncidents{}
	d.incidents = reader

	w := httptest.NewRecorder()
	srv.handleIncidents(w, httptest.NewRequest(http.MethodGet, "/api/servicenow/tickets?limit=5&offset=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp IncidentListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Incidents) != 1 || resp.Limit != 5 || resp.Offset != 10 {
		t.Fatalf("unexpected response %+v", resp)
	}

	for _, target := range []string{"/api/servicenow/tickets?limit=zero", "/api/servicenow/tickets?offset=-1"} {
		w = httptest.NewRecorder()
		srv.handleIncidents(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, w.Code)
		}
	}
	if len(reader.pages) != 1 || reader.pages[0] != [2]int{5, 10} {
		t.Fatalf("unexpected reader calls %v", reader.pages)
	}
}

func writeExport(t *testing.T) string {
	t.Helper()
	path := t.TempDir() + "/tickets.json"
	body := `{
  // edited by hand
  "tickets": [
    {"ref": {"number": "INC0000001", "sys_id": "sys-1"}, "originator_address": "a@example.com", "created_at": "2026-03-01T10:00:00Z", "last_known_status": "2"},
    {"ref": {"number": "INC0000002", "sys_id": "sys-2"}, "originator_address": "b@example.com", "created_at": "2026-03-02T10:00:00Z", "last_known_status": "6"},
  ],
}`
	writeFile(t, path, body)
	return path
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func journalOutcome(key string) journal.Outcome {
	return journal.Outcome{
		DedupKey:       key,
		Stage:          items.StageDiscarded,
		TerminalReason: "not a support request: newsletter",
		Attempts:       1,
	}
}
