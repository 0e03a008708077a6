package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/journal"
	"ticketflow/internal/logging"
	"ticketflow/internal/metrics"
	"ticketflow/internal/ticketsys"
	"ticketflow/internal/tracker"
)

const defaultOutcomeLimit = 50

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// TriggerResponse is returned by POST /api/trigger.
type TriggerResponse struct {
	Result string `json:"result"`
}

// TicketListResponse is returned by GET /api/tickets.
type TicketListResponse struct {
	Tickets []tracker.TrackedTicket `json:"tickets"`
}

// IncidentListResponse is returned by GET /api/servicenow/tickets.
type IncidentListResponse struct {
	Incidents []ticketsys.Incident `json:"incidents"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
}

// OutcomeListResponse is returned by GET /api/outcomes.
type OutcomeListResponse struct {
	Outcomes []journal.Outcome `json:"outcomes"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, nil
	}
	if _, _, err := net.SplitHostPort(bind); err != nil {
		return nil, fmt.Errorf("invalid api bind %q: %w", bind, err)
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	token := strings.TrimSpace(cfg.API.Token)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", srv.handleHealth)
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/trigger", authMiddleware(token, srv.handleTrigger))
	mux.HandleFunc("/api/tickets", authMiddleware(token, srv.handleTickets))
	mux.HandleFunc("/api/tickets/", authMiddleware(token, srv.handleTicket))
	mux.HandleFunc("/api/outcomes", authMiddleware(token, srv.handleOutcomes))
	mux.HandleFunc("/api/servicenow/stats", authMiddleware(token, srv.handleIncidentStats))
	mux.HandleFunc("/api/servicenow/tickets", authMiddleware(token, srv.handleIncidents))
	mux.Handle("/metrics", metrics.Handler())

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health := s.daemon.Health(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	result := s.daemon.Trigger()
	s.writeJSON(w, http.StatusOK, TriggerResponse{Result: result.String()})
}

func (s *apiServer) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tickets := s.daemon.Tickets()
	if state := strings.TrimSpace(r.URL.Query().Get("state")); state != "" {
		filtered := tickets[:0]
		for _, ticket := range tickets {
			if ticket.LastKnownStatus == state {
				filtered = append(filtered, ticket)
			}
		}
		tickets = filtered
	}
	s.writeJSON(w, http.StatusOK, TicketListResponse{Tickets: tickets})
}

func (s *apiServer) handleTicket(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	if number == "" || strings.Contains(number, "/") {
		s.writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		ticket, ok := s.daemon.Ticket(number)
		if !ok {
			s.writeError(w, http.StatusNotFound, "ticket not found")
			return
		}
		s.writeJSON(w, http.StatusOK, ticket)
	case http.MethodDelete:
		if err := s.daemon.Untrack(r.Context(), number); err != nil {
			if errors.Is(err, tracker.ErrNotTracked) {
				s.writeError(w, http.StatusNotFound, "ticket not found")
				return
			}
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := defaultOutcomeLimit
	if value := strings.TrimSpace(r.URL.Query().Get("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	outcomes, err := s.daemon.RecentOutcomes(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, OutcomeListResponse{Outcomes: outcomes})
}

func (s *apiServer) handleIncidentStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.daemon.IncidentStats(r.Context())
	if err != nil {
		s.writeIncidentError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, ok := queryInt(r, "limit", defaultOutcomeLimit)
	if !ok || limit <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	incidents, err := s.daemon.Incidents(r.Context(), limit, offset)
	if err != nil {
		s.writeIncidentError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, IncidentListResponse{Incidents: incidents, Limit: limit, Offset: offset})
}

func (s *apiServer) writeIncidentError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrIncidentsUnavailable) {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	logging.WarnWithContext(s.log(), "ticket system read failed", "servicenow_read_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "incident listing unavailable"),
		logging.Hint("check servicenow connectivity and credentials"),
	)
	s.writeError(w, http.StatusBadGateway, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) (int, bool) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(value)
	return parsed, err == nil
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
