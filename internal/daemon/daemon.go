package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/multierr"

	"ticketflow/internal/config"
	"ticketflow/internal/journal"
	"ticketflow/internal/logging"
	"ticketflow/internal/notifications"
	"ticketflow/internal/scheduler"
	"ticketflow/internal/stage"
	"ticketflow/internal/ticketsys"
	"ticketflow/internal/tracker"
	"ticketflow/internal/workflow"
)

// IncidentReader reads incident data straight from the ticket system.
type IncidentReader interface {
	IncidentStats(ctx context.Context) (ticketsys.IncidentStats, error)
	ListIncidents(ctx context.Context, limit, offset int) ([]ticketsys.Incident, error)
}

// ErrIncidentsUnavailable is returned when no IncidentReader is configured.
var ErrIncidentsUnavailable = errors.New("ticket system reader unavailable")

// Components are the long-lived services the daemon runs.
type Components struct {
	Orchestrator *workflow.Orchestrator
	Tracker      *tracker.Tracker
	Scheduler    *scheduler.Scheduler
	Journal      *journal.Store
	Alerts       notifications.Service
	Incidents    IncidentReader
}

// Daemon coordinates the batch and tracker loops and enforces single-instance execution.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	orchestrator *workflow.Orchestrator
	tracker      *tracker.Tracker
	scheduler    *scheduler.Scheduler
	journal      *journal.Store
	alerts       notifications.Service
	incidents    IncidentReader
	logPath      string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	api     *apiServer
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool                   `json:"running"`
	PID         int                    `json:"pid"`
	Scheduler   scheduler.State        `json:"scheduler"`
	Workflow    workflow.StatusSummary `json:"workflow"`
	Tracking    tracker.Summary        `json:"tracking"`
	JournalPath string                 `json:"journal_path"`
	LockPath    string                 `json:"lock_path"`
	LogPath     string                 `json:"log_path"`
}

// Health reports loop liveness and collaborator readiness.
type Health struct {
	Healthy         bool           `json:"healthy"`
	BatchLoopAlive  bool           `json:"batch_loop_alive"`
	TrackerAlive    bool           `json:"tracker_loop_alive"`
	TrackerLastTick time.Time      `json:"tracker_last_tick,omitzero"`
	BatchLastTick   time.Time      `json:"batch_last_tick,omitzero"`
	Collaborators   []stage.Health `json:"collaborators,omitempty"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, c Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || c.Orchestrator == nil || c.Tracker == nil || c.Scheduler == nil {
		return nil, errors.New("daemon requires config, orchestrator, tracker, and scheduler")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	alerts := c.Alerts
	if alerts == nil {
		alerts = notifications.NewService(cfg.Notifications)
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		orchestrator: c.Orchestrator,
		tracker:      c.Tracker,
		scheduler:    c.Scheduler,
		journal:      c.Journal,
		alerts:       alerts,
		incidents:    c.Incidents,
		logPath:      filepath.Join(cfg.LogDir(), "ticketflow.log"),
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the tracker loop, the batch
// scheduler, and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ticketflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}
	d.cancel = cancel

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if err := d.tracker.Run(runCtx); err != nil {
			logging.ErrorWithContext(d.logger, "tracker loop exited", "tracker_exit",
				logging.Error(err),
				logging.Alert("tracker_exit"),
			)
		}
	}()
	go func() {
		defer d.wg.Done()
		if err := d.scheduler.Run(runCtx); err != nil {
			logging.ErrorWithContext(d.logger, "batch loop exited", "scheduler_exit",
				logging.Error(err),
				logging.Alert("scheduler_exit"),
			)
		}
	}()

	d.running.Store(true)
	d.logger.Info("ticketflow daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop cancels both loops, waits for the in-flight batch to settle, and
// releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report another instance"),
			logging.Hint("remove "+d.lockPath),
		)
	}
	d.running.Store(false)
	d.logger.Info("ticketflow daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var err error
	if d.journal != nil {
		err = multierr.Append(err, d.journal.Close())
	}
	if d.lock != nil {
		err = multierr.Append(err, d.lock.Close())
	}
	return err
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.running.Load() }

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string { return d.logPath }

// APIAddress returns the bound HTTP address, or "" when the API is disabled
// or not started.
func (d *Daemon) APIAddress() string { return d.api.address() }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:     d.running.Load(),
		PID:         os.Getpid(),
		Scheduler:   d.scheduler.State(),
		Workflow:    d.orchestrator.Status(ctx),
		Tracking:    d.tracker.Summary(),
		JournalPath: d.cfg.JournalPath(),
		LockPath:    d.lockPath,
		LogPath:     d.logPath,
	}
}

// Health reports whether both loops are alive. Collaborator probes are
// included for diagnosis but do not affect Healthy.
func (d *Daemon) Health(ctx context.Context) Health {
	state := d.scheduler.State()
	h := Health{
		BatchLoopAlive:  state.Alive,
		BatchLastTick:   state.LastTick,
		TrackerAlive:    d.tracker.Alive(),
		TrackerLastTick: d.tracker.LastTick(),
		Collaborators:   d.orchestrator.Status(ctx).StageHealth,
	}
	h.Healthy = d.running.Load() && h.BatchLoopAlive && h.TrackerAlive
	return h
}

// Trigger requests an immediate batch run.
func (d *Daemon) Trigger() scheduler.TriggerResult {
	result := d.scheduler.Trigger()
	d.logger.Info("manual trigger", logging.String("result", result.String()), logging.Event("trigger"))
	return result
}

// Tickets returns the tracked tickets.
func (d *Daemon) Tickets() []tracker.TrackedTicket { return d.tracker.List() }

// Ticket returns one tracked ticket.
func (d *Daemon) Ticket(number string) (tracker.TrackedTicket, bool) {
	return d.tracker.Get(strings.TrimSpace(number))
}

// CheckTickets asks the tracker to poll every ticket now.
func (d *Daemon) CheckTickets() { d.tracker.ForceCheck() }

// Untrack stops tracking number without notifying its originator.
func (d *Daemon) Untrack(ctx context.Context, number string) error {
	return d.tracker.StopTracking(ctx, strings.TrimSpace(number))
}

// ExportTickets writes the tracked set to path.
func (d *Daemon) ExportTickets(path string) (int, error) {
	abs, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return 0, fmt.Errorf("resolve export path: %w", err)
	}
	return d.tracker.Export(abs)
}

// ImportTickets registers the tickets in an export file.
func (d *Daemon) ImportTickets(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return 0, fmt.Errorf("resolve import path: %w", err)
	}
	return d.tracker.Import(ctx, abs)
}

// RecentOutcomes returns journaled item outcomes, newest first.
func (d *Daemon) RecentOutcomes(ctx context.Context, limit int) ([]journal.Outcome, error) {
	if d.journal == nil {
		return nil, errors.New("journal unavailable")
	}
	return d.journal.RecentOutcomes(ctx, limit)
}

// IncidentStats counts the ticket system's incidents by state and priority.
func (d *Daemon) IncidentStats(ctx context.Context) (ticketsys.IncidentStats, error) {
	if d.incidents == nil {
		return ticketsys.IncidentStats{}, ErrIncidentsUnavailable
	}
	return d.incidents.IncidentStats(ctx)
}

// Incidents returns one page of the ticket system's incidents, newest first.
func (d *Daemon) Incidents(ctx context.Context, limit, offset int) ([]ticketsys.Incident, error) {
	if d.incidents == nil {
		return nil, ErrIncidentsUnavailable
	}
	return d.incidents.ListIncidents(ctx, limit, offset)
}

// TestNotification publishes a test alert using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.alerts.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
