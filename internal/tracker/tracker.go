package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ticketflow/internal/config"
	"ticketflow/internal/logging"
	"ticketflow/internal/metrics"
	"ticketflow/internal/notifications"
	"ticketflow/internal/services"
	"ticketflow/internal/ticketsys"
)

const closedTimeLayout = "2006-01-02 15:04:05"

// Persister stores serialized tracking records so a restart resumes polling.
type Persister interface {
	SaveTicket(ctx context.Context, number string, payload []byte) error
	DeleteTicket(ctx context.Context, number string) error
	LoadTickets(ctx context.Context) (map[string][]byte, error)
}

// Options tunes the poll loop.
type Options struct {
	PollInterval      time.Duration
	CallTimeout       time.Duration
	MaxHorizon        time.Duration
	Fanout            int
	HandoffBuffer     int
	SendStatusUpdates bool
	// CleanupAfter drops closed tickets whose closure notification has kept
	// failing for this long. Zero disables cleanup.
	CleanupAfter time.Duration
}

// OptionsFromConfig maps the tracking and workflow sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:      cfg.PollInterval(),
		CallTimeout:       cfg.CallTimeout(),
		MaxHorizon:        cfg.MaxHorizon(),
		Fanout:            cfg.Tracking.Fanout,
		HandoffBuffer:     cfg.Tracking.HandoffBuffer,
		SendStatusUpdates: cfg.Tracking.SendStatusUpdates,
		CleanupAfter:      time.Duration(cfg.Tracking.CleanupDays) * 24 * time.Hour,
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Minute
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.MaxHorizon <= 0 {
		o.MaxHorizon = 30 * 24 * time.Hour
	}
	if o.Fanout <= 0 {
		o.Fanout = 4
	}
	if o.HandoffBuffer <= 0 {
		o.HandoffBuffer = 64
	}
	return o
}

// Tracker polls ticket status until closure or the tracking horizon.
type Tracker struct {
	tickets  ticketsys.System
	notifier notifications.Notifier
	alerts   notifications.Service
	store    Persister
	logger   *slog.Logger
	opts     Options

	handoff chan TrackedTicket
	force   chan struct{}
	nudge   chan struct{}

	mu      sync.Mutex
	tracked map[string]*TrackedTicket
	now     func() time.Time

	running  atomic.Bool
	lastTick atomic.Int64
}

// Option configures optional Tracker collaborators.
type Option func(*Tracker)

// WithPersister stores tracking records through p.
func WithPersister(p Persister) Option {
	return func(t *Tracker) { t.store = p }
}

// WithAlerts publishes stale-ticket alerts through svc.
func WithAlerts(svc notifications.Service) Option {
	return func(t *Tracker) { t.alerts = svc }
}

// New constructs a tracker. Run must be started before Track accepts more
// than HandoffBuffer tickets.
func New(tickets ticketsys.System, notifier notifications.Notifier, opts Options, logger *slog.Logger, options ...Option) *Tracker {
	opts = opts.withDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	t := &Tracker{
		tickets:  tickets,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "tracker"),
		opts:     opts,
		handoff:  make(chan TrackedTicket, opts.HandoffBuffer),
		force:    make(chan struct{}, 1),
		nudge:    make(chan struct{}, 1),
		tracked:  make(map[string]*TrackedTicket),
		now:      time.Now,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Track hands a newly created ticket to the poll loop. It never blocks; a
// full buffer returns ErrHandoffFull.
func (t *Tracker) Track(ticket TrackedTicket) error {
	if err := ticket.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "tracking", "track", "invalid ticket", err)
	}
	select {
	case t.handoff <- ticket.clone():
		return nil
	default:
		return ErrHandoffFull
	}
}

// ForceCheck asks the loop to poll every ticket on its next iteration,
// ignoring LastPolledAt. Requests coalesce while one is pending.
func (t *Tracker) ForceCheck() {
	select {
	case t.force <- struct{}{}:
	default:
	}
}

// Nudge asks the loop to register pending handoffs and poll whatever is due
// now, without waiting for the next tick. Unlike ForceCheck it honors
// LastPolledAt, so frequent nudges never shorten the poll interval.
func (t *Tracker) Nudge() {
	select {
	case t.nudge <- struct{}{}:
	default:
	}
}

// Alive reports whether the poll loop is running.
func (t *Tracker) Alive() bool { return t.running.Load() }

// LastTick returns when the loop last evaluated the tracked set.
func (t *Tracker) LastTick() time.Time {
	nanos := t.lastTick.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Run drives the poll loop until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return errors.New("tracker already running")
	}
	defer t.running.Store(false)

	if restored, err := t.Restore(ctx); err != nil {
		logging.WarnWithContext(t.logger, "tracking restore failed", "tracking_restore_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "previously tracked tickets will not be polled"),
			logging.Hint("check the journal database"),
		)
	} else if restored > 0 {
		t.logger.Info("tracking restored", logging.Int("tickets", restored))
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	t.logger.Info("tracker started",
		logging.Duration("poll_interval", t.opts.PollInterval),
		logging.Int("fanout", t.opts.Fanout),
		logging.Duration("max_horizon", t.opts.MaxHorizon),
	)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker stopped")
			return nil
		case ticket := <-t.handoff:
			t.register(ctx, ticket)
		case <-ticker.C:
			t.drainHandoff(ctx)
			t.pollDue(ctx, false)
		case <-t.nudge:
			t.drainHandoff(ctx)
			t.pollDue(ctx, false)
		case <-t.force:
			t.drainHandoff(ctx)
			t.pollDue(ctx, true)
		}
	}
}

func (t *Tracker) drainHandoff(ctx context.Context) {
	for {
		select {
		case ticket := <-t.handoff:
			t.register(ctx, ticket)
		default:
			return
		}
	}
}

// register adds ticket unless its number is already tracked.
func (t *Tracker) register(ctx context.Context, ticket TrackedTicket) bool {
	number := ticket.Number()
	t.mu.Lock()
	if _, exists := t.tracked[number]; exists {
		t.mu.Unlock()
		t.logger.Debug("ticket already tracked", logging.Ticket(number))
		return false
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = t.now()
	}
	stored := ticket.clone()
	t.tracked[number] = &stored
	count := len(t.tracked)
	t.mu.Unlock()

	metrics.SetTracked(count)
	t.persist(ctx, stored)
	t.logger.Info("tracking ticket",
		logging.Ticket(number),
		logging.String("originator", ticket.OriginatorAddress),
		logging.Int("tracked", count),
	)
	return true
}

// pollDue drops expired tickets and polls the rest that are due. It returns
// once every poll has finished or hit its timeout.
func (t *Tracker) pollDue(ctx context.Context, force bool) {
	now := t.now()
	t.lastTick.Store(now.UnixNano())
	// Poll timestamps are taken at tick time, so a small slack keeps ticker
	// jitter from skipping a ticket for a whole interval.
	slack := t.opts.PollInterval / 10

	var (
		due     []TrackedTicket
		expired []TrackedTicket
	)
	t.mu.Lock()
	for number, ticket := range t.tracked {
		if now.Sub(ticket.CreatedAt) > t.opts.MaxHorizon {
			expired = append(expired, ticket.clone())
			delete(t.tracked, number)
			continue
		}
		if force || ticket.LastPolledAt.IsZero() || now.Sub(ticket.LastPolledAt) >= t.opts.PollInterval-slack {
			due = append(due, ticket.clone())
		}
	}
	count := len(t.tracked)
	t.mu.Unlock()
	metrics.SetTracked(count)

	for _, ticket := range expired {
		t.reportStale(ctx, ticket, now)
	}
	if len(due) == 0 {
		t.cleanup(ctx, now)
		return
	}

	t.logger.Debug("polling tickets", logging.Int("due", len(due)), logging.Int("tracked", count))
	var g errgroup.Group
	g.SetLimit(t.opts.Fanout)
	for _, ticket := range due {
		g.Go(func() error {
			t.pollOne(ctx, ticket, now)
			return nil
		})
	}
	_ = g.Wait()
	t.cleanup(ctx, now)
}

func (t *Tracker) reportStale(ctx context.Context, ticket TrackedTicket, now time.Time) {
	age := now.Sub(ticket.CreatedAt).Round(time.Minute)
	metrics.RecordStaleDrop()
	t.unpersist(ctx, ticket.Number())
	logging.WarnWithContext(t.logger, "ticket dropped from tracking", "tracking_stale",
		logging.Ticket(ticket.Number()),
		logging.Error(ErrStaleTrackingExpired),
		logging.Duration("age", age),
		logging.String("last_status", ticketsys.StateName(ticket.LastKnownStatus)),
		logging.String(logging.FieldImpact, "originator will not receive a closure notification"),
		logging.Hint("check the ticket in the ticket system"),
	)
	if t.alerts != nil {
		if err := t.alerts.Publish(ctx, notifications.EventStaleTicket, notifications.Payload{
			"ticket": ticket.Number(),
			"age":    age.String(),
		}); err != nil {
			t.logger.Debug("stale ticket alert failed", logging.Error(err))
		}
	}
}

func (t *Tracker) pollOne(ctx context.Context, snapshot TrackedTicket, now time.Time) {
	number := snapshot.Number()
	logger := t.logger.With(logging.Ticket(number))

	callCtx, cancel := context.WithTimeout(ctx, t.opts.CallTimeout)
	status, err := t.tickets.GetStatus(callCtx, snapshot.Ref)
	cancel()
	if err != nil {
		metrics.RecordPollError()
		t.update(number, func(ticket *TrackedTicket) { ticket.LastPolledAt = now })
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(logger, "ticket status poll failed", "tracking_poll_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "status will be retried next interval"),
			logging.Hint("check ticket system connectivity"),
		)
		return
	}

	previous := snapshot.LastKnownStatus
	changed := status.State != previous
	current, ok := t.update(number, func(ticket *TrackedTicket) {
		ticket.LastPolledAt = now
		if changed {
			ticket.StatusHistory = append(ticket.StatusHistory, StatusChange{
				State:    status.State,
				Name:     ticketsys.StateName(status.State),
				Previous: previous,
				At:       now,
			})
		}
		ticket.LastKnownStatus = status.State
	})
	if !ok {
		// Untracked while the poll was in flight.
		return
	}
	if changed {
		logger.Info("ticket status changed",
			logging.String("previous", ticketsys.StateName(previous)),
			logging.String("status", ticketsys.StateName(status.State)),
		)
	}

	switch {
	case current.PendingClosure():
		t.notifyClosure(ctx, current, status, logger)
	case changed && previous != "" && t.opts.SendStatusUpdates:
		t.notifyUpdate(ctx, current, status, logger)
		t.persist(ctx, current)
	default:
		t.persist(ctx, current)
	}
}

func (t *Tracker) notifyClosure(ctx context.Context, ticket TrackedTicket, status ticketsys.Status, logger *slog.Logger) {
	if ticket.OriginatorAddress == "" {
		logging.WarnWithContext(logger, "closed ticket has no originator address", "tracking_no_originator",
			logging.String(logging.FieldImpact, "closure notification skipped"),
			logging.Hint("check the sender address on the original message"),
		)
		t.drop(ctx, ticket.Number())
		return
	}

	fields := t.fields(ticket, status)
	if !status.UpdatedAt.IsZero() {
		fields["closed_time"] = status.UpdatedAt.Format(closedTimeLayout)
	}
	fields["resolution_notes"] = status.ResolutionNotes

	callCtx, cancel := context.WithTimeout(ctx, t.opts.CallTimeout)
	err := t.notifier.Notify(callCtx, ticket.OriginatorAddress, notifications.TemplateTicketClosed, fields)
	cancel()
	metrics.RecordNotification(notifications.TemplateTicketClosed, err)
	if err != nil {
		t.persist(ctx, ticket)
		logging.WarnWithContext(logger, "closure notification failed", "tracking_notify_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "notification will be retried next poll"),
			logging.Hint("check SMTP settings"),
		)
		return
	}

	t.update(ticket.Number(), func(tt *TrackedTicket) { tt.NotifiedOnClose = true })
	t.drop(ctx, ticket.Number())
	logger.Info("closure notification sent; ticket retired",
		logging.String("status", ticketsys.StateName(status.State)),
		logging.String("originator", ticket.OriginatorAddress),
	)
}

func (t *Tracker) notifyUpdate(ctx context.Context, ticket TrackedTicket, status ticketsys.Status, logger *slog.Logger) {
	if ticket.OriginatorAddress == "" {
		return
	}
	fields := t.fields(ticket, status)
	if !status.UpdatedAt.IsZero() {
		fields["updated_time"] = status.UpdatedAt.Format(closedTimeLayout)
	}
	callCtx, cancel := context.WithTimeout(ctx, t.opts.CallTimeout)
	err := t.notifier.Notify(callCtx, ticket.OriginatorAddress, notifications.TemplateTicketUpdated, fields)
	cancel()
	metrics.RecordNotification(notifications.TemplateTicketUpdated, err)
	if err != nil {
		logger.Debug("status update notification failed", logging.Error(err))
	}
}

func (t *Tracker) fields(ticket TrackedTicket, status ticketsys.Status) map[string]string {
	return map[string]string{
		"ticket_number":     ticket.Number(),
		"short_description": ticket.ShortDescription,
		"caller_name":       ticket.CallerName,
		"status":            ticketsys.StateName(status.State),
	}
}

// update applies fn to the tracked ticket and returns a copy of the result.
func (t *Tracker) update(number string, fn func(*TrackedTicket)) (TrackedTicket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ticket, ok := t.tracked[number]
	if !ok {
		return TrackedTicket{}, false
	}
	fn(ticket)
	return ticket.clone(), true
}

func (t *Tracker) drop(ctx context.Context, number string) bool {
	t.mu.Lock()
	_, ok := t.tracked[number]
	delete(t.tracked, number)
	count := len(t.tracked)
	t.mu.Unlock()
	metrics.SetTracked(count)
	t.unpersist(ctx, number)
	return ok
}
