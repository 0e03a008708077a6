package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ticketflow/internal/config"
	"ticketflow/internal/escalation"
	"ticketflow/internal/fetch"
	"ticketflow/internal/items"
	"ticketflow/internal/journal"
	"ticketflow/internal/logging"
	"ticketflow/internal/metrics"
	"ticketflow/internal/notifications"
	"ticketflow/internal/stage"
	"ticketflow/internal/stages"
	"ticketflow/internal/tracker"
)

// Fetcher is the mail intake contract.
type Fetcher interface {
	FetchUnprocessed(ctx context.Context) ([]fetch.Message, error)
	MarkProcessed(ctx context.Context, dedupKey string) error
}

// Handoff accepts tickets for lifecycle tracking.
type Handoff interface {
	Track(ticket tracker.TrackedTicket) error
}

// OutcomeRecorder journals how items left the pipeline.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome journal.Outcome) error
}

// Options tunes batch execution and the retry policy.
type Options struct {
	Concurrency           int
	MaxAttempts           int
	BackoffInitial        time.Duration
	BackoffMax            time.Duration
	CallTimeout           time.Duration
	UnreachableAlertAfter int
}

// OptionsFromConfig maps the workflow section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:           cfg.Workflow.Concurrency,
		MaxAttempts:           cfg.Workflow.MaxAttempts,
		BackoffInitial:        time.Duration(cfg.Workflow.BackoffInitialMillis) * time.Millisecond,
		BackoffMax:            time.Duration(cfg.Workflow.BackoffMaxMillis) * time.Millisecond,
		CallTimeout:           cfg.CallTimeout(),
		UnreachableAlertAfter: cfg.Workflow.UnreachableAlertAfter,
	}
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = o.BackoffInitial
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	return o
}

// Orchestrator runs batches of fetched messages through the pipeline.
type Orchestrator struct {
	fetcher   Fetcher
	exec      *stages.Executors
	notifier  notifications.Notifier
	handoff   Handoff
	store     *items.Store
	alerts    notifications.Service
	escalator escalation.Escalator
	journal   OutcomeRecorder
	checkers  []stage.Checker
	logger    *slog.Logger
	opts      Options

	sleep func(context.Context, time.Duration) error

	mu            sync.RWMutex
	active        map[string]struct{}
	lastRun       *RunStats
	lastErr       error
	fetchFailures int
}

// Option configures optional Orchestrator collaborators.
type Option func(*Orchestrator)

// WithStore shares an item store instead of allocating a private one.
func WithStore(store *items.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithAlerts publishes operator alerts through svc.
func WithAlerts(svc notifications.Service) Option {
	return func(o *Orchestrator) { o.alerts = svc }
}

// WithEscalator mirrors technical tickets after creation.
func WithEscalator(e escalation.Escalator) Option {
	return func(o *Orchestrator) { o.escalator = e }
}

// WithJournal records terminal outcomes.
func WithJournal(j OutcomeRecorder) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithHealthCheckers adds collaborator probes reported by Status.
func WithHealthCheckers(checkers ...stage.Checker) Option {
	return func(o *Orchestrator) { o.checkers = append(o.checkers, checkers...) }
}

// New constructs an orchestrator.
func New(fetcher Fetcher, exec *stages.Executors, notifier notifications.Notifier, handoff Handoff, opts Options, logger *slog.Logger, options ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		fetcher:  fetcher,
		exec:     exec,
		notifier: notifier,
		handoff:  handoff,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		opts:     opts.withDefaults(),
		sleep:    sleepContext,
		active:   make(map[string]struct{}),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.store == nil {
		o.store = items.NewStore()
	}
	return o
}

// Store exposes the item store for status queries.
func (o *Orchestrator) Store() *items.Store { return o.store }

// RunStats summarizes one batch run.
type RunStats struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Fetched    int       `json:"fetched"`
	Duplicates int       `json:"duplicates"`
	Resumed    int       `json:"resumed"`
	Tracking   int       `json:"tracking"`
	Discarded  int       `json:"discarded"`
	Failed     int       `json:"failed"`
	Abandoned  int       `json:"abandoned"`
	FetchError string    `json:"fetch_error,omitempty"`
}

// Duration returns how long the run took.
func (s RunStats) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// RunBatch fetches unprocessed messages and drives each admitted item to a
// terminal state, up to Concurrency at a time. Items an earlier run left in
// the store resume from their recorded stage. Only a fetch failure is
// returned; item failures resolve into stage transitions.
func (o *Orchestrator) RunBatch(ctx context.Context) (RunStats, error) {
	stats := RunStats{RunID: uuid.NewString(), StartedAt: time.Now()}
	logger := o.logger.With(logging.String("run_id", stats.RunID))

	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	messages, err := o.fetcher.FetchUnprocessed(fetchCtx)
	cancel()
	if err != nil {
		stats.FetchError = err.Error()
		stats.FinishedAt = time.Now()
		o.recordFetchFailure(ctx, logger, err)
		o.finishRun(stats, err)
		return stats, err
	}
	o.recordFetchSuccess(ctx, logger)
	stats.Fetched = len(messages)
	if len(messages) == 0 {
		logger.Debug("no unprocessed messages")
		stats.FinishedAt = time.Now()
		o.finishRun(stats, nil)
		return stats, nil
	}
	logger.Info("batch started", logging.Int("messages", len(messages)), logging.Event("batch_start"))

	var (
		statsMu sync.Mutex
		g       errgroup.Group
		seen    = make(map[string]struct{}, len(messages))
	)
	g.SetLimit(o.opts.Concurrency)
	for _, msg := range messages {
		if _, dup := seen[strings.TrimSpace(msg.DedupKey)]; dup {
			stats.Duplicates++
			logger.Debug("message repeated in batch",
				logging.String(logging.FieldItemID, msg.DedupKey),
				logging.Error(items.ErrDuplicateAdmission),
				logging.Event("duplicate_admission"),
			)
			continue
		}
		seen[strings.TrimSpace(msg.DedupKey)] = struct{}{}
		item, already, err := o.store.Admit(msg.DedupKey, msg.Content)
		if err != nil {
			logging.WarnWithContext(logger, "message not admitted", "admit_failed",
				logging.Error(err),
				logging.String("subject", msg.Content.Subject),
				logging.String(logging.FieldImpact, "message skipped this run"),
			)
			continue
		}
		if !o.claim(item.DedupKey) {
			stats.Duplicates++
			logger.Debug("message already in flight",
				logging.String(logging.FieldItemID, item.DedupKey),
				logging.String("stage", string(item.Stage)),
				logging.Error(items.ErrDuplicateAdmission),
				logging.Event("duplicate_admission"),
			)
			continue
		}
		if already {
			stats.Resumed++
			logger.Info("resuming item from an earlier run",
				logging.String(logging.FieldItemID, item.DedupKey),
				logging.String("stage", string(item.Stage)),
				logging.Bool("mark_pending", item.MarkPending),
				logging.Event("item_resumed"),
			)
		}
		key := item.DedupKey
		g.Go(func() error {
			defer o.release(key)
			final := o.processItem(ctx, key)
			statsMu.Lock()
			defer statsMu.Unlock()
			switch final {
			case items.StageTracking:
				stats.Tracking++
			case items.StageDiscarded:
				stats.Discarded++
			case items.StageFailed:
				stats.Failed++
			default:
				stats.Abandoned++
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.FinishedAt = time.Now()
	metrics.ObserveBatch(stats.Duration())
	o.finishRun(stats, nil)
	logger.Info("batch completed",
		logging.Event("batch_complete"),
		logging.Int("fetched", stats.Fetched),
		logging.Int("tracking", stats.Tracking),
		logging.Int("discarded", stats.Discarded),
		logging.Int("failed", stats.Failed),
		logging.Int("abandoned", stats.Abandoned),
		logging.Int("duplicates", stats.Duplicates),
		logging.Int("resumed", stats.Resumed),
		logging.Duration("batch_duration", stats.Duration()),
	)
	if o.alerts != nil {
		_ = o.alerts.Publish(ctx, notifications.EventBatchCompleted, notifications.Payload{
			"tracking": stats.Tracking,
			"failed":   stats.Failed,
		})
	}
	return stats, nil
}

func (o *Orchestrator) recordFetchFailure(ctx context.Context, logger *slog.Logger, err error) {
	metrics.RecordFetchError()
	o.mu.Lock()
	o.fetchFailures++
	failures := o.fetchFailures
	o.mu.Unlock()

	logging.WarnWithContext(logger, "fetch failed", "fetch_failed",
		logging.Error(err),
		logging.Int("consecutive_failures", failures),
		logging.String(logging.FieldImpact, "no messages processed this run"),
		logging.Hint("check mail server connectivity and credentials"),
	)
	threshold := o.opts.UnreachableAlertAfter
	if threshold <= 0 || failures != threshold || o.alerts == nil {
		return
	}
	logging.ErrorWithContext(logger, "mail intake unreachable", "intake_unreachable",
		logging.Alert("intake_unreachable"),
		logging.Int("consecutive_failures", failures),
		logging.Error(err),
	)
	if pubErr := o.alerts.Publish(ctx, notifications.EventIntakeUnreachable, notifications.Payload{
		"failures": failures,
		"error":    err,
	}); pubErr != nil {
		logger.Debug("intake alert failed", logging.Error(pubErr))
	}
}

func (o *Orchestrator) recordFetchSuccess(ctx context.Context, logger *slog.Logger) {
	o.mu.Lock()
	failures := o.fetchFailures
	o.fetchFailures = 0
	o.mu.Unlock()

	threshold := o.opts.UnreachableAlertAfter
	if threshold <= 0 || failures < threshold || o.alerts == nil {
		return
	}
	logger.Info("mail intake recovered", logging.Int("failed_runs", failures))
	if err := o.alerts.Publish(ctx, notifications.EventIntakeRecovered, notifications.Payload{"failures": failures}); err != nil {
		logger.Debug("recovery alert failed", logging.Error(err))
	}
}

func (o *Orchestrator) finishRun(stats RunStats, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastRun = &stats
	o.lastErr = err
}

// claim reserves key for a single worker across overlapping batches. An item
// an earlier run left in the store is claimable again once that run ends.
func (o *Orchestrator) claim(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[key]; busy {
		return false
	}
	o.active[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	delete(o.active, key)
	o.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var errAbandoned = errors.New("item abandoned before a terminal stage")
