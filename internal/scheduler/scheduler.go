package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/logging"
	"ticketflow/internal/metrics"
	"ticketflow/internal/workflow"
)

// Runner executes one batch.
type Runner interface {
	RunBatch(ctx context.Context) (workflow.RunStats, error)
}

// Nudger is asked after each run to pick up new handoffs and poll whatever
// is due.
type Nudger interface {
	Nudge()
}

// TriggerResult is the answer to a manual trigger.
type TriggerResult int

const (
	Rejected TriggerResult = iota
	Accepted
)

func (r TriggerResult) String() string {
	if r == Accepted {
		return "accepted"
	}
	return "rejected"
}

// Trigger sources recorded in metrics and logs.
const (
	SourceInterval = "interval"
	SourceManual   = "manual"
	SourceStartup  = "startup"
)

// Options tunes the scheduler.
type Options struct {
	Interval   time.Duration
	RunOnStart bool
}

// OptionsFromConfig maps the workflow section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:   cfg.BatchInterval(),
		RunOnStart: cfg.Workflow.RunOnStart,
	}
}

// Scheduler owns the batch loop.
type Scheduler struct {
	runner  Runner
	tracker Nudger
	opts    Options
	logger  *slog.Logger

	running  atomic.Bool
	inFlight atomic.Bool
	lastTick atomic.Int64

	mu        sync.Mutex
	ctx       context.Context
	wg        sync.WaitGroup
	runs      int
	lastStart time.Time
	lastEnd   time.Time
	lastErr   error
}

// New constructs a scheduler. tracker may be nil.
func New(runner Runner, tracker Nudger, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Scheduler{
		runner:  runner,
		tracker: tracker,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
	}
}

// Run drives the interval loop until ctx is cancelled, then waits for any
// in-flight batch to return.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}
	defer s.running.Store(false)

	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ctx = nil
		s.mu.Unlock()
		s.wg.Wait()
	}()

	s.logger.Info("scheduler started",
		logging.Duration("interval", s.opts.Interval),
		logging.Bool("run_on_start", s.opts.RunOnStart),
	)
	s.markTick()
	if s.opts.RunOnStart {
		s.fire(SourceStartup)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		case <-ticker.C:
			s.markTick()
			s.fire(SourceInterval)
		}
	}
}

// Trigger starts a run unless one is already in flight. It never blocks on
// the run itself.
func (s *Scheduler) Trigger() TriggerResult {
	return s.fire(SourceManual)
}

func (s *Scheduler) fire(source string) TriggerResult {
	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		metrics.RecordTrigger(source, false)
		s.logger.Debug("trigger rejected; scheduler not running", logging.String("source", source))
		return Rejected
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.mu.Unlock()
		metrics.RecordTrigger(source, false)
		s.logger.Debug("trigger coalesced; run in flight",
			logging.String("source", source),
			logging.Event("trigger_coalesced"),
		)
		return Rejected
	}
	// Add under mu so Run's shutdown Wait cannot miss this run.
	s.wg.Add(1)
	s.mu.Unlock()
	metrics.RecordTrigger(source, true)

	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.execute(ctx, source)
	}()
	return Accepted
}

func (s *Scheduler) execute(ctx context.Context, source string) {
	start := time.Now()
	s.mu.Lock()
	s.lastStart = start
	s.mu.Unlock()

	stats, err := s.runner.RunBatch(ctx)

	s.mu.Lock()
	s.runs++
	s.lastEnd = time.Now()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Debug("batch run ended with error",
			logging.String("source", source),
			logging.Error(err),
		)
	} else {
		s.logger.Debug("batch run finished",
			logging.String("source", source),
			logging.String("run_id", stats.RunID),
			logging.Duration("run_duration", time.Since(start)),
		)
	}
	if s.tracker != nil && ctx.Err() == nil {
		s.tracker.Nudge()
	}
}

func (s *Scheduler) markTick() {
	s.lastTick.Store(time.Now().UnixNano())
}

// Alive reports whether the interval loop is running.
func (s *Scheduler) Alive() bool { return s.running.Load() }

// InFlight reports whether a batch is currently running.
func (s *Scheduler) InFlight() bool { return s.inFlight.Load() }

// State describes the scheduler for status reporting.
type State struct {
	Alive         bool          `json:"alive"`
	InFlight      bool          `json:"in_flight"`
	Interval      time.Duration `json:"interval"`
	Runs          int           `json:"runs"`
	LastTick      time.Time     `json:"last_tick,omitzero"`
	LastRunStart  time.Time     `json:"last_run_start,omitzero"`
	LastRunFinish time.Time     `json:"last_run_finish,omitzero"`
	LastError     string        `json:"last_error,omitempty"`
}

// State returns a snapshot of scheduler state.
func (s *Scheduler) State() State {
	st := State{
		Alive:    s.Alive(),
		InFlight: s.InFlight(),
		Interval: s.opts.Interval,
	}
	if nanos := s.lastTick.Load(); nanos != 0 {
		st.LastTick = time.Unix(0, nanos)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Runs = s.runs
	st.LastRunStart = s.lastStart
	st.LastRunFinish = s.lastEnd
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
