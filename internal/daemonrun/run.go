package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/daemon"
	"ticketflow/internal/escalation"
	"ticketflow/internal/fetch"
	"ticketflow/internal/ipc"
	"ticketflow/internal/journal"
	"ticketflow/internal/logging"
	"ticketflow/internal/metrics"
	"ticketflow/internal/notifications"
	"ticketflow/internal/preflight"
	"ticketflow/internal/scheduler"
	"ticketflow/internal/services/llm"
	"ticketflow/internal/stages"
	"ticketflow/internal/ticketsys"
	"ticketflow/internal/tracker"
	"ticketflow/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	SocketPath  string
}

// Run starts the ticketflow daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logDir := cfg.LogDir()
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(logDir, fmt.Sprintf("ticketflow-%s.log", runID))

	logger, err := logging.NewFromConfig(cfg, logPath, opts.LogLevel, opts.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logConfigSnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(logDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update ticketflow.log link: %v\n", err)
	}
	logging.PruneLogs(logger, logDir, "ticketflow-*.log", cfg.Logging.RetentionDays, logPath)
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		logger.Error("open journal", logging.Error(err))
		return err
	}
	pruneJournal(signalCtx, logger, store, cfg.Logging.RetentionDays)

	d, err := build(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.Hint("check configuration and journal database access"),
			logging.String(logging.FieldImpact, "daemon will not process mail until started"),
		)
	}

	<-signalCtx.Done()
	logger.Info("ticketflow daemon shutting down")
	return nil
}

// build wires every collaborator from configuration.
func build(cfg *config.Config, store *journal.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	metrics.Register()

	completer, err := llm.NewCompleter(cfg.GetLLM())
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	fallbacks, policy := stages.FromConfig(cfg)
	llmStages := stages.NewLLMStages(completer, policy.Categories)
	tickets := ticketsys.NewServiceNow(cfg.ServiceNow, logger)
	exec := &stages.Executors{
		Classifier:  llmStages,
		Summarizer:  llmStages,
		Categorizer: llmStages,
		Tickets:     tickets,
		Policy:      policy,
		Fallbacks:   fallbacks,
	}

	notifier, err := originatorNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	alerts := notifications.NewService(cfg.Notifications)

	source, err := fetch.NewSource(cfg.Mail, logger)
	if err != nil {
		return nil, fmt.Errorf("init mail source: %w", err)
	}

	trk := tracker.New(tickets, notifier, tracker.OptionsFromConfig(cfg), logger,
		tracker.WithPersister(store),
		tracker.WithAlerts(alerts),
	)

	orchOpts := []workflow.Option{
		workflow.WithJournal(store),
		workflow.WithAlerts(alerts),
		workflow.WithHealthCheckers(preflight.Checkers(cfg)...),
	}
	jira, err := escalation.NewJira(cfg.Jira, logger)
	if err != nil {
		return nil, fmt.Errorf("init jira escalation: %w", err)
	}
	if jira != nil {
		orchOpts = append(orchOpts, workflow.WithEscalator(jira))
	}
	orch := workflow.New(source, exec, notifier, trk, workflow.OptionsFromConfig(cfg), logger, orchOpts...)
	sched := scheduler.New(orch, trk, scheduler.OptionsFromConfig(cfg), logger)

	d, err := daemon.New(cfg, daemon.Components{
		Orchestrator: orch,
		Tracker:      trk,
		Scheduler:    sched,
		Journal:      store,
		Alerts:       alerts,
		Incidents:    tickets,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

func originatorNotifier(cfg *config.Config, logger *slog.Logger) (notifications.Notifier, error) {
	if strings.TrimSpace(cfg.Notifications.SMTPHost) == "" {
		logging.WarnWithContext(logger, "smtp host not configured; originator mail disabled", "smtp_disabled",
			logging.String(logging.FieldImpact, "requesters will not receive ticket notices"),
			logging.Hint("set notifications.smtp_host"),
		)
		return notifications.NoopNotifier{}, nil
	}
	notifier, err := notifications.NewSMTPNotifier(cfg.Notifications)
	if err != nil {
		return nil, fmt.Errorf("init smtp notifier: %w", err)
	}
	return notifier, nil
}

func pruneJournal(ctx context.Context, logger *slog.Logger, store *journal.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	removed, err := store.PruneOutcomes(ctx, cutoff)
	if err != nil {
		logging.WarnWithContext(logger, "journal prune failed", "journal_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old outcomes remain in the journal"),
		)
		return
	}
	if removed > 0 {
		logger.Info("journal pruned", logging.Int("outcomes", int(removed)), logging.Int("retention_days", retentionDays))
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "ticketflow.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	llmCfg := cfg.GetLLM()
	logger.Info("configuration snapshot",
		logging.Event("config_snapshot"),
		logging.String("mail_source", cfg.Mail.Source),
		logging.String("llm_provider", llmCfg.Provider),
		logging.String("llm_model", llmCfg.Model),
		logging.Bool("llm_key_present", strings.TrimSpace(llmCfg.APIKey) != ""),
		logging.Bool("servicenow_configured", strings.TrimSpace(cfg.ServiceNow.InstanceURL) != ""),
		logging.Bool("smtp_configured", strings.TrimSpace(cfg.Notifications.SMTPHost) != ""),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("jira_enabled", cfg.Jira.Enabled),
		logging.String("api_bind", cfg.API.Bind),
		logging.Duration("batch_interval", cfg.BatchInterval()),
		logging.Duration("poll_interval", cfg.PollInterval()),
	)
}
