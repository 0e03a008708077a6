package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/daemon"
	"ticketflow/internal/fetch"
	"ticketflow/internal/ipc"
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

type openTickets struct{}

func (openTickets) CreateTicket(context.Context, ticketsys.TicketFields) (ticketsys.TicketRef, error) {
	return ticketsys.TicketRef{}, nil
}

func (openTickets) GetStatus(context.Context, ticketsys.TicketRef) (ticketsys.Status, error) {
	return ticketsys.Status{State: ticketsys.StateInProgress, Name: "In Progress"}, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	journal    *journal.Store
	tracker    *tracker.Tracker
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t,
		testsupport.WithoutAPI(),
		testsupport.WithServiceNow("https://example.service-now.com"),
	)
	base := testsupport.BaseDir(cfg)
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(homeDir, ".config", "ticketflow", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	store := testsupport.MustOpenJournal(t, cfg)
	trk := tracker.New(openTickets{}, notifications.NoopNotifier{}, tracker.Options{PollInterval: time.Hour}, logger,
		tracker.WithPersister(store),
	)
	orch := workflow.New(emptyFetcher{}, &stages.Executors{Tickets: openTickets{}}, notifications.NoopNotifier{}, trk, workflow.Options{}, logger,
		workflow.WithJournal(store),
	)
	sched := scheduler.New(orch, trk, scheduler.Options{Interval: time.Hour}, logger)
	d, err := daemon.New(cfg, daemon.Components{
		Orchestrator: orch,
		Tracker:      trk,
		Scheduler:    sched,
		Journal:      store,
	}, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.StateDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		journal:    store,
		tracker:    trk,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
state_dir = %q

[api]
bind = ""

[llm]
api_key = %q

[mail]
source = "spool"
spool_dir = %q

[servicenow]
instance_url = %q
username = %q
password = %q
`,
		cfg.Paths.StateDir,
		cfg.LLM.APIKey,
		cfg.Mail.SpoolDir,
		cfg.ServiceNow.InstanceURL,
		cfg.ServiceNow.Username,
		cfg.ServiceNow.Password,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
