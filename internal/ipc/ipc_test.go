package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ticketflow/internal/daemon"
	"ticketflow/internal/fetch"
	"ticketflow/internal/ipc"
	"ticketflow/internal/items"
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

type resolvedTickets struct{}

func (resolvedTickets) CreateTicket(context.Context, ticketsys.TicketFields) (ticketsys.TicketRef, error) {
	return ticketsys.TicketRef{}, nil
}

func (resolvedTickets) GetStatus(context.Context, ticketsys.TicketRef) (ticketsys.Status, error) {
	return ticketsys.Status{State: ticketsys.StateInProgress, Name: "In Progress"}, nil
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	logger := logging.NewNop()
	store := testsupport.MustOpenJournal(t, cfg)
	trk := tracker.New(resolvedTickets{}, notifications.NoopNotifier{}, tracker.Options{PollInterval: time.Hour}, logger)
	orch := workflow.New(emptyFetcher{}, &stages.Executors{Tickets: resolvedTickets{}}, notifications.NoopNotifier{}, trk, workflow.Options{}, logger)
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
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(cfg.Paths.StateDir, "ticketflow.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to be running")
	}
	if status.Interval != time.Hour {
		t.Fatalf("interval = %s", status.Interval)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		health, err := client.Health()
		if err != nil {
			t.Fatalf("Health RPC failed: %v", err)
		}
		if health.Healthy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon never reported healthy: %+v", health)
		}
		time.Sleep(10 * time.Millisecond)
	}

	trig, err := client.Trigger()
	if err != nil {
		t.Fatalf("Trigger RPC failed: %v", err)
	}
	if !trig.Accepted || trig.Result != "accepted" {
		t.Fatalf("unexpected trigger response %+v", trig)
	}

	if err := trk.Track(tracker.TrackedTicket{
		Ref:               items.TicketRef{Number: "INC0000777", SysID: "sys-777"},
		OriginatorAddress: "kim@example.com",
	}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for {
		list, err := client.TicketList("")
		if err != nil {
			t.Fatalf("TicketList RPC failed: %v", err)
		}
		if len(list.Tickets) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("tracked ticket never listed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	exportPath := filepath.Join(testsupport.BaseDir(cfg), "export.json")
	exp, err := client.TicketExport(exportPath)
	if err != nil || exp.Exported != 1 {
		t.Fatalf("TicketExport = %+v, %v", exp, err)
	}

	untrack, err := client.TicketUntrack([]string{"INC0000777", "INC0000000"})
	if err != nil {
		t.Fatalf("TicketUntrack RPC failed: %v", err)
	}
	if len(untrack.Removed) != 1 || len(untrack.NotFound) != 1 || untrack.NotFound[0] != "INC0000000" {
		t.Fatalf("unexpected untrack response %+v", untrack)
	}

	imp, err := client.TicketImport(exportPath)
	if err != nil || imp.Imported != 1 {
		t.Fatalf("TicketImport = %+v, %v", imp, err)
	}

	check, err := client.TicketCheck()
	if err != nil || !check.Requested || check.Tracked != 1 {
		t.Fatalf("TicketCheck = %+v, %v", check, err)
	}

	outcomes, err := client.Outcomes(5)
	if err != nil {
		t.Fatalf("Outcomes RPC failed: %v", err)
	}
	if len(outcomes.Outcomes) != 0 {
		t.Fatalf("expected no outcomes, got %d", len(outcomes.Outcomes))
	}

	notify, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification RPC failed: %v", err)
	}
	if notify.Sent {
		t.Fatal("expected notification skipped without topic")
	}

	stopResp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !stopResp.Stopped {
		t.Fatalf("expected Stop to report stopped, got: %#v", stopResp)
	}
	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status after stop failed: %v", err)
	}
	if status.Running {
		t.Fatal("expected daemon stopped")
	}
}
