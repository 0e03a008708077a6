package journal_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ticketflow/internal/items"
	"ticketflow/internal/journal"
)

func openJournal(t *testing.T) (*journal.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "journal.db")
	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestRecordAndListOutcomes(t *testing.T) {
	store, _ := openJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tracked := items.Item{
		DedupKey:       "msg-1@example.com",
		Content:        items.Content{Subject: "Payroll discrepancy", From: "dana.smith@example.com"},
		Stage:          items.StageTracking,
		Classification: &items.Classification{Relevant: true},
		Summary:        &items.Summary{ShortDescription: "Payroll discrepancy"},
		Category:       &items.Category{Category: "HR"},
		Ticket:         &items.TicketRef{Number: "INC0010001"},
	}
	first := journal.OutcomeFromItem(tracked, "req-1")
	first.RecordedAt = base
	if err := store.RecordOutcome(ctx, first); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	second := journal.Outcome{DedupKey: "msg-2", Stage: items.StageDiscarded, TerminalReason: "not relevant", RecordedAt: base.Add(time.Minute)}
	if err := store.RecordOutcome(ctx, second); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	got, err := store.RecentOutcomes(ctx, 10)
	if err != nil {
		t.Fatalf("RecentOutcomes failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(got))
	}
	if got[0].DedupKey != "msg-2" || got[1].DedupKey != "msg-1@example.com" {
		t.Fatalf("expected newest first, got %q then %q", got[0].DedupKey, got[1].DedupKey)
	}
	want := journal.Outcome{
		ID:           got[1].ID,
		DedupKey:     "msg-1@example.com",
		Subject:      "Payroll discrepancy",
		Sender:       "dana.smith@example.com",
		Stage:        items.StageTracking,
		TicketNumber: "INC0010001",
		RequestID:    "req-1",
		RecordedAt:   base,
	}
	if diff := cmp.Diff(want, got[1]); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}

	counts, err := store.OutcomeCounts(ctx, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("OutcomeCounts failed: %v", err)
	}
	if counts[items.StageDiscarded] != 1 || counts[items.StageTracking] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}

	removed, err := store.PruneOutcomes(ctx, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("PruneOutcomes failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned row, got %d", removed)
	}
}

func TestRecordOutcomeRequiresKey(t *testing.T) {
	store, _ := openJournal(t)
	if err := store.RecordOutcome(context.Background(), journal.Outcome{Stage: items.StageFailed}); err == nil {
		t.Fatal("expected error for blank dedup key")
	}
}

func TestTicketPersistenceRoundTrip(t *testing.T) {
	store, path := openJournal(t)
	ctx := context.Background()

	if err := store.SaveTicket(ctx, "INC1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("SaveTicket failed: %v", err)
	}
	if err := store.SaveTicket(ctx, "INC1", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("SaveTicket upsert failed: %v", err)
	}
	if err := store.SaveTicket(ctx, "INC2", []byte(`{"v":3}`)); err != nil {
		t.Fatalf("SaveTicket failed: %v", err)
	}
	if err := store.DeleteTicket(ctx, "INC2"); err != nil {
		t.Fatalf("DeleteTicket failed: %v", err)
	}
	if err := store.DeleteTicket(ctx, "INC-missing"); err != nil {
		t.Fatalf("DeleteTicket of absent number failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := journal.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	loaded, err := reopened.LoadTickets(ctx)
	if err != nil {
		t.Fatalf("LoadTickets failed: %v", err)
	}
	if len(loaded) != 1 || string(loaded["INC1"]) != `{"v":2}` {
		t.Fatalf("unexpected tickets after reopen: %q", loaded)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	store, path := openJournal(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := journal.Open(path); !errors.Is(err, journal.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *journal.Store
	if err := store.Close(); err != nil {
		t.Fatalf("Close on nil store returned %v", err)
	}
	if store.Path() != "" {
		t.Fatal("expected empty path for nil store")
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("expected Ping error for nil store")
	}
}
