package testsupport

import (
	"testing"

	"ticketflow/internal/config"
	"ticketflow/internal/journal"
)

// MustOpenJournal opens the journal under the config state directory and
// registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
