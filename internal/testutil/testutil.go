// Package testutil provides shared test helpers for setting up document
// stores and version ledgers.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/othala/internal/meta"
	"github.com/starford/othala/internal/storage"
)

// TestLedger opens a version ledger on a temporary SQLite database that is
// automatically cleaned up.
func TestLedger(t *testing.T) *meta.DB {
	t.Helper()
	ledger, err := meta.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

// TestStore creates a temporary base directory with a storage.FS over it.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	baseDir := t.TempDir()
	store, err := storage.NewFS(baseDir)
	if err != nil {
		t.Fatal(err)
	}
	return baseDir, store
}
