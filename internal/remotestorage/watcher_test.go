package remotestorage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatcherVersionsOutOfBandCreate(t *testing.T) {
	_, store, ledger := testService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = Watch(ctx, store, ledger, store.Root(), discardLogger(), nil)
	}()
	time.Sleep(100 * time.Millisecond) // let the watcher arm

	dir := filepath.Join(store.Root(), "alice", "notes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("out of band"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		rec, _ := ledger.Get("/alice/notes/a.txt")
		return rec != nil
	}, "watcher never versioned the new document")

	rec, _ := ledger.Get("/alice/notes/a.txt")
	if rec.Version.Seq != 1 {
		t.Errorf("seq = %d, want 1", rec.Version.Seq)
	}
}

func TestWatcherPrunesOutOfBandRemove(t *testing.T) {
	svc, store, ledger := testService(t)

	mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "x")
	mustPut(t, svc, "/alice/notes/b.txt", "text/plain", "y")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Watch(ctx, store, ledger, store.Root(), discardLogger(), nil)
	}()
	time.Sleep(100 * time.Millisecond)

	if err := os.Remove(filepath.Join(store.Root(), "alice", "notes", "a.txt")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		rec, _ := ledger.Get("/alice/notes/a.txt")
		return rec == nil
	}, "watcher never pruned the removed document")

	// The sibling and its folder survive.
	if rec, _ := ledger.Get("/alice/notes/b.txt"); rec == nil {
		t.Error("sibling row pruned")
	}
	if rec, _ := ledger.Get("/alice/notes/"); rec == nil {
		t.Error("non-empty folder row pruned")
	}
}

func TestWatcherIgnoresCoordinatorWrites(t *testing.T) {
	svc, store, ledger := testService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Watch(ctx, store, ledger, store.Root(), discardLogger(), nil)
	}()
	time.Sleep(100 * time.Millisecond)

	v := mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "x")

	// Give the watcher time to see the event; the version must not move.
	time.Sleep(300 * time.Millisecond)
	rec, _ := ledger.Get("/alice/notes/a.txt")
	if rec == nil || rec.Version.String() != v.String() {
		t.Errorf("watcher re-versioned a coordinator write: %v -> %v", v, rec)
	}
}
