package remotestorage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/meta"
	"github.com/starford/othala/internal/rspath"
	"github.com/starford/othala/internal/storage"
)

func testService(t *testing.T) (*Service, *storage.FS, *meta.DB) {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	ledger, err := meta.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("meta.Open: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return NewService(store, ledger), store, ledger
}

func mustPut(t *testing.T, svc *Service, raw, contentType, content string) meta.Version {
	t.Helper()
	v, err := svc.PutDocument(context.Background(), rspath.MustParse(raw), contentType, []byte(content), nil, nil)
	if err != nil {
		t.Fatalf("PutDocument(%s): %v", raw, err)
	}
	return v
}

func TestPutAndGetDocument(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	v := mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "hi")
	if v.Seq != 1 {
		t.Errorf("initial seq = %d, want 1", v.Seq)
	}

	doc, err := svc.GetDocument(ctx, rspath.MustParse("/alice/notes/a.txt"), nil)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	defer doc.Body.Close()
	body, _ := io.ReadAll(doc.Body)
	if string(body) != "hi" {
		t.Errorf("body = %q", body)
	}
	if doc.Version.String() != v.String() {
		t.Errorf("get version = %s, put version = %s", doc.Version, v)
	}
	if doc.ContentType != "text/plain" {
		t.Errorf("content type = %q", doc.ContentType)
	}
	if doc.Length != 2 {
		t.Errorf("length = %d", doc.Length)
	}
}

func TestRewriteBumpsVersionString(t *testing.T) {
	svc, _, _ := testService(t)

	v1 := mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "hi")
	v2 := mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "bye")
	if v2.Seq != v1.Seq+1 {
		t.Errorf("seq %d -> %d, want +1", v1.Seq, v2.Seq)
	}
	if v2.String() == v1.String() {
		t.Error("version string unchanged across writes")
	}
}

func TestPutCascadesToEveryAncestor(t *testing.T) {
	svc, _, ledger := testService(t)

	mustPut(t, svc, "/alice/notes/2024/a.txt", "text/plain", "x")

	folders := []string{"/alice/notes/2024/", "/alice/notes/", "/alice/"}
	before := make(map[string]string)
	for _, f := range folders {
		rec, err := ledger.Get(f)
		if err != nil || rec == nil {
			t.Fatalf("folder %s has no row after put: %v", f, err)
		}
		before[f] = rec.Version.String()
	}

	mustPut(t, svc, "/alice/notes/2024/a.txt", "text/plain", "y")
	for _, f := range folders {
		rec, _ := ledger.Get(f)
		if rec.Version.String() == before[f] {
			t.Errorf("folder %s version did not change on write beneath it", f)
		}
	}
}

func TestDeleteCascade(t *testing.T) {
	svc, _, ledger := testService(t)
	ctx := context.Background()

	mustPut(t, svc, "/alice/notes/2024/a.txt", "text/plain", "x")
	mustPut(t, svc, "/alice/notes/b.txt", "text/plain", "y")

	notesBefore, _ := ledger.Get("/alice/notes/")
	aliceBefore, _ := ledger.Get("/alice/")

	prior, err := svc.DeleteDocument(ctx, rspath.MustParse("/alice/notes/2024/a.txt"), nil)
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if prior.Seq != 1 {
		t.Errorf("prior version seq = %d, want 1", prior.Seq)
	}

	// Document and emptied folder lose their rows.
	for _, gone := range []string{"/alice/notes/2024/a.txt", "/alice/notes/2024/"} {
		if rec, _ := ledger.Get(gone); rec != nil {
			t.Errorf("%s still has a ledger row", gone)
		}
	}
	// Surviving ancestors were bumped.
	notesAfter, _ := ledger.Get("/alice/notes/")
	if notesAfter == nil || notesAfter.Version.String() == notesBefore.Version.String() {
		t.Error("/alice/notes/ version not bumped by delete beneath it")
	}
	aliceAfter, _ := ledger.Get("/alice/")
	if aliceAfter == nil || aliceAfter.Version.String() == aliceBefore.Version.String() {
		t.Error("/alice/ version not bumped by delete beneath it")
	}

	// The document is gone for readers.
	if _, err := svc.GetDocument(ctx, rspath.MustParse("/alice/notes/2024/a.txt"), nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteLastDocumentEmptiesUserRoot(t *testing.T) {
	svc, _, ledger := testService(t)
	ctx := context.Background()

	mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "x")
	if _, err := svc.DeleteDocument(ctx, rspath.MustParse("/alice/notes/a.txt"), nil); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	for _, gone := range []string{"/alice/notes/a.txt", "/alice/notes/", "/alice/"} {
		if rec, _ := ledger.Get(gone); rec != nil {
			t.Errorf("%s still has a ledger row", gone)
		}
	}

	folder, err := svc.GetFolder(ctx, rspath.MustParse("/alice/notes/"), nil)
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	if folder.Version != meta.EmptyFolder {
		t.Errorf("emptied folder version = %s, want %s", folder.Version, meta.EmptyFolder)
	}
	if len(folder.Items) != 0 {
		t.Errorf("items = %v, want empty", folder.Items)
	}
}

func TestEmptyFolderVersionIsConstantAcrossPaths(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	a, err := svc.GetFolder(ctx, rspath.MustParse("/alice/never/"), nil)
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	b, err := svc.GetFolder(ctx, rspath.MustParse("/bob/other/"), nil)
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	if a.Version != b.Version || a.Version != meta.EmptyFolder {
		t.Errorf("empty folder versions differ: %s vs %s", a.Version, b.Version)
	}
}

func TestGetFolderListing(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "hi")
	v2 := mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "bye")
	mustPut(t, svc, "/alice/notes/sub/b.txt", "text/plain", "x")

	folder, err := svc.GetFolder(ctx, rspath.MustParse("/alice/notes/"), nil)
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	if len(folder.Items) != 2 {
		t.Fatalf("items = %v", folder.Items)
	}
	doc := folder.Items["a.txt"]
	if doc.IsFolder || doc.Length != 3 || doc.ContentType != "text/plain" {
		t.Errorf("a.txt item = %+v", doc)
	}
	if doc.Version.String() != v2.String() {
		t.Errorf("a.txt version = %s, want %s", doc.Version, v2)
	}
	sub := folder.Items["sub/"]
	if !sub.IsFolder {
		t.Errorf("sub/ item = %+v", sub)
	}
}

func TestGetFolderSkipsUnaddressableNames(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "hi")

	// Dropped into the base dir behind the coordinator's back; the name
	// fails path validation and must not break the listing.
	weird := filepath.Join(store.Root(), "alice", "notes", "weird..name")
	if err := os.WriteFile(weird, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	folder, err := svc.GetFolder(ctx, rspath.MustParse("/alice/notes/"), nil)
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	if _, ok := folder.Items["weird..name"]; ok {
		t.Error("unaddressable name should not be listed")
	}
	if _, ok := folder.Items["a.txt"]; !ok {
		t.Errorf("items = %v", folder.Items)
	}
}

func TestGetDocumentNotModified(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	v := mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "hi")
	doc, err := svc.GetDocument(ctx, rspath.MustParse("/alice/notes/a.txt"), []string{v.String()})
	if !errors.Is(err, apperr.ErrNotModified) {
		t.Fatalf("err = %v, want ErrNotModified", err)
	}
	if doc.Body != nil {
		t.Error("not-modified response should carry no body")
	}
	if doc.Version.String() != v.String() {
		t.Errorf("version = %s, want %s", doc.Version, v)
	}
}

func TestGetFolderNotModified(t *testing.T) {
	svc, _, ledger := testService(t)
	ctx := context.Background()

	mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "hi")
	rec, _ := ledger.Get("/alice/notes/")
	_, err := svc.GetFolder(ctx, rspath.MustParse("/alice/notes/"), []string{rec.Version.String()})
	if !errors.Is(err, apperr.ErrNotModified) {
		t.Errorf("err = %v, want ErrNotModified", err)
	}
}

func TestPutStaleIfMatchMutatesNothing(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	v1 := mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "hi")
	mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "bye")

	_, err := svc.PutDocument(ctx, rspath.MustParse("/alice/notes/a.txt"), "text/plain",
		[]byte("nope"), []string{v1.String()}, nil)
	if !errors.Is(err, apperr.ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
	got, _ := store.Read(rspath.MustParse("/alice/notes/a.txt"))
	if string(got) != "bye" {
		t.Errorf("content mutated by failed conditional put: %q", got)
	}
}

func TestPutMatchingIfMatchSucceeds(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	v1 := mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "hi")
	v2, err := svc.PutDocument(ctx, rspath.MustParse("/alice/notes/a.txt"), "text/plain",
		[]byte("bye"), []string{"9:stale", v1.String()}, nil)
	if err != nil {
		t.Fatalf("PutDocument: %v", err)
	}
	if v2.Seq != 2 {
		t.Errorf("seq = %d, want 2", v2.Seq)
	}
}

func TestPutIfNoneMatchWildcard(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	// Creates when nothing exists.
	if _, err := svc.PutDocument(ctx, rspath.MustParse("/alice/notes/a.txt"), "text/plain",
		[]byte("hi"), nil, []string{"*"}); err != nil {
		t.Fatalf("create with wildcard: %v", err)
	}

	// Refuses when the document exists, leaving it untouched.
	_, err := svc.PutDocument(ctx, rspath.MustParse("/alice/notes/a.txt"), "text/plain",
		[]byte("clobber"), nil, []string{"*"})
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	got, _ := store.Read(rspath.MustParse("/alice/notes/a.txt"))
	if string(got) != "hi" {
		t.Errorf("content mutated: %q", got)
	}
}

func TestDeleteMismatchReportedBeforeNotFound(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	// Conditional delete of a missing document reports mismatch, not
	// not-found.
	_, err := svc.DeleteDocument(ctx, rspath.MustParse("/alice/notes/ghost.txt"), []string{"1:deadbeef"})
	if !errors.Is(err, apperr.ErrVersionMismatch) {
		t.Errorf("err = %v, want ErrVersionMismatch", err)
	}

	// Unconditional delete of the same document is a plain not-found.
	_, err = svc.DeleteDocument(ctx, rspath.MustParse("/alice/notes/ghost.txt"), nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteStaleIfMatchMutatesNothing(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "hi")
	_, err := svc.DeleteDocument(ctx, rspath.MustParse("/alice/notes/a.txt"), []string{"9:stale"})
	if !errors.Is(err, apperr.ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
	if !store.Exists(rspath.MustParse("/alice/notes/a.txt")) {
		t.Error("document removed by failed conditional delete")
	}
}

func TestPutConflictOnDocumentAncestor(t *testing.T) {
	svc, store, ledger := testService(t)
	ctx := context.Background()

	mustPut(t, svc, "/alice/pub/x.txt", "text/plain", "doc")
	_, err := svc.PutDocument(ctx, rspath.MustParse("/alice/pub/x.txt/y.txt"), "text/plain",
		[]byte("nested"), nil, nil)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	// x.txt is still a document, nothing new was versioned.
	got, _ := store.Read(rspath.MustParse("/alice/pub/x.txt"))
	if string(got) != "doc" {
		t.Errorf("x.txt content = %q", got)
	}
	if rec, _ := ledger.Get("/alice/pub/x.txt/y.txt"); rec != nil {
		t.Error("conflicting put left a ledger row")
	}
}

func TestUsage(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	mustPut(t, svc, "/alice/notes/a.txt", "text/plain", "abc")
	mustPut(t, svc, "/alice/notes/sub/b.txt", "text/plain", "defgh")

	size, human, err := svc.Usage(ctx, rspath.MustParse("/alice/"))
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if size != 8 {
		t.Errorf("size = %d, want 8", size)
	}
	if human != "8 B" {
		t.Errorf("human = %q", human)
	}
}

func TestHumanSize(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2 kB"},
		{3 << 20, "3.00 MB"},
		{5 << 30, "5.00 GB"},
	}
	for _, c := range cases {
		if got := humanSize(c.n); got != c.want {
			t.Errorf("humanSize(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}
