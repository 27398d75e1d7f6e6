package storage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/rspath"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the storage base directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute base directory.
func (f *FS) Root() string { return f.root }

// abs maps a validated path onto the base directory. rspath.Parse has already
// rejected traversal, so this is a plain join.
func (f *FS) abs(p rspath.Path) string {
	return filepath.Join(f.root, filepath.FromSlash(p.Rel()))
}

// Exists reports whether p resolves to a regular file (documents) or a
// directory (folders). Stats directly on every call so a read immediately
// after a write never sees stale existence.
func (f *FS) Exists(p rspath.Path) bool {
	info, err := os.Stat(f.abs(p))
	if err != nil {
		return false
	}
	if p.IsFolder() {
		return info.IsDir()
	}
	return info.Mode().IsRegular()
}

// Read returns the raw bytes of the document at p.
func (f *FS) Read(p rspath.Path) ([]byte, error) {
	data, err := os.ReadFile(f.abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: read %s: %w", p, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// Open returns a streaming reader for the document at p and its byte length.
func (f *FS) Open(p rspath.Path) (io.ReadCloser, int64, error) {
	file, err := os.Open(f.abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("storage: open %s: %w", p, apperr.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("storage: open %s: %w", p, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("storage: stat %s: %w", p, err)
	}
	return file, info.Size(), nil
}

// Write atomically stores content at p: tmp file → fsync → rename. Before
// touching anything it verifies that no ancestor segment is a regular file
// and that p itself is not a directory; either is a conflict and leaves the
// tree unchanged. Returns the ancestor folder chain user-root first.
func (f *FS) Write(p rspath.Path, content []byte) ([]rspath.Path, error) {
	ancestors := p.AncestorsFromRoot()
	for _, a := range ancestors {
		if info, err := os.Stat(f.abs(a)); err == nil && !info.IsDir() {
			return nil, fmt.Errorf("storage: %s is a document, cannot create folder: %w", a, apperr.ErrConflict)
		}
	}
	abs := f.abs(p)
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return nil, fmt.Errorf("storage: %s is a folder, cannot write document: %w", p, apperr.ErrConflict)
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".othala-tmp-*")
	if err != nil {
		return nil, fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return nil, fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return nil, fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return ancestors, nil
}

// Delete removes the document at p, then prunes each ancestor directory that
// became empty, walking up until a non-empty ancestor or past the user root.
// Returned paths start with the document, pruned folders innermost first.
func (f *FS) Delete(p rspath.Path) ([]rspath.Path, error) {
	abs := f.abs(p)
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: delete %s: %w", p, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: delete %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("storage: %s is a folder, cannot delete document: %w", p, apperr.ErrConflict)
	}
	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("storage: delete %s: %w", p, err)
	}

	removed := []rspath.Path{p}
	for _, a := range p.AncestorsToRoot() {
		dirAbs := f.abs(a)
		entries, err := os.ReadDir(dirAbs)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(dirAbs); err != nil {
			break
		}
		removed = append(removed, a)
	}
	return removed, nil
}

// ListFolder returns the direct children of p. Subfolder names carry a
// trailing slash; document entries carry their byte length.
func (f *FS) ListFolder(p rspath.Path) (map[string]Node, error) {
	out := make(map[string]Node)
	entries, err := os.ReadDir(f.abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("storage: list %s: %w", p, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			out[e.Name()+"/"] = Node{IsFolder: true}
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("storage: list %s: %w", p, err)
		}
		out[e.Name()] = Node{Size: info.Size()}
	}
	return out, nil
}

// FolderSize returns the total byte length of every document below p,
// zero when the folder does not exist.
func (f *FS) FolderSize(p rspath.Path) (int64, error) {
	var total int64
	err := filepath.WalkDir(f.abs(p), func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("storage: folder size %s: %w", p, err)
	}
	return total, nil
}

// AllDocuments walks the base directory and returns every stored document path.
func (f *FS) AllDocuments() ([]rspath.Path, error) {
	var out []rspath.Path
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		p, err := rspath.Parse("/" + filepath.ToSlash(rel))
		if err != nil {
			return nil // foreign file in the base dir, not ours
		}
		if strings.HasPrefix(p.Name(), ".othala-tmp-") {
			return nil
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: walk: %w", err)
	}
	return out, nil
}

var _ Provider = (*FS)(nil)
