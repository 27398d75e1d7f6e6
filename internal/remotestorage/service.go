// Package remotestorage implements the storage coordinator: the one component
// that touches both the document store and the version ledger, and owns the
// cross-store invariants (a ledger row exists iff the path exists, and every
// write ripples a version bump up the folder tree).
package remotestorage

import (
	"context"
	"fmt"
	"io"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/meta"
	"github.com/starford/othala/internal/rspath"
	"github.com/starford/othala/internal/storage"
)

// Service coordinates the document store and the version ledger.
type Service struct {
	docs   storage.Provider
	ledger *meta.DB
}

// NewService creates a new storage coordinator.
func NewService(docs storage.Provider, ledger *meta.DB) *Service {
	return &Service{docs: docs, ledger: ledger}
}

// Document is the result of a successful document read. Body streams the
// stored bytes; the caller must close it.
type Document struct {
	Body        io.ReadCloser
	Length      int64
	Version     meta.Version
	ContentType string
}

// FolderItem is one entry in a folder view. Version and ContentType are only
// set for documents; clients descend into subfolders for their detail.
type FolderItem struct {
	IsFolder    bool
	Length      int64
	Version     meta.Version
	ContentType string
}

// Folder is the computed view of a folder: its own version plus its direct
// children keyed by entry name (subfolders with a trailing slash). Folders
// are never stored; this is a projection over the two stores.
type Folder struct {
	Version meta.Version
	Items   map[string]FolderItem
}

// PutDocument stores content at p after checking the conditional headers
// against the current ledger version, then bumps every ancestor folder's
// version in one ledger transaction. The returned version is the document's
// new one.
//
// The bytes land before the ledger is touched, so a crash in between leaves
// a written document without a version; the reconciliation sweep repairs
// that window.
func (s *Service) PutDocument(_ context.Context, p rspath.Path, contentType string, content []byte, ifMatch, ifNoneMatch []string) (meta.Version, error) {
	if p.IsFolder() {
		return meta.Version{}, fmt.Errorf("remotestorage: cannot put a folder %s: %w", p, apperr.ErrInvalidPath)
	}

	cur, err := s.ledger.Get(p.String())
	if err != nil {
		return meta.Version{}, err
	}
	if len(ifMatch) > 0 && (cur == nil || !versionIn(ifMatch, cur.Version)) {
		return meta.Version{}, fmt.Errorf("remotestorage: put %s: %w", p, apperr.ErrVersionMismatch)
	}
	if hasWildcard(ifNoneMatch) && cur != nil {
		return meta.Version{}, fmt.Errorf("remotestorage: put %s: %w", p, apperr.ErrAlreadyExists)
	}

	ancestors, err := s.docs.Write(p, content)
	if err != nil {
		return meta.Version{}, err
	}
	if err := s.ledger.CascadeUpsert(p.String(), contentType, pathStrings(ancestors)); err != nil {
		return meta.Version{}, err
	}

	rec, err := s.ledger.Get(p.String())
	if err != nil {
		return meta.Version{}, err
	}
	if rec == nil {
		return meta.Version{}, fmt.Errorf("remotestorage: put %s: row vanished: %w", p, apperr.ErrLedgerInvariant)
	}
	return rec.Version, nil
}

// DeleteDocument removes the document at p. The If-Match check runs before
// the existence check, so a conditional delete of a missing document reports
// a mismatch, not a not-found; clients depend on that ordering. Returns the
// version the document had before the delete.
func (s *Service) DeleteDocument(_ context.Context, p rspath.Path, ifMatch []string) (meta.Version, error) {
	if p.IsFolder() {
		return meta.Version{}, fmt.Errorf("remotestorage: cannot delete a folder %s: %w", p, apperr.ErrInvalidPath)
	}

	cur, err := s.ledger.Get(p.String())
	if err != nil {
		return meta.Version{}, err
	}
	if len(ifMatch) > 0 && (cur == nil || !versionIn(ifMatch, cur.Version)) {
		return meta.Version{}, fmt.Errorf("remotestorage: delete %s: %w", p, apperr.ErrVersionMismatch)
	}
	if cur == nil {
		return meta.Version{}, fmt.Errorf("remotestorage: delete %s: %w", p, apperr.ErrNotFound)
	}

	removed, err := s.docs.Delete(p)
	if err != nil {
		return meta.Version{}, err
	}

	// Ancestors not pruned on disk survive with a version bump.
	pruned := make(map[string]bool, len(removed))
	for _, r := range removed {
		pruned[r.String()] = true
	}
	var bump []string
	for _, a := range p.AncestorsToRoot() {
		if !pruned[a.String()] {
			bump = append(bump, a.String())
		}
	}
	if err := s.ledger.CascadeDelete(pathStrings(removed), bump); err != nil {
		return meta.Version{}, err
	}
	return cur.Version, nil
}

// GetDocument returns a streaming handle on the document at p, or
// apperr.ErrNotModified when ifNoneMatch already carries the current version.
func (s *Service) GetDocument(_ context.Context, p rspath.Path, ifNoneMatch []string) (*Document, error) {
	rec, err := s.ledger.Get(p.String())
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("remotestorage: get %s: %w", p, apperr.ErrNotFound)
	}
	if versionIn(ifNoneMatch, rec.Version) {
		return &Document{Version: rec.Version, ContentType: rec.ContentType},
			fmt.Errorf("remotestorage: get %s: %w", p, apperr.ErrNotModified)
	}

	body, length, err := s.docs.Open(p)
	if err != nil {
		return nil, err
	}
	return &Document{
		Body:        body,
		Length:      length,
		Version:     rec.Version,
		ContentType: rec.ContentType,
	}, nil
}

// GetFolder computes the folder view at p. Nonexistent or empty folders all
// share the constant meta.EmptyFolder version so their listings cache
// identically. Documents that have bytes on disk but no ledger row yet are
// left out of the listing until the sweep versions them.
func (s *Service) GetFolder(_ context.Context, p rspath.Path, ifNoneMatch []string) (*Folder, error) {
	version := meta.EmptyFolder
	rec, err := s.ledger.Get(p.String())
	if err != nil {
		return nil, err
	}
	if rec != nil {
		version = rec.Version
	}
	if versionIn(ifNoneMatch, version) {
		return &Folder{Version: version}, fmt.Errorf("remotestorage: get %s: %w", p, apperr.ErrNotModified)
	}

	nodes, err := s.docs.ListFolder(p)
	if err != nil {
		return nil, err
	}
	items := make(map[string]FolderItem, len(nodes))
	for name, node := range nodes {
		if node.IsFolder {
			items[name] = FolderItem{IsFolder: true}
			continue
		}
		// Entry names come straight off the directory; out-of-band files
		// with unaddressable names stay invisible, like in AllDocuments.
		child, err := rspath.Parse(p.String() + name)
		if err != nil {
			continue
		}
		childRec, err := s.ledger.Get(child.String())
		if err != nil {
			return nil, err
		}
		if childRec == nil {
			continue
		}
		items[name] = FolderItem{
			Length:      node.Size,
			Version:     childRec.Version,
			ContentType: childRec.ContentType,
		}
	}
	return &Folder{Version: version, Items: items}, nil
}

// Usage returns the recursive byte count under the folder p along with a
// human-readable rendering for UI display.
func (s *Service) Usage(_ context.Context, p rspath.Path) (int64, string, error) {
	size, err := s.docs.FolderSize(p)
	if err != nil {
		return 0, "", err
	}
	return size, humanSize(size), nil
}

// humanSize formats a byte count with 1024-based thresholds: fixed decimals
// for MB and GB, whole numbers below that.
func humanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%d kB", n/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// versionIn reports whether list accepts v, either literally or via the
// wildcard.
func versionIn(list []string, v meta.Version) bool {
	want := v.String()
	for _, s := range list {
		if s == "*" || s == want {
			return true
		}
	}
	return false
}

func hasWildcard(list []string) bool {
	for _, s := range list {
		if s == "*" {
			return true
		}
	}
	return false
}

func pathStrings(paths []rspath.Path) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}
