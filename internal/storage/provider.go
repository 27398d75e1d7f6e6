// Package storage implements the filesystem-backed document store. The base
// directory mirrors the remoteStorage path hierarchy exactly, so files and
// directories share one namespace and a name can never be both.
package storage

import (
	"io"

	"github.com/starford/othala/internal/rspath"
)

// Node is one entry in a folder listing.
type Node struct {
	IsFolder bool
	Size     int64 // byte length, documents only
}

// Provider is the interface for document blob operations.
type Provider interface {
	// Exists reports whether the path resolves to a regular file (documents)
	// or a directory (folders).
	Exists(p rspath.Path) bool
	// Read returns the raw bytes of the document at p.
	Read(p rspath.Path) ([]byte, error)
	// Open returns a streaming reader for the document at p plus its length.
	Open(p rspath.Path) (io.ReadCloser, int64, error)
	// Write atomically stores content at p, creating ancestor directories as
	// needed, and returns the ancestor folder chain user-root first.
	Write(p rspath.Path, content []byte) ([]rspath.Path, error)
	// Delete removes the document at p and every ancestor directory that
	// becomes empty, walking upward until a non-empty ancestor survives.
	// Returned paths start with the document, then the pruned folders
	// innermost first.
	Delete(p rspath.Path) ([]rspath.Path, error)
	// ListFolder returns the direct children of a folder, keyed by entry name
	// (subfolders carry a trailing slash). A missing directory yields an
	// empty map, not an error.
	ListFolder(p rspath.Path) (map[string]Node, error)
	// FolderSize returns the total byte length of all documents below p,
	// zero when the folder does not exist.
	FolderSize(p rspath.Path) (int64, error)
	// AllDocuments walks the whole base directory and returns every stored
	// document path.
	AllDocuments() ([]rspath.Path, error)
}
