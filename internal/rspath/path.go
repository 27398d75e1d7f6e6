// Package rspath parses remoteStorage paths into their semantic components.
//
// A path looks like /<user>/[public/]<module>/.../<name> for documents, or the
// same with a trailing slash for folders. Parsing is pure; every accessor is a
// function of the parsed segments and never touches the filesystem.
package rspath

import (
	"fmt"
	"strings"

	"github.com/starford/othala/internal/apperr"
)

// Path is an immutable, validated remoteStorage address.
type Path struct {
	raw      string
	parts    []string // segments after the leading slash, trailing "" dropped
	isFolder bool
}

// Parse validates raw and returns its Path. Rejected inputs: not starting
// with "/", containing ".." or "//", or too short to carry a user segment.
func Parse(raw string) (Path, error) {
	if !strings.HasPrefix(raw, "/") {
		return Path{}, fmt.Errorf("rspath: %q must start with a slash: %w", raw, apperr.ErrInvalidPath)
	}
	if strings.Contains(raw, "..") {
		return Path{}, fmt.Errorf("rspath: %q contains a parent reference: %w", raw, apperr.ErrInvalidPath)
	}
	if strings.Contains(raw, "//") {
		return Path{}, fmt.Errorf("rspath: %q contains an empty segment: %w", raw, apperr.ErrInvalidPath)
	}
	segs := strings.Split(raw, "/")
	if len(segs) < 3 {
		return Path{}, fmt.Errorf("rspath: %q has no room for a user segment: %w", raw, apperr.ErrInvalidPath)
	}

	p := Path{raw: raw, isFolder: strings.HasSuffix(raw, "/")}
	p.parts = segs[1:]
	if p.isFolder {
		p.parts = p.parts[:len(p.parts)-1]
	}
	return p, nil
}

// MustParse parses raw and panics on failure. Intended for literals in tests
// and internally derived paths that are valid by construction.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original raw path.
func (p Path) String() string { return p.raw }

// UserID returns the owning user, the first path segment.
func (p Path) UserID() string { return p.parts[0] }

// IsPublic reports whether the path lives under the user's public/ subtree.
func (p Path) IsPublic() bool { return len(p.parts) >= 2 && p.parts[1] == "public" }

// IsFolder reports whether the path names a folder (trailing slash).
func (p Path) IsFolder() bool { return p.isFolder }

// IsDocument reports whether the path names a document.
func (p Path) IsDocument() bool { return !p.isFolder }

// ModuleName returns the scope-granting module segment, the first segment
// after the user (and after "public" when present). ok is false for the user
// root and the bare public folder, which carry no module.
func (p Path) ModuleName() (name string, ok bool) {
	idx := 1
	if p.IsPublic() {
		idx = 2
	}
	if len(p.parts) <= idx {
		return "", false
	}
	return p.parts[idx], true
}

// Name returns the last path segment, with a trailing slash for folders.
// This is the key a parent folder listing uses for the entry.
func (p Path) Name() string {
	name := p.parts[len(p.parts)-1]
	if p.isFolder {
		name += "/"
	}
	return name
}

// FolderPath returns the path itself for folders, or the nearest enclosing
// folder for documents.
func (p Path) FolderPath() Path {
	if p.isFolder {
		return p
	}
	return MustParse(p.raw[:strings.LastIndex(p.raw, "/")+1])
}

// IsUserRoot reports whether the path is the user's top-level folder.
func (p Path) IsUserRoot() bool { return p.isFolder && len(p.parts) == 1 }

// AncestorsToRoot returns the chain of enclosing folders from the immediate
// parent up to and including the user root. For the user root itself the
// chain is empty.
func (p Path) AncestorsToRoot() []Path {
	if p.IsUserRoot() {
		return nil
	}
	var out []Path
	cur := p.FolderPath()
	if p.isFolder {
		cur = parentOf(p)
	}
	for {
		out = append(out, cur)
		if cur.IsUserRoot() {
			return out
		}
		cur = parentOf(cur)
	}
}

// AncestorsFromRoot is AncestorsToRoot reversed: user root first.
func (p Path) AncestorsFromRoot() []Path {
	up := p.AncestorsToRoot()
	out := make([]Path, len(up))
	for i, a := range up {
		out[len(up)-1-i] = a
	}
	return out
}

// Rel returns the path relative to a storage base directory, without leading
// or trailing slashes, for use with filepath.Join.
func (p Path) Rel() string {
	return strings.Join(p.parts, "/")
}

// parentOf returns the folder enclosing a folder path. Not defined for the
// user root.
func parentOf(folder Path) Path {
	trimmed := strings.TrimSuffix(folder.raw, "/")
	return MustParse(trimmed[:strings.LastIndex(trimmed, "/")+1])
}
