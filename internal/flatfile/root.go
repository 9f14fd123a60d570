// Package flatfile reads and writes delimited files beneath a fixed storage
// root. Every caller-supplied path is resolved against the root and refused if
// it would land outside it.
package flatfile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// PathError means a path was refused before any file was touched.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// Root is the storage directory all transfers read from and write to.
type Root struct {
	dir string
}

// NewRoot creates dir if needed and returns a Root anchored at its absolute
// path.
func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &Root{dir: abs}, nil
}

// Dir returns the absolute root directory.
func (r *Root) Dir() string { return r.dir }

// Resolve maps a root-relative path to an absolute path under the root.
func (r *Root) Resolve(rel string) (string, error) {
	switch {
	case strings.TrimSpace(rel) == "":
		return "", &PathError{Path: rel, Reason: "empty"}
	case strings.ContainsRune(rel, 0):
		return "", &PathError{Path: rel, Reason: "contains NUL"}
	case filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`):
		return "", &PathError{Path: rel, Reason: "must be relative to the storage root"}
	}

	full := filepath.Join(r.dir, filepath.FromSlash(rel))
	inside, err := filepath.Rel(r.dir, full)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", &PathError{Path: rel, Reason: "escapes the storage root"}
	}

	// A symlink inside the root may still point out of it. Check the deepest
	// existing ancestor since the file itself may not exist yet.
	if real, ok := existingAncestor(full); ok {
		rootReal, err := filepath.EvalSymlinks(r.dir)
		if err != nil {
			rootReal = r.dir
		}
		if rr, err := filepath.Rel(rootReal, real); err != nil || rr == ".." || strings.HasPrefix(rr, ".."+string(filepath.Separator)) {
			return "", &PathError{Path: rel, Reason: "resolves outside the storage root"}
		}
	}
	return full, nil
}

func existingAncestor(path string) (string, bool) {
	for p := path; ; {
		if real, err := filepath.EvalSymlinks(p); err == nil {
			return real, true
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", false
		}
		p = parent
	}
}

// Open opens a root-relative file for reading.
func (r *Root) Open(rel string) (*os.File, error) {
	full, err := r.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Create truncates or creates a root-relative file, making parent directories
// as needed.
func (r *Root) Create(rel string) (*os.File, error) {
	full, err := r.Resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", rel, err)
	}
	return os.Create(full)
}

// FileInfo describes one file under the root.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// List returns regular files under the root sorted by path. Paths are
// root-relative with forward slashes.
func (r *Root) List() ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(r.dir, path)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Path: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", r.dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ExportName returns the default file name for an export of table.
func ExportName(table string, now time.Time) string {
	return fmt.Sprintf("export_%s_%s.csv", table, now.Format("20060102_150405"))
}
