package supervisor

import (
	"fmt"
	"path"
	"strings"

	"lumen-build/pkg/models"
)

// conventionalEntries are probed in order when no explicit entry point has
// been declared by a build step.
var conventionalEntries = []string{
	"index.html",
	"src/main.tsx",
	"src/main.ts",
	"src/index.tsx",
	"src/index.ts",
	"src/App.tsx",
	"index.js",
	"main.go",
}

// FileSet is the in-memory working copy of a project's files during a build.
// Paths keep insertion order so snapshots and prompt context are stable.
type FileSet struct {
	order   []string
	entries map[string]string
}

func NewFileSet(files []models.ProjectFile) *FileSet {
	fs := &FileSet{entries: make(map[string]string, len(files))}
	for _, f := range files {
		if f.Kind == models.FileKindFolder {
			continue
		}
		fs.put(NormalizePath(f.Path), f.Content)
	}
	return fs
}

// NormalizePath cleans a model-produced path: backslashes become slashes,
// leading "./" and "/" are stripped, and redundant segments are collapsed.
// Paths that still point above the project root after cleaning are rejected
// with an empty result.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ""
	}
	return cleaned
}

func (fs *FileSet) put(p, content string) {
	if _, ok := fs.entries[p]; !ok {
		fs.order = append(fs.order, p)
	}
	fs.entries[p] = content
}

// Apply merges one change into the set and reports whether anything changed.
// A create against an existing path is a no-op: the first writer of a path
// wins and later steps may only update it explicitly. Deletes are ignored
// because project files are never removed automatically.
func (fs *FileSet) Apply(change FileChange) bool {
	p := NormalizePath(change.Path)
	if p == "" {
		return false
	}
	switch change.Action {
	case ActionCreate:
		if _, exists := fs.entries[p]; exists {
			return false
		}
		fs.put(p, change.Content)
		return true
	case ActionUpdate, "":
		fs.put(p, change.Content)
		return true
	case ActionDelete:
		return false
	default:
		return false
	}
}

// Has reports whether a path exists in the set.
func (fs *FileSet) Has(p string) bool {
	_, ok := fs.entries[NormalizePath(p)]
	return ok
}

// Get returns the content for a path.
func (fs *FileSet) Get(p string) (string, bool) {
	c, ok := fs.entries[NormalizePath(p)]
	return c, ok
}

// Paths returns the paths in insertion order.
func (fs *FileSet) Paths() []string {
	out := make([]string, len(fs.order))
	copy(out, fs.order)
	return out
}

func (fs *FileSet) Len() int { return len(fs.order) }

// Snapshot returns an independent copy of the current path to content map.
func (fs *FileSet) Snapshot() map[string]string {
	out := make(map[string]string, len(fs.entries))
	for p, c := range fs.entries {
		out[p] = c
	}
	return out
}

// capContent cuts content at max characters, marking the cut.
func capContent(content string, max int) string {
	if max <= 0 || len(content) <= max {
		return content
	}
	return content[:max] + "\n[truncated]"
}

// TruncatedContext renders the file set as prompt context, capping each
// file's content at maxPerFile characters so large projects stay within the
// model's window.
func (fs *FileSet) TruncatedContext(maxPerFile int) string {
	var b strings.Builder
	for _, p := range fs.order {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", p, capContent(fs.entries[p], maxPerFile))
	}
	return b.String()
}

// ConventionalEntry returns the first conventional entry file present in the
// set, or false when none exists.
func (fs *FileSet) ConventionalEntry() (string, bool) {
	for _, candidate := range conventionalEntries {
		if _, ok := fs.entries[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}
