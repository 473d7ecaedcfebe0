package supervisor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen-build/pkg/models"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "src/App.tsx", "src/App.tsx"},
		{"leading dot slash", "./src/App.tsx", "src/App.tsx"},
		{"leading slash", "/index.html", "index.html"},
		{"backslashes", `src\components\Nav.tsx`, "src/components/Nav.tsx"},
		{"redundant segments", "src/./pages/../App.tsx", "src/App.tsx"},
		{"whitespace", "  index.html ", "index.html"},
		{"empty", "", ""},
		{"dot only", ".", ""},
		{"parent escape", "../../etc/passwd", ""},
		{"parent escape after clean", "src/../../secrets.env", ""},
		{"dot dot only", "..", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizePath(tt.in))
		})
	}
}

func TestFileSetRejectsTraversalPaths(t *testing.T) {
	t.Parallel()

	fs := NewFileSet(nil)
	assert.False(t, fs.Apply(FileChange{Action: ActionCreate, Path: "../../etc/passwd", Content: "x"}))
	assert.False(t, fs.Apply(FileChange{Action: ActionUpdate, Path: "src/../../evil.sh", Content: "x"}))
	assert.Zero(t, fs.Len())
}

func TestFileSetFirstCreateWins(t *testing.T) {
	t.Parallel()

	fs := NewFileSet(nil)
	require.True(t, fs.Apply(FileChange{Action: ActionCreate, Path: "index.html", Content: "first"}))
	assert.False(t, fs.Apply(FileChange{Action: ActionCreate, Path: "index.html", Content: "second"}))

	content, ok := fs.Get("index.html")
	require.True(t, ok)
	assert.Equal(t, "first", content)
}

func TestFileSetUpdateReplaces(t *testing.T) {
	t.Parallel()

	fs := NewFileSet([]models.ProjectFile{{Path: "app.js", Content: "old", Kind: models.FileKindFile}})
	require.True(t, fs.Apply(FileChange{Action: ActionUpdate, Path: "app.js", Content: "new"}))

	content, _ := fs.Get("app.js")
	assert.Equal(t, "new", content)
}

func TestFileSetDeleteIgnored(t *testing.T) {
	t.Parallel()

	fs := NewFileSet([]models.ProjectFile{{Path: "keep.js", Content: "x", Kind: models.FileKindFile}})
	assert.False(t, fs.Apply(FileChange{Action: ActionDelete, Path: "keep.js"}))
	assert.True(t, fs.Has("keep.js"))
}

func TestFileSetCreateNormalizesBeforeCollision(t *testing.T) {
	t.Parallel()

	fs := NewFileSet(nil)
	require.True(t, fs.Apply(FileChange{Action: ActionCreate, Path: "src/App.tsx", Content: "a"}))
	assert.False(t, fs.Apply(FileChange{Action: ActionCreate, Path: "./src/App.tsx", Content: "b"}),
		"aliased path must hit the same entry")
	assert.Equal(t, 1, fs.Len())
}

func TestFileSetSkipsFolders(t *testing.T) {
	t.Parallel()

	fs := NewFileSet([]models.ProjectFile{
		{Path: "src", Kind: models.FileKindFolder},
		{Path: "src/main.ts", Content: "boot()", Kind: models.FileKindFile},
	})
	assert.Equal(t, 1, fs.Len())
	assert.True(t, fs.Has("src/main.ts"))
}

func TestFileSetTruncatedContext(t *testing.T) {
	t.Parallel()

	fs := NewFileSet(nil)
	fs.Apply(FileChange{Action: ActionCreate, Path: "big.js", Content: strings.Repeat("x", 600)})
	fs.Apply(FileChange{Action: ActionCreate, Path: "small.js", Content: "tiny"})

	out := fs.TruncatedContext(100)
	assert.Contains(t, out, "=== big.js ===")
	assert.Contains(t, out, "[truncated]")
	assert.Contains(t, out, "tiny")
	assert.NotContains(t, out, strings.Repeat("x", 101))
}

func TestFileSetConventionalEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		paths []string
		want  string
		found bool
	}{
		{"index html preferred", []string{"src/main.tsx", "index.html"}, "index.html", true},
		{"main tsx next", []string{"src/main.tsx", "src/util.ts"}, "src/main.tsx", true},
		{"none", []string{"styles.css", "README.md"}, "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs := NewFileSet(nil)
			for _, p := range tt.paths {
				fs.Apply(FileChange{Action: ActionCreate, Path: p, Content: "x"})
			}
			entry, found := fs.ConventionalEntry()
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, entry)
		})
	}
}

func TestFileSetSnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	fs := NewFileSet(nil)
	fs.Apply(FileChange{Action: ActionCreate, Path: "a.js", Content: "one"})

	snap := fs.Snapshot()
	fs.Apply(FileChange{Action: ActionUpdate, Path: "a.js", Content: "two"})
	assert.Equal(t, "one", snap["a.js"])
}
