package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		in   string
		want string
	}{
		{
			name: "strips surrounding fence",
			path: "app.js",
			in:   "```javascript\nconst a = 1;\n```",
			want: "const a = 1;",
		},
		{
			name: "fence without language",
			path: "index.html",
			in:   "```\n<html></html>\n```",
			want: "<html></html>",
		},
		{
			name: "inner fences preserved",
			path: "README.md",
			in:   "Usage:\n```\nnpm start\n```\nDone.",
			want: "Usage:\n```\nnpm start\n```\nDone.",
		},
		{
			name: "double escaped newlines decoded",
			path: "main.ts",
			in:   `const a = 1;\nconst b = 2;\nconsole.log(a + b);`,
			want: "const a = 1;\nconst b = 2;\nconsole.log(a + b);",
		},
		{
			name: "real newlines left alone",
			path: "main.ts",
			in:   "const s = \"a\\nb\";\nrun();",
			want: "const s = \"a\\nb\";\nrun();",
		},
		{
			name: "entities restored in code",
			path: "App.tsx",
			in:   "if (a &lt; b &amp;&amp; c &gt; d) { s = &quot;x&quot;; }",
			want: `if (a < b && c > d) { s = "x"; }`,
		},
		{
			name: "entities kept in markdown",
			path: "notes.md",
			in:   "Use &lt;div&gt; sparingly.",
			want: "Use &lt;div&gt; sparingly.",
		},
		{
			name: "entities kept in html",
			path: "index.html",
			in:   "<p>5 &lt; 6</p>",
			want: "<p>5 &lt; 6</p>",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SanitizeContent(tt.path, tt.in))
		})
	}
}
