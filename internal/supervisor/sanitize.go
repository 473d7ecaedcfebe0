package supervisor

import (
	"regexp"
	"strings"
)

var fencedContent = regexp.MustCompile("(?s)\\A```[a-zA-Z0-9+_.-]*\\r?\\n(.*?)\\r?\\n?```\\s*\\z")

// htmlEntities maps the entity forms models sometimes leak into code files
// back to their literal characters.
var htmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#x27;", "'",
	"&amp;", "&", // last so it does not reintroduce entities
)

// markupExtensions are file types where entities may be intentional and are
// left untouched.
var markupExtensions = map[string]bool{
	".md":    true,
	".html":  true,
	".htm":   true,
	".xml":   true,
	".svg":   true,
	".mdx":   true,
	".patch": true,
}

// SanitizeContent normalizes model-produced file content before it is merged:
// surrounding code fences are stripped, double-escaped newlines are decoded,
// and HTML entities in non-markup files are restored to literal characters.
func SanitizeContent(path, content string) string {
	if m := fencedContent.FindStringSubmatch(content); m != nil {
		content = m[1]
	}

	if looksDoubleEscaped(content) {
		content = decodeEscapes(content)
	}

	if !markupExtensions[extensionOf(path)] {
		content = htmlEntities.Replace(content)
	}

	return content
}

func extensionOf(p string) string {
	if i := strings.LastIndex(p, "."); i >= 0 {
		return strings.ToLower(p[i:])
	}
	return ""
}

// looksDoubleEscaped detects content serialized twice: literal backslash-n
// sequences with no real newlines anywhere in a multi-statement body.
func looksDoubleEscaped(content string) bool {
	return !strings.Contains(content, "\n") &&
		strings.Count(content, `\n`) >= 2
}

func decodeEscapes(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for i := 0; i < len(content); i++ {
		if content[i] != '\\' || i+1 >= len(content) {
			b.WriteByte(content[i])
			continue
		}
		switch content[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(content[i])
			b.WriteByte(content[i+1])
		}
		i++
	}
	return b.String()
}
