package ai

import "strings"

// normalizeAPIKey strips the junk that shows up in pasted provider keys:
// wrapping quotes, a Bearer prefix, real and escaped control characters, and
// hidden unicode (zero-width spaces, BOMs).
func normalizeAPIKey(key string) string {
	k := strings.TrimSpace(key)
	k = strings.Trim(k, `"'`)
	k = strings.TrimSpace(strings.TrimPrefix(k, "Bearer "))

	for _, seq := range []string{"\\n", "\\r", "\\t"} {
		k = strings.ReplaceAll(k, seq, "")
	}

	var b strings.Builder
	b.Grow(len(k))
	for _, r := range k {
		switch r {
		case '\n', '\r', '\t', '\u200b', '\u200c', '\u200d', '\ufeff':
			continue
		}
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
