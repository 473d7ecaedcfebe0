package ai

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare object",
			in:   `{"intent":"build"}`,
			want: `{"intent":"build"}`,
		},
		{
			name: "fenced with language tag",
			in:   "```json\n{\"intent\":\"chat\"}\n```",
			want: `{"intent":"chat"}`,
		},
		{
			name: "fenced without language tag",
			in:   "```\n[1,2,3]\n```",
			want: `[1,2,3]`,
		},
		{
			name: "prose before object",
			in:   "Let me think about this.\nHere is the plan:\n{\"phases\":[]}",
			want: `{"phases":[]}`,
		},
		{
			name: "prose after object",
			in:   "{\"ok\":true}\nHope that helps!",
			want: `{"ok":true}`,
		},
		{
			name: "rightmost valid wins",
			in:   `first {"draft":1} then the real answer {"final":2}`,
			want: `{"final":2}`,
		},
		{
			name: "invalid last block falls back to earlier",
			in:   `{"good":1} trailing junk {broken`,
			want: `{"good":1}`,
		},
		{
			name: "braces inside string literals",
			in:   `{"content":"if (x) { return \"}\"; }"}`,
			want: `{"content":"if (x) { return \"}\"; }"}`,
		},
		{
			name: "nested structures",
			in:   "The result is\n```json\n{\"a\":{\"b\":[{\"c\":1}]}}\n```\ndone",
			want: `{"a":{"b":[{"c":1}]}}`,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			raw, err := ExtractJSON(tc.in)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(raw))
		})
	}
}

func TestExtractJSONMalformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"no json here at all",
		"{not: valid}",
		"```\nstill not json\n```",
	} {
		_, err := ExtractJSON(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.Is(err, ErrMalformedResponse))
	}
}

func TestExtractInto(t *testing.T) {
	t.Parallel()

	var out struct {
		Intent string `json:"intent"`
		Score  int    `json:"score"`
	}
	err := ExtractInto("```json\n{\"intent\":\"build\",\"score\":7}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "build", out.Intent)
	assert.Equal(t, 7, out.Score)

	// A valid array that cannot unmarshal into the struct is malformed for
	// the caller's purposes.
	err = ExtractInto("[1,2]", &out)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestBalancedSpansIgnoresUnbalanced(t *testing.T) {
	t.Parallel()

	spans := balancedSpans(`{"a":1} {"unclosed": [1,2 {"b":2}`)
	require.Len(t, spans, 1)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(spans[0]), &v))
	assert.Contains(t, v, "a")
}
