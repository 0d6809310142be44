package highlight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHighlightSingleMatchWithWindow(t *testing.T) {
	got := Highlight("the quick install guide here", "install", 5)

	assert.Equal(t, []string{"uick <mark>install</mark> guid"}, got)
}

func TestHighlightClampsToTextBounds(t *testing.T) {
	got := Highlight("install now", "install", 15)

	assert.Equal(t, []string{"<mark>install</mark> now"}, got)
}

func TestHighlightIsCaseInsensitiveAndKeepsOriginalCase(t *testing.T) {
	got := Highlight("How to Install the CLI", "install", 3)

	assert.Equal(t, []string{"to <mark>Install</mark> th"}, got)
}

func TestHighlightTreatsQueryAsLiteral(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		query string
		want  []string
	}{
		{
			name:  "dot is not a wildcard",
			text:  "a.b axb",
			query: "a.b",
			want:  []string{"<mark>a.b</mark> ax"},
		},
		{
			name:  "unbalanced bracket",
			text:  "call f(x then",
			query: "f(",
			want:  []string{"ll <mark>f(</mark>x t"},
		},
		{
			name:  "pattern characters that match nothing literally",
			text:  "plain text",
			query: ".*",
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Highlight(tt.text, tt.query, 3))
		})
	}
}

func TestHighlightReturnsAtMostThreeExcerpts(t *testing.T) {
	text := strings.Repeat("go install ", 20)

	got := Highlight(text, "install", 2)

	assert.Len(t, got, 3)
	for _, excerpt := range got {
		assert.Contains(t, excerpt, "<mark>install</mark>")
	}
}

func TestHighlightEmptyInputs(t *testing.T) {
	assert.Empty(t, Highlight("some text", "", 5))
	assert.Empty(t, Highlight("", "query", 5))
	assert.Empty(t, Highlight("some text", "absent", 5))
	assert.NotNil(t, Highlight("some text", "absent", 5))
}

func TestHighlightMarksEveryCompleteOccurrenceInsideWindow(t *testing.T) {
	got := New(4, 1).Highlight("ab ab ab", "ab")

	assert.Equal(t, []string{"<mark>ab</mark> <mark>ab</mark> "}, got)
}

func TestHighlightCountsCharactersNotBytes(t *testing.T) {
	got := Highlight("安装指南：install 工具", "install", 2)

	assert.Equal(t, []string{"南：<mark>install</mark> 工"}, got)
}

func TestHighlighterCustomTags(t *testing.T) {
	h := New(0, 2)
	h.OpenTag, h.CloseTag = "<em>", "</em>"

	got := h.Highlight("x y x y x", "x")

	assert.Equal(t, []string{"<em>x</em>", "<em>x</em>"}, got)
}

func TestHighlightRemarksOverlappingQueryInsideExcerpt(t *testing.T) {
	got := Highlight("aaaaaaaaaa", "aa", 1)
	require.Len(t, got, 3)
	assert.Equal(t, "<mark>aa</mark>a", got[0])
	assert.Equal(t, "<mark>aa</mark><mark>aa</mark>", got[1])
}
