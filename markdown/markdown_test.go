package markdown

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToHTML(t *testing.T) {
	tests := []struct {
		input    string
		contains string
	}{
		{"# Hello", `<h1 id="hello">Hello</h1>`},
		{"**bold**", "<strong>bold</strong>"},
		{"_italic_", "<em>italic</em>"},
		{"~~gone~~", "<del>gone</del>"},
		{"[link](https://example.com)", `<a href="https://example.com">link</a>`},
		{"- one\n- two", "<li>one</li>"},
		{"| a | b |\n|---|---|\n| 1 | 2 |", "<table>"},
		{"```go\nx := 1\n```", `<code class="language-go">`},
	}
	for _, tt := range tests {
		got, err := ToHTML(tt.input)
		require.NoError(t, err)
		assert.Contains(t, got, tt.contains, "input %q", tt.input)
	}
}

func TestToHTMLDropsRawHTML(t *testing.T) {
	got, err := ToHTML("hello <script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, got, "<script>")
}

func TestToHTMLEmpty(t *testing.T) {
	got, err := ToHTML("  \n")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkdownComponent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Markdown("*hi*").Render(context.Background(), &buf))
	assert.Equal(t, "<p><em>hi</em></p>\n", buf.String())
}

func TestFromHTML(t *testing.T) {
	got, err := FromHTML("<h2>Title</h2><p>Hello <strong>world</strong></p>")
	require.NoError(t, err)
	assert.Contains(t, got, "## Title")
	assert.Contains(t, got, "Hello **world**")

	empty, err := FromHTML("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRoundTripKeepsEmphasis(t *testing.T) {
	html, err := ToHTML("Some **strong** text")
	require.NoError(t, err)
	back, err := FromHTML(html)
	require.NoError(t, err)
	assert.Equal(t, "Some **strong** text\n", back)
}
