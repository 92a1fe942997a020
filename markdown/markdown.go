// Package markdown converts page articles between Markdown and HTML.
package markdown

import (
	"bytes"
	"context"
	"io"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/a-h/templ"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// goldmark.Markdown is safe for concurrent use once configured.
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Footnote,
	),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// ToHTML renders source as HTML. Raw HTML in the source is dropped.
func ToHTML(source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Markdown returns a templ.Component that renders source as HTML.
func Markdown(source string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		out, err := ToHTML(source)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	})
}

// FromHTML converts an HTML fragment into Markdown. It is used when an
// article is submitted as text/html.
func FromHTML(fragment string) (string, error) {
	if strings.TrimSpace(fragment) == "" {
		return "", nil
	}
	out, err := htmltomarkdown.ConvertString(fragment)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out) + "\n", nil
}
