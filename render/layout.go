package render

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Document is the page shell every published page is wrapped in.
type Document struct {
	Title         string
	Description   string
	SiteStylesURL string
	PageStylesURL string
	Body          string // trusted HTML produced by the template
	Scripts       string
}

// Component renders the document as a templ component.
func (d Document) Component() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<!doctype html>\n<html lang=\"en\">\n<head>\n")
		b.WriteString("<meta charset=\"utf-8\">\n")
		b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
		b.WriteString("<title>" + templ.EscapeString(d.Title) + "</title>\n")
		if d.Description != "" {
			b.WriteString("<meta name=\"description\" content=\"" + templ.EscapeString(d.Description) + "\">\n")
		}
		if d.SiteStylesURL != "" {
			b.WriteString("<link rel=\"stylesheet\" href=\"" + templ.EscapeString(d.SiteStylesURL) + "\">\n")
		}
		if d.PageStylesURL != "" {
			b.WriteString("<link rel=\"stylesheet\" href=\"" + templ.EscapeString(d.PageStylesURL) + "\">\n")
		}
		b.WriteString("</head>\n<body>\n")
		b.WriteString(strings.TrimSpace(d.Body))
		b.WriteString("\n")
		if s := strings.TrimSpace(d.Scripts); s != "" {
			b.WriteString("<script>\n" + s + "\n</script>\n")
		}
		b.WriteString("</body>\n</html>\n")
		_, err := io.WriteString(w, b.String())
		return err
	})
}
