package render

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/pagepress/content"
)

func page(id, route, slug string, updated time.Time) *content.Page {
	return &content.Page{
		Key:   content.PageKey(id),
		Entry: &content.Entry{Type: content.EntryPage, CreatedAt: updated, UpdatedAt: updated},
		Meta:  &content.PageMeta{Title: id, Route: route, Slug: slug, TemplateID: "basic"},
	}
}

func day(d int) time.Time { return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC) }

func TestSitemapGolden(t *testing.T) {
	hidden := page("hidden", content.RootRoute, "hidden", day(4))
	hidden.Meta.ExcludeFromSitemap = true
	gone := page("gone", content.RootRoute, "gone", day(5))
	gone.Entry.Type = content.EntryDeletedPage

	site := &content.Site{Map: &content.SiteMap{IndexPageID: "index", NotFoundPageID: "error404"}}
	pages := []*content.Page{
		page("post", "blog", "post", day(3)),
		page("about", content.RootRoute, "about", day(2)),
		page("index", content.RootRoute, "index", day(1)),
		page("error404", content.RootRoute, "error404", day(1)),
		hidden,
		gone,
	}

	files, err := Default{}.RenderSiteFiles(context.Background(), SiteInput{
		Domain:    "example.com",
		Site:      site,
		Pages:     pages,
		GlobalCSS: "  body { margin: 0 }  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "body { margin: 0 }\n", files.Styles)

	g := goldie.New(t)
	g.Assert(t, "sitemap", []byte(files.Sitemap))
}

func TestPageGolden(t *testing.T) {
	p := page("about", content.RootRoute, "about", day(2))
	p.Meta.Title = "About us"
	p.Meta.Description = "Who we are"
	p.Content = &content.PageContent{Blocks: json.RawMessage(`[{"type":"hero","text":"Hi"}]`)}
	site := &content.Site{
		Partials: []content.SitePartial{{Key: "header", Content: "<header>Acme</header>"}},
		Assets:   &content.SiteAssets{Scripts: "console.log(1)"},
	}

	files, err := Default{}.RenderPageFiles(context.Background(), PageInput{
		Domain:        "example.com",
		Site:          site,
		Page:          p,
		Markdown:      "Hello **world**",
		HTML:          "{{.Partials.header}}\n<main>\n<h1>{{.Title}}</h1>\n{{range .Blocks}}<section class=\"{{.type}}\">{{.text}}</section>{{end}}\n{{.Article}}</main>\n",
		CSS:           "h1 { color: red }",
		SiteStylesURL: "/" + content.SiteStylesPath,
	})
	require.NoError(t, err)
	assert.Equal(t, "h1 { color: red }\n", files.Styles)

	g := goldie.New(t)
	g.Assert(t, "page", []byte(files.HTML))
}

func TestPageWithoutMarkupUsesArticle(t *testing.T) {
	p := page("plain", "docs", "plain", day(1))
	files, err := Default{}.RenderPageFiles(context.Background(), PageInput{
		Domain:   "example.com",
		Page:     p,
		Markdown: "# Plain",
	})
	require.NoError(t, err)
	assert.Contains(t, files.HTML, `<h1 id="plain">Plain</h1>`)
	assert.Contains(t, files.HTML, `href="/docs/plain.css"`)
	assert.Empty(t, files.Styles)
}

func TestPageEscapesTemplateValues(t *testing.T) {
	p := page("x", content.RootRoute, "x", day(1))
	p.Meta.Title = `<script>alert("x")</script>`
	files, err := Default{}.RenderPageFiles(context.Background(), PageInput{
		Page: p,
		HTML: "<h1>{{.Title}}</h1>",
	})
	require.NoError(t, err)
	assert.NotContains(t, files.HTML, "<script>alert")
	assert.Contains(t, files.HTML, "&lt;script&gt;")
}

func TestPageTemplateErrors(t *testing.T) {
	p := page("x", content.RootRoute, "x", day(1))
	_, err := Default{}.RenderPageFiles(context.Background(), PageInput{Page: p, HTML: "{{.Title"})
	assert.Error(t, err)

	p.Content = &content.PageContent{Blocks: json.RawMessage(`{broken`)}
	_, err = Default{}.RenderPageFiles(context.Background(), PageInput{Page: p, HTML: "{{.Title}}"})
	assert.Error(t, err)

	_, err = Default{}.RenderPageFiles(context.Background(), PageInput{Page: &content.Page{Key: "PAGE#x"}})
	assert.Error(t, err)
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "https://example.com/", SiteURL("example.com"))
	assert.Equal(t, "http://localhost:8080/", SiteURL("http://localhost:8080/"))
	assert.Equal(t, "https://example.com/", PageURL("example.com", content.PageMeta{Route: content.RootRoute, Slug: "index"}))
	assert.Equal(t, "https://example.com/blog/post.html", PageURL("example.com", content.PageMeta{Route: "blog", Slug: "post"}))
}

func TestRobots(t *testing.T) {
	assert.Equal(t, "User-agent: *\nAllow: /\n\nSitemap: https://example.com/sitemap.xml\n", Robots("example.com"))
}
