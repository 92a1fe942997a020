// Package render turns stored entities into the files of a published site.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/markdown"
)

// SiteInput is everything needed to render the site-level files.
type SiteInput struct {
	Domain    string
	Site      *content.Site
	Pages     []*content.Page // live pages, for the sitemap
	GlobalCSS string
}

// SiteFiles are the rendered site-level outputs.
type SiteFiles struct {
	Styles  string
	Sitemap string
}

// PageInput is everything needed to render one page.
type PageInput struct {
	Domain        string
	Site          *content.Site
	Page          *content.Page
	Markdown      string
	HTML          string // template markup
	CSS           string // template styles
	SiteStylesURL string
}

// PageFiles are the rendered outputs of one page.
type PageFiles struct {
	Styles string
	HTML   string
}

// Renderer renders site and page files. Implementations must be safe for
// concurrent use and free of side effects.
type Renderer interface {
	RenderSiteFiles(ctx context.Context, in SiteInput) (SiteFiles, error)
	RenderPageFiles(ctx context.Context, in PageInput) (PageFiles, error)
}

// Default executes template markup with html/template and wraps the result
// in the document layout.
type Default struct{}

var _ Renderer = Default{}

func (Default) RenderSiteFiles(_ context.Context, in SiteInput) (SiteFiles, error) {
	sitemap, err := Sitemap(in.Domain, in.Site, in.Pages)
	if err != nil {
		return SiteFiles{}, err
	}
	return SiteFiles{Styles: normalizeCSS(in.GlobalCSS), Sitemap: sitemap}, nil
}

func (Default) RenderPageFiles(ctx context.Context, in PageInput) (PageFiles, error) {
	if in.Page == nil || in.Page.Meta == nil {
		return PageFiles{}, fmt.Errorf("render: page without meta")
	}
	article, err := markdown.ToHTML(in.Markdown)
	if err != nil {
		return PageFiles{}, fmt.Errorf("render %s: markdown: %w", in.Page.Key, err)
	}
	body := article
	if strings.TrimSpace(in.HTML) != "" {
		body, err = executeMarkup(in, template.HTML(article))
		if err != nil {
			return PageFiles{}, fmt.Errorf("render %s: %w", in.Page.Key, err)
		}
	}

	meta := in.Page.Meta
	doc := Document{
		Title:         meta.Title,
		Description:   meta.Description,
		SiteStylesURL: in.SiteStylesURL,
		PageStylesURL: "/" + meta.CSSPath(),
		Body:          body,
	}
	if in.Site != nil && in.Site.Assets != nil {
		doc.Scripts = in.Site.Assets.Scripts
	}
	var buf bytes.Buffer
	if err := doc.Component().Render(ctx, &buf); err != nil {
		return PageFiles{}, err
	}
	return PageFiles{Styles: normalizeCSS(in.CSS), HTML: buf.String()}, nil
}

// MarkupData is the value template markup is executed with.
type MarkupData struct {
	Title       string
	Description string
	Route       string
	Slug        string
	URL         string
	Article     template.HTML
	Blocks      any // page block list
	SiteBlocks  any
	Partials    map[string]template.HTML
	Tags        []string
}

func executeMarkup(in PageInput, article template.HTML) (string, error) {
	tmpl, err := template.New(in.Page.Meta.TemplateID).Option("missingkey=zero").Parse(in.HTML)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	meta := in.Page.Meta
	data := MarkupData{
		Title:       meta.Title,
		Description: meta.Description,
		Route:       meta.Route,
		Slug:        meta.Slug,
		URL:         PageURL(in.Domain, *meta),
		Article:     article,
		Partials:    map[string]template.HTML{},
	}
	if in.Page.Content != nil {
		if data.Blocks, err = decodeBlocks(in.Page.Content.Blocks); err != nil {
			return "", fmt.Errorf("page blocks: %w", err)
		}
	}
	if in.Site != nil {
		if in.Site.Content != nil {
			if data.SiteBlocks, err = decodeBlocks(in.Site.Content.Blocks); err != nil {
				return "", fmt.Errorf("site blocks: %w", err)
			}
		}
		for _, p := range in.Site.Partials {
			data.Partials[p.Key] = template.HTML(p.Content)
		}
	}
	for _, t := range in.Page.Tags {
		if t != nil && t.Meta != nil {
			data.Tags = append(data.Tags, t.Meta.Label)
		}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

func decodeBlocks(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func normalizeCSS(css string) string {
	css = strings.TrimSpace(css)
	if css == "" {
		return ""
	}
	return css + "\n"
}
