package pagepress

import (
	"context"
	"fmt"

	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/repository"
)

// SeedResult reports what Seed created.
type SeedResult struct {
	TemplateID string   `json:"templateId"`
	Created    []string `json:"created"`
}

// Seed makes an empty installation publishable: a starter template, the
// index and error404 pages at the root, the site record with its map,
// partials and global stylesheet. Existing entities are left alone.
func Seed(ctx context.Context, repo *repository.Repository) (*SeedResult, error) {
	res := &SeedResult{}
	files := map[string]string{}
	for _, name := range []string{"template.html", "template.css", "global.css", "index.md", "error404.md", "header.html", "footer.html"} {
		text, err := defaultText(name)
		if err != nil {
			return nil, err
		}
		files[name] = text
	}

	site, err := repo.EnsureSite(ctx)
	if err != nil {
		return nil, err
	}

	templates, err := repo.ListTemplates(ctx, content.WithEntry)
	if err != nil {
		return nil, err
	}
	if len(templates) > 0 {
		res.TemplateID = templates[0].ID()
	} else {
		tpl, err := repo.CreateTemplate(ctx, repository.NewTemplate{
			Title: "Default",
			HTML:  files["template.html"],
			CSS:   files["template.css"],
		})
		if err != nil {
			return nil, fmt.Errorf("seed template: %w", err)
		}
		res.TemplateID = tpl.ID()
		res.Created = append(res.Created, tpl.Key)
	}

	pages, err := repo.ListLivePages(ctx, content.PageListing)
	if err != nil {
		return nil, err
	}
	bySlug := map[string]string{}
	for _, p := range pages {
		if p.Meta.AtRoot() {
			bySlug[p.Meta.Slug] = p.ID()
		}
	}
	for _, seed := range []struct{ slug, title, article string }{
		{content.IndexSlug, "Home", files["index.md"]},
		{content.NotFoundSlug, "Page not found", files["error404.md"]},
	} {
		if _, ok := bySlug[seed.slug]; ok {
			continue
		}
		p, err := repo.CreatePage(ctx, repository.NewPage{
			Title:              seed.title,
			Route:              content.RootRoute,
			Slug:               seed.slug,
			TemplateID:         res.TemplateID,
			ExcludeFromSitemap: seed.slug == content.NotFoundSlug,
			Markdown:           seed.article,
		})
		if err != nil {
			return nil, fmt.Errorf("seed page %s: %w", seed.slug, err)
		}
		bySlug[seed.slug] = p.ID()
		res.Created = append(res.Created, p.Key)
	}

	if site.Map == nil || site.Map.IndexPageID == "" || site.Map.NotFoundPageID == "" {
		if err := repo.UpdateSiteMap(ctx, content.SiteMap{
			IndexPageID:    bySlug[content.IndexSlug],
			NotFoundPageID: bySlug[content.NotFoundSlug],
		}); err != nil {
			return nil, err
		}
	}
	if len(site.Partials) == 0 {
		for _, key := range []string{"header", "footer"} {
			if err := repo.PutSitePartial(ctx, key, files[key+".html"]); err != nil {
				return nil, err
			}
		}
		if err := repo.PutSiteAssets(ctx, content.SiteAssets{CSS: files["global.css"]}); err != nil {
			return nil, err
		}
	}
	return res, nil
}
