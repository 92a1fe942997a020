package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/kv"
	"github.com/eringen/pagepress/logfields"
)

// NewPage is the input of CreatePage.
type NewPage struct {
	Title              string          `json:"title"`
	Route              string          `json:"route"`
	Slug               string          `json:"slug"`
	TemplateID         string          `json:"templateId"`
	ExcludeFromSitemap bool            `json:"excludeFromSitemap"`
	Description        string          `json:"description"`
	Blocks             json.RawMessage `json:"blocks"`
	Markdown           string          `json:"markdown"`
	TagIDs             []string        `json:"tagIds"`
}

func normalizeMeta(op string, m content.PageMeta) (content.PageMeta, error) {
	m.Title = strings.TrimSpace(m.Title)
	if m.Title == "" {
		return m, errs.Validation(op, "title is required")
	}
	m.Route = content.NormalizeRoute(m.Route)
	if err := content.ValidateRoute(m.Route); err != nil {
		return m, errs.Validation(op, "%v", err)
	}
	if m.Slug = strings.TrimSpace(m.Slug); m.Slug == "" {
		m.Slug = content.Slugify(m.Title)
	}
	if err := content.ValidateSlug(m.Slug); err != nil {
		return m, errs.Validation(op, "%v", err)
	}
	if m.TemplateID = strings.TrimSpace(m.TemplateID); m.TemplateID == "" {
		return m, errs.Validation(op, "template is required")
	}
	return m, nil
}

func validBlocks(op string, blocks json.RawMessage) error {
	if len(blocks) > 0 && !json.Valid(blocks) {
		return errs.Validation(op, "blocks are not valid JSON")
	}
	return nil
}

func (r *Repository) requireTemplate(ctx context.Context, op, id string) error {
	tpls, err := r.GetTemplates(ctx, []string{content.TemplateKey(id)}, content.WithEntry)
	if err != nil {
		return err
	}
	if len(tpls) == 0 {
		return errs.Validation(op, "template %s does not exist", id)
	}
	return nil
}

func (r *Repository) requireLivePage(ctx context.Context, op, id string, want content.SliceSet) (*content.Page, error) {
	pages, err := r.GetPages(ctx, []string{content.PageKey(id)}, want|content.WithEntry)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 || !pages[0].Live() {
		return nil, errs.NotFound(op, "page %s not found", id)
	}
	return pages[0], nil
}

// checkSlugFree rejects meta whose output path is taken by another live
// page. Callers hold r.mu.
func (r *Repository) checkSlugFree(ctx context.Context, op string, meta content.PageMeta, self string) error {
	pages, err := r.ListLivePages(ctx, content.PageListing)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if p.Key != self && p.Meta != nil && p.Meta.OutputBase() == meta.OutputBase() {
			return errs.Validation(op, "slug %q is already used on route %q", meta.Slug, meta.Route)
		}
	}
	return nil
}

func (r *Repository) requireTags(ctx context.Context, op string, ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	var keys, uniq []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
		keys = append(keys, content.TagKey(id))
	}
	tags, err := r.GetTags(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(tags) != len(keys) {
		return nil, errs.Validation(op, "unknown tag in %v", uniq)
	}
	return uniq, nil
}

// CreatePage validates and inserts a new page.
func (r *Repository) CreatePage(ctx context.Context, in NewPage) (*content.Page, error) {
	const op = "repository.create_page"
	meta, err := normalizeMeta(op, content.PageMeta{
		Title:              in.Title,
		Route:              in.Route,
		Slug:               in.Slug,
		TemplateID:         in.TemplateID,
		ExcludeFromSitemap: in.ExcludeFromSitemap,
		Description:        in.Description,
	})
	if err != nil {
		return nil, err
	}
	if err := validBlocks(op, in.Blocks); err != nil {
		return nil, err
	}
	if err := r.requireTemplate(ctx, op, meta.TemplateID); err != nil {
		return nil, err
	}
	tagIDs, err := r.requireTags(ctx, op, in.TagIDs)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSlugFree(ctx, op, meta, ""); err != nil {
		return nil, err
	}

	now := r.now()
	page := &content.Page{
		Key:     content.PageKey(r.newID()),
		Entry:   &content.Entry{Type: content.EntryPage, CreatedAt: now, UpdatedAt: now},
		Meta:    &meta,
		Content: &content.PageContent{Blocks: in.Blocks},
		Article: &content.PageArticle{Markdown: in.Markdown},
	}
	for _, id := range tagIDs {
		page.TagRefs = append(page.TagRefs, content.TagRef{TagID: id})
	}
	if err := r.store.BatchPut(ctx, pageRows(page)); err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	r.logger.InfoContext(ctx, "Page created", logfields.EntityKey(page.Key), logfields.Path(meta.HTMLPath()))
	r.notify(ctx, page.Key, now)
	return page, nil
}

func pageRows(p *content.Page) []kv.Row {
	slices := p.Slices()
	rows := make([]kv.Row, len(slices))
	for i, s := range slices {
		rows[i] = content.Row(p.Key, s)
	}
	return rows
}

// UpdatePageMeta replaces a page's META slice.
func (r *Repository) UpdatePageMeta(ctx context.Context, id string, meta content.PageMeta) (*content.Page, error) {
	const op = "repository.update_page_meta"
	meta, err := normalizeMeta(op, meta)
	if err != nil {
		return nil, err
	}
	page, err := r.requireLivePage(ctx, op, id, content.PageListing)
	if err != nil {
		return nil, err
	}
	if err := r.requireTemplate(ctx, op, meta.TemplateID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSlugFree(ctx, op, meta, page.Key); err != nil {
		return nil, err
	}
	if _, err := r.UpsertSlice(ctx, page.Key, meta); err != nil {
		return nil, err
	}
	if err := r.changed(ctx, page.Key); err != nil {
		return nil, err
	}
	page.Meta = &meta
	return page, nil
}

// UpdatePageContent replaces a page's block list.
func (r *Repository) UpdatePageContent(ctx context.Context, id string, blocks json.RawMessage) error {
	const op = "repository.update_page_content"
	if err := validBlocks(op, blocks); err != nil {
		return err
	}
	page, err := r.requireLivePage(ctx, op, id, content.WithEntry)
	if err != nil {
		return err
	}
	if _, err := r.UpsertSlice(ctx, page.Key, content.PageContent{Blocks: blocks}); err != nil {
		return err
	}
	return r.changed(ctx, page.Key)
}

// UpdatePageArticle replaces a page's markdown.
func (r *Repository) UpdatePageArticle(ctx context.Context, id, markdown string) error {
	page, err := r.requireLivePage(ctx, "repository.update_page_article", id, content.WithEntry)
	if err != nil {
		return err
	}
	if _, err := r.UpsertSlice(ctx, page.Key, content.PageArticle{Markdown: markdown}); err != nil {
		return err
	}
	return r.changed(ctx, page.Key)
}

// SetPageTags makes the page's tag references exactly tagIDs.
func (r *Repository) SetPageTags(ctx context.Context, id string, tagIDs []string) error {
	const op = "repository.set_page_tags"
	page, err := r.requireLivePage(ctx, op, id, content.WithEntry)
	if err != nil {
		return err
	}
	want, err := r.requireTags(ctx, op, tagIDs)
	if err != nil {
		return err
	}
	current, err := r.store.Query(ctx, page.Key, content.SliceTagPrefix)
	if err != nil {
		return fmt.Errorf("read tags of %s: %w", page.Key, err)
	}

	keep := make(map[string]bool, len(want))
	for _, t := range want {
		keep[content.SliceTagPrefix+t] = true
	}
	var drop []kv.Key
	for _, row := range current {
		if keep[row.SK] {
			delete(keep, row.SK)
			continue
		}
		drop = append(drop, row.Key)
	}
	var add []kv.Row
	for _, t := range want {
		ref := content.TagRef{TagID: t}
		if keep[ref.SliceKey()] {
			add = append(add, content.Row(page.Key, ref))
		}
	}
	if err := r.DeleteSlices(ctx, drop); err != nil {
		return err
	}
	if len(add) > 0 {
		if err := r.store.BatchPut(ctx, add); err != nil {
			return err
		}
	}
	return r.changed(ctx, page.Key)
}

// CopyPage duplicates a page. The copy's slug and title carry the new id
// so they stay unique.
func (r *Repository) CopyPage(ctx context.Context, id string) (*content.Page, error) {
	const op = "repository.copy_page"
	src, err := r.requireLivePage(ctx, op, id, content.PageListing)
	if err != nil {
		return nil, err
	}
	if src.Meta == nil {
		return nil, errs.Integrity(op, "page %s has no meta", id)
	}
	newID := r.newID()
	newKey := content.PageKey(newID)
	meta := *src.Meta
	meta.Slug = meta.Slug + "-" + content.Slugify(newID)
	meta.Title = meta.Title + " " + newID
	overrides := Overrides{content.SliceMeta: meta.Attrs()}
	if err := r.CopyEntity(ctx, src.Key, newKey, content.PageFull, overrides); err != nil {
		return nil, err
	}
	r.notify(ctx, newKey, r.now())
	return r.GetPage(ctx, newID, content.PageFull)
}

// DeletePage removes a page using DecideDeletionStrategy. Pages the site
// map points at cannot be deleted.
func (r *Repository) DeletePage(ctx context.Context, id string) (DeletionStrategy, error) {
	const op = "repository.delete_page"
	page, err := r.requireLivePage(ctx, op, id, content.PageListing)
	if err != nil {
		return "", err
	}
	if page.Meta == nil {
		return "", errs.Integrity(op, "page %s has no meta", id)
	}
	site, err := r.GetSite(ctx, content.WithEntry|content.WithSiteMap)
	switch {
	case err == nil && site.Map != nil && (site.Map.IndexPageID == id || site.Map.NotFoundPageID == id):
		return "", errs.Validation(op, "page %s is referenced by the site map", id)
	case err != nil && !errs.Is(err, errs.KindNotFound):
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	live, _, err := r.pagesOfTemplate(ctx, page.Meta.TemplateID)
	if err != nil {
		return "", err
	}
	siblings := 0
	for _, k := range live {
		if k != page.Key {
			siblings++
		}
	}

	strategy := DecideDeletionStrategy(siblings)
	switch strategy {
	case Erase:
		err = r.EraseEntity(ctx, page.Key)
	default:
		err = r.SoftDeletePage(ctx, page.Key)
	}
	if err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "Page deleted",
		logfields.EntityKey(page.Key),
		logfields.Count(siblings),
		logfields.Op(string(strategy)))
	r.notify(ctx, page.Key, r.now())
	return strategy, nil
}
