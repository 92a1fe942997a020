package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/eringen/pagepress/blob"
	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/kv"
	"github.com/eringen/pagepress/logfields"
)

// NewTemplate is the input of CreateTemplate.
type NewTemplate struct {
	Title   string                  `json:"title"`
	Content content.TemplateContent `json:"content"`
	HTML    string                  `json:"html"`
	CSS     string                  `json:"css"`
}

func validTemplateContent(op string, c content.TemplateContent) error {
	for _, raw := range [][]byte{c.PageSchema, c.SharedData, c.SharedSchema} {
		if err := validBlocks(op, raw); err != nil {
			return err
		}
	}
	return nil
}

// CreateTemplate inserts a template and writes its markup to the source
// bucket.
func (r *Repository) CreateTemplate(ctx context.Context, in NewTemplate) (*content.Template, error) {
	const op = "repository.create_template"
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errs.Validation(op, "title is required")
	}
	if err := validTemplateContent(op, in.Content); err != nil {
		return nil, err
	}

	now := r.now()
	tpl := &content.Template{
		Key:     content.TemplateKey(r.newID()),
		Entry:   &content.Entry{Type: content.EntryTemplate, CreatedAt: now, UpdatedAt: now},
		Meta:    &content.TemplateMeta{Title: title},
		Content: &in.Content,
		Markup:  &content.Markup{HTML: in.HTML, CSS: in.CSS},
	}
	if err := r.writeMarkup(ctx, tpl.ID(), *tpl.Markup); err != nil {
		return nil, err
	}
	slices := tpl.Slices()
	rows := make([]kv.Row, len(slices))
	for i, s := range slices {
		rows[i] = content.Row(tpl.Key, s)
	}
	if err := r.store.BatchPut(ctx, rows); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	r.logger.InfoContext(ctx, "Template created", logfields.EntityKey(tpl.Key))
	r.notify(ctx, tpl.Key, now)
	return tpl, nil
}

func (r *Repository) requireTemplateEntity(ctx context.Context, op, id string) (*content.Template, error) {
	tpls, err := r.GetTemplates(ctx, []string{content.TemplateKey(id)}, content.WithEntry|content.WithMeta)
	if err != nil {
		return nil, err
	}
	if len(tpls) == 0 {
		return nil, errs.NotFound(op, "template %s not found", id)
	}
	return tpls[0], nil
}

// UpdateTemplateMeta replaces a template's META slice.
func (r *Repository) UpdateTemplateMeta(ctx context.Context, id string, meta content.TemplateMeta) error {
	const op = "repository.update_template_meta"
	if meta.Title = strings.TrimSpace(meta.Title); meta.Title == "" {
		return errs.Validation(op, "title is required")
	}
	tpl, err := r.requireTemplateEntity(ctx, op, id)
	if err != nil {
		return err
	}
	if _, err := r.UpsertSlice(ctx, tpl.Key, meta); err != nil {
		return err
	}
	return r.changed(ctx, tpl.Key)
}

// UpdateTemplateContent replaces a template's schema and shared data.
func (r *Repository) UpdateTemplateContent(ctx context.Context, id string, c content.TemplateContent) error {
	const op = "repository.update_template_content"
	if err := validTemplateContent(op, c); err != nil {
		return err
	}
	tpl, err := r.requireTemplateEntity(ctx, op, id)
	if err != nil {
		return err
	}
	if _, err := r.UpsertSlice(ctx, tpl.Key, c); err != nil {
		return err
	}
	return r.changed(ctx, tpl.Key)
}

// PutTemplateMarkup replaces a template's html and css.
func (r *Repository) PutTemplateMarkup(ctx context.Context, id string, m content.Markup) error {
	tpl, err := r.requireTemplateEntity(ctx, "repository.put_template_markup", id)
	if err != nil {
		return err
	}
	if err := r.writeMarkup(ctx, id, m); err != nil {
		return err
	}
	return r.changed(ctx, tpl.Key)
}

func (r *Repository) writeMarkup(ctx context.Context, id string, m content.Markup) error {
	if err := blob.PutText(ctx, r.source, templateHTMLPath(id), m.HTML, "text/html; charset=utf-8", nil); err != nil {
		return fmt.Errorf("write template %s html: %w", id, err)
	}
	if err := blob.PutText(ctx, r.source, templateCSSPath(id), m.CSS, "text/css; charset=utf-8", nil); err != nil {
		return fmt.Errorf("write template %s css: %w", id, err)
	}
	return nil
}

// CopyTemplate duplicates a template and its markup. Only templates that
// at least one page references can be copied.
func (r *Repository) CopyTemplate(ctx context.Context, id string) (*content.Template, error) {
	const op = "repository.copy_template"
	src, err := r.requireTemplateEntity(ctx, op, id)
	if err != nil {
		return nil, err
	}
	keys, err := r.ListPageKeysByTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errs.Validation(op, "template %s has no pages", id)
	}

	newID := r.newID()
	newKey := content.TemplateKey(newID)
	meta := content.TemplateMeta{Title: newID}
	if src.Meta != nil {
		meta.Title = src.Meta.Title + " " + newID
	}
	if err := r.CopyEntity(ctx, src.Key, newKey, content.TemplateAll, Overrides{content.SliceMeta: meta.Attrs()}); err != nil {
		return nil, err
	}
	markup, err := r.templateMarkup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.writeMarkup(ctx, newID, *markup); err != nil {
		return nil, err
	}
	r.notify(ctx, newKey, r.now())
	return r.GetTemplate(ctx, newID, content.TemplateAll|content.WithMarkup)
}

// DeleteTemplate erases a template and its markup. Live pages block the
// deletion; soft-deleted pages that still reference it are erased first.
func (r *Repository) DeleteTemplate(ctx context.Context, id string) error {
	const op = "repository.delete_template"
	tpl, err := r.requireTemplateEntity(ctx, op, id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	live, deleted, err := r.pagesOfTemplate(ctx, id)
	if err != nil {
		return err
	}
	if len(live) > 0 {
		return errs.Validation(op, "template %s is used by %d pages", id, len(live))
	}
	for _, key := range deleted {
		if err := r.EraseEntity(ctx, key); err != nil {
			return err
		}
	}
	if err := r.EraseEntity(ctx, tpl.Key); err != nil {
		return err
	}
	if _, err := r.source.DeleteMany(ctx, []string{templateHTMLPath(id), templateCSSPath(id)}); err != nil {
		return fmt.Errorf("delete template %s markup: %w", id, err)
	}
	r.logger.InfoContext(ctx, "Template deleted", logfields.EntityKey(tpl.Key), logfields.Count(len(deleted)))
	r.notify(ctx, tpl.Key, r.now())
	return nil
}
