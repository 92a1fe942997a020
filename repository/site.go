package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eringen/pagepress/blob"
	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/kv"
)

// EnsureSite creates the site record if it does not exist yet.
func (r *Repository) EnsureSite(ctx context.Context) (*content.Site, error) {
	now := r.now()
	entry := content.Entry{Type: content.EntrySite, CreatedAt: now, UpdatedAt: now}
	err := r.store.Put(ctx, content.Row(content.SiteKey, entry), kv.RowAbsent())
	if err != nil && !errors.Is(err, kv.ErrConditionFailed) {
		return nil, fmt.Errorf("create site: %w", err)
	}
	return r.GetSite(ctx, content.SiteAll)
}

// UpdateSiteMap points the site at its index and not-found pages. Both
// must be live pages when set.
func (r *Repository) UpdateSiteMap(ctx context.Context, m content.SiteMap) error {
	const op = "repository.update_site_map"
	for _, id := range []string{m.IndexPageID, m.NotFoundPageID} {
		if id == "" {
			continue
		}
		if _, err := r.requireLivePage(ctx, op, id, content.WithEntry); err != nil {
			return errs.Validation(op, "site map references unknown page %s", id)
		}
	}
	return r.putSiteSlice(ctx, m)
}

// UpdateSiteContent replaces the global block list and schema.
func (r *Repository) UpdateSiteContent(ctx context.Context, c content.SiteContent) error {
	const op = "repository.update_site_content"
	if err := validBlocks(op, c.Blocks); err != nil {
		return err
	}
	if err := validBlocks(op, c.Schema); err != nil {
		return err
	}
	return r.putSiteSlice(ctx, c)
}

// PutSitePartial writes one named partial.
func (r *Repository) PutSitePartial(ctx context.Context, key, html string) error {
	key = strings.TrimSpace(key)
	if err := content.ValidateSlug(key); err != nil {
		return errs.Validation("repository.put_site_partial", "partial key: %v", err)
	}
	return r.putSiteSlice(ctx, content.SitePartial{Key: key, Content: html})
}

// DeleteSitePartial removes one named partial.
func (r *Repository) DeleteSitePartial(ctx context.Context, key string) error {
	sk := content.SitePartial{Key: key}.SliceKey()
	if err := r.DeleteSlices(ctx, []kv.Key{{PK: content.SiteKey, SK: sk}}); err != nil {
		return fmt.Errorf("delete partial %s: %w", key, err)
	}
	return r.changed(ctx, content.SiteKey)
}

func (r *Repository) putSiteSlice(ctx context.Context, s content.SiteSlice) error {
	if _, err := r.EnsureSite(ctx); err != nil {
		return err
	}
	if _, err := r.UpsertSlice(ctx, content.SiteKey, s); err != nil {
		return err
	}
	return r.changed(ctx, content.SiteKey)
}

// PutSiteAssets writes the global stylesheet and scripts to the source
// bucket.
func (r *Repository) PutSiteAssets(ctx context.Context, a content.SiteAssets) error {
	if _, err := r.EnsureSite(ctx); err != nil {
		return err
	}
	if err := blob.PutText(ctx, r.source, siteCSSPath, a.CSS, "text/css; charset=utf-8", nil); err != nil {
		return fmt.Errorf("write site css: %w", err)
	}
	if err := blob.PutText(ctx, r.source, siteScriptsPath, a.Scripts, "text/javascript; charset=utf-8", nil); err != nil {
		return fmt.Errorf("write site scripts: %w", err)
	}
	return r.changed(ctx, content.SiteKey)
}

// CreateTag creates a tag whose id is the slug of its label.
func (r *Repository) CreateTag(ctx context.Context, label string) (*content.Tag, error) {
	const op = "repository.create_tag"
	label = strings.TrimSpace(label)
	id := content.Slugify(label)
	if id == "" {
		return nil, errs.Validation(op, "label is required")
	}
	now := r.now()
	tag := &content.Tag{
		Key:   content.TagKey(id),
		Entry: &content.Entry{Type: content.EntryTag, CreatedAt: now, UpdatedAt: now},
		Meta:  &content.TagMeta{Label: label},
	}
	err := r.store.Put(ctx, content.Row(tag.Key, *tag.Entry), kv.RowAbsent())
	if errors.Is(err, kv.ErrConditionFailed) {
		return nil, errs.Validation(op, "tag %q already exists", id)
	}
	if err != nil {
		return nil, fmt.Errorf("create tag: %w", err)
	}
	if err := r.store.Put(ctx, content.Row(tag.Key, *tag.Meta)); err != nil {
		return nil, fmt.Errorf("create tag: %w", err)
	}
	r.notify(ctx, tag.Key, now)
	return tag, nil
}
