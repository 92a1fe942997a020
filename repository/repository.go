// Package repository assembles composite entities from slice rows and
// writes them back one slice at a time.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eringen/pagepress/blob"
	"github.com/eringen/pagepress/cache"
	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/kv"
	"github.com/eringen/pagepress/logfields"
)

// fetchLimit bounds concurrent store reads within one call.
const fetchLimit = 8

// ChangeHook is told about every successful content mutation.
type ChangeHook func(ctx context.Context, at time.Time) error

// Repository reads and writes entities in the slice table. Template markup
// and site assets live in the source bucket.
type Repository struct {
	// mu serializes check-then-write sequences within the process, such
	// as slug uniqueness checks.
	mu sync.Mutex

	store    kv.Store
	source   blob.Store
	logger   *slog.Logger
	onChange ChangeHook
	now      func() time.Time
	newID    func() string
}

// Option configures a Repository.
type Option func(*Repository)

func WithLogger(l *slog.Logger) Option { return func(r *Repository) { r.logger = l } }

// WithChangeHook registers the hook called after each mutation.
func WithChangeHook(h ChangeHook) Option { return func(r *Repository) { r.onChange = h } }

func WithClock(now func() time.Time) Option { return func(r *Repository) { r.now = now } }

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(fn func() string) Option { return func(r *Repository) { r.newID = fn } }

// New creates a repository. store should already retry throughput errors
// (see kv.NewRetrying).
func New(store kv.Store, source blob.Store, opts ...Option) *Repository {
	r := &Repository{
		store:  store,
		source: source,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EntryRef is one ENTRY row returned by an index scan.
type EntryRef struct {
	Key   string        `json:"key"`
	Entry content.Entry `json:"entry"`
}

// entityRows fetches the selected slices of one entity. Point slices are
// read individually and concurrently; prefix-addressed slices are queried.
// present is false when the entity's ENTRY (or STATUS) row is absent.
func (r *Repository) entityRows(ctx context.Context, pk string, kind content.Kind, want content.SliceSet) (rows []kv.Row, present bool, err error) {
	points := want.PointSlices(kind)
	var prefixes []string
	switch {
	case kind == content.KindPage && want.Has(content.WithTags):
		prefixes = append(prefixes, content.SliceTagPrefix)
	case kind == content.KindSite && want.Has(content.WithPartials):
		prefixes = append(prefixes, content.SlicePartialPrefix)
	}

	slots := make([][]kv.Row, len(points)+len(prefixes))
	g, gctx := errgroup.WithContext(ctx)
	for i, sk := range points {
		g.Go(func() error {
			row, ok, err := r.store.Get(gctx, kv.Key{PK: pk, SK: sk})
			if err != nil {
				return fmt.Errorf("get %s/%s: %w", pk, sk, err)
			}
			if ok {
				slots[i] = []kv.Row{row}
			}
			return nil
		})
	}
	for j, prefix := range prefixes {
		g.Go(func() error {
			found, err := r.store.Query(gctx, pk, prefix)
			if err != nil {
				return fmt.Errorf("query %s/%s: %w", pk, prefix, err)
			}
			slots[len(points)+j] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	// points[0] is ENTRY, or STATUS for the generator.
	present = len(slots[0]) > 0
	for _, s := range slots {
		rows = append(rows, s...)
	}
	return rows, present, nil
}

func decodeRows[S any](rows []kv.Row, decode func(kv.Row) (S, error)) ([]S, error) {
	out := make([]S, 0, len(rows))
	for _, row := range rows {
		s, err := decode(row)
		if err != nil {
			return nil, errs.Integrity("repository.decode", "%s/%s: %v", row.PK, row.SK, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// fetchEach runs fetch for every key with bounded concurrency and keeps
// non-nil results in key order.
func fetchEach[T any](ctx context.Context, keys []string, fetch func(ctx context.Context, key string) (*T, error)) ([]*T, error) {
	slots := make([]*T, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, key := range keys {
		g.Go(func() error {
			v, err := fetch(gctx, key)
			slots[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(slots))
	for _, v := range slots {
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// GetPages assembles the pages under keys. Keys without an ENTRY slice
// are skipped. With content.WithTags the tag references are resolved; a
// tag shared by several pages is fetched once per call.
func (r *Repository) GetPages(ctx context.Context, keys []string, want content.SliceSet) ([]*content.Page, error) {
	tags := cache.New[string, *content.Tag](0)
	return fetchEach(ctx, keys, func(ctx context.Context, key string) (*content.Page, error) {
		rows, ok, err := r.entityRows(ctx, key, content.KindPage, want)
		if err != nil || !ok {
			return nil, err
		}
		slices, err := decodeRows(rows, content.DecodePageSlice)
		if err != nil {
			return nil, err
		}
		page := content.AssemblePage(key, slices)
		if want.Has(content.WithTags) {
			for _, ref := range page.TagRefs {
				tag, err := tags.Get(ctx, ref.TagID, func(ctx context.Context) (*content.Tag, error) {
					return r.getTag(ctx, content.TagKey(ref.TagID))
				})
				if err != nil {
					return nil, err
				}
				if tag != nil {
					page.Tags = append(page.Tags, tag)
				}
			}
		}
		return page, nil
	})
}

// GetPage returns one page or a not-found error.
func (r *Repository) GetPage(ctx context.Context, id string, want content.SliceSet) (*content.Page, error) {
	pages, err := r.GetPages(ctx, []string{content.PageKey(id)}, want)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, errs.NotFound("repository.get_page", "page %s not found", id)
	}
	return pages[0], nil
}

func (r *Repository) getTag(ctx context.Context, key string) (*content.Tag, error) {
	rows, ok, err := r.entityRows(ctx, key, content.KindTag, content.WithEntry|content.WithMeta)
	if err != nil || !ok {
		return nil, err
	}
	slices, err := decodeRows(rows, content.DecodeTagSlice)
	if err != nil {
		return nil, err
	}
	return content.AssembleTag(key, slices), nil
}

// GetTags assembles the tags under keys, skipping absent ones.
func (r *Repository) GetTags(ctx context.Context, keys []string) ([]*content.Tag, error) {
	return fetchEach(ctx, keys, r.getTag)
}

// GetTemplates assembles the templates under keys. With content.WithMarkup
// the html and css are read from the source bucket.
func (r *Repository) GetTemplates(ctx context.Context, keys []string, want content.SliceSet) ([]*content.Template, error) {
	return fetchEach(ctx, keys, func(ctx context.Context, key string) (*content.Template, error) {
		rows, ok, err := r.entityRows(ctx, key, content.KindTemplate, want)
		if err != nil || !ok {
			return nil, err
		}
		slices, err := decodeRows(rows, content.DecodeTemplateSlice)
		if err != nil {
			return nil, err
		}
		tpl := content.AssembleTemplate(key, slices)
		if want.Has(content.WithMarkup) {
			if tpl.Markup, err = r.templateMarkup(ctx, tpl.ID()); err != nil {
				return nil, err
			}
		}
		return tpl, nil
	})
}

// GetTemplate returns one template or a not-found error.
func (r *Repository) GetTemplate(ctx context.Context, id string, want content.SliceSet) (*content.Template, error) {
	tpls, err := r.GetTemplates(ctx, []string{content.TemplateKey(id)}, want)
	if err != nil {
		return nil, err
	}
	if len(tpls) == 0 {
		return nil, errs.NotFound("repository.get_template", "template %s not found", id)
	}
	return tpls[0], nil
}

// PageTemplate returns the template a page references. A page without a
// template is a data-integrity error, not a not-found.
func (r *Repository) PageTemplate(ctx context.Context, page *content.Page, want content.SliceSet) (*content.Template, error) {
	if page.Meta == nil || page.Meta.TemplateID == "" {
		return nil, errs.Integrity("repository.page_template", "page %s has no template", page.ID())
	}
	tpls, err := r.GetTemplates(ctx, []string{content.TemplateKey(page.Meta.TemplateID)}, want)
	if err != nil {
		return nil, err
	}
	if len(tpls) == 0 {
		return nil, errs.Integrity("repository.page_template", "page %s references missing template %s", page.ID(), page.Meta.TemplateID)
	}
	return tpls[0], nil
}

// GetSite assembles the site record. With content.WithAssets the global
// css and scripts are read from the source bucket.
func (r *Repository) GetSite(ctx context.Context, want content.SliceSet) (*content.Site, error) {
	rows, ok, err := r.entityRows(ctx, content.SiteKey, content.KindSite, want)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFound("repository.get_site", "site record not found")
	}
	slices, err := decodeRows(rows, content.DecodeSiteSlice)
	if err != nil {
		return nil, err
	}
	site := content.AssembleSite(slices)
	if want.Has(content.WithAssets) {
		if site.Assets, err = r.siteAssets(ctx); err != nil {
			return nil, err
		}
	}
	return site, nil
}

// GetGenerator reads the generator record. An absent record reads as idle.
func (r *Repository) GetGenerator(ctx context.Context) (*content.Generator, error) {
	rows, _, err := r.entityRows(ctx, content.GeneratorKey, content.KindGenerator, content.WithStatus)
	if err != nil {
		return nil, err
	}
	slices, err := decodeRows(rows, content.DecodeGeneratorSlice)
	if err != nil {
		return nil, err
	}
	return content.AssembleGenerator(slices), nil
}

// ListEntitiesByType scans the entry-type index.
func (r *Repository) ListEntitiesByType(ctx context.Context, t content.EntryType) ([]EntryRef, error) {
	rows, err := r.store.QueryIndex(ctx, content.IndexByEntryType.Name, string(t))
	if err != nil {
		return nil, fmt.Errorf("list %s entries: %w", t, err)
	}
	out := make([]EntryRef, 0, len(rows))
	for _, row := range rows {
		if row.SK != content.SliceEntry {
			continue
		}
		e, err := content.DecodeEntry(row)
		if err != nil {
			return nil, errs.Integrity("repository.list_entities", "%s: %v", row.PK, err)
		}
		out = append(out, EntryRef{Key: row.PK, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListPageKeysByTemplate returns every page key, live or soft deleted,
// whose META references the template.
func (r *Repository) ListPageKeysByTemplate(ctx context.Context, templateID string) ([]string, error) {
	rows, err := r.store.QueryIndex(ctx, content.IndexByTemplate.Name, templateID)
	if err != nil {
		return nil, fmt.Errorf("list pages of template %s: %w", templateID, err)
	}
	seen := make(map[string]struct{}, len(rows))
	var keys []string
	for _, row := range rows {
		if !strings.HasPrefix(row.PK, content.PagePrefix) {
			continue
		}
		if _, dup := seen[row.PK]; dup {
			continue
		}
		seen[row.PK] = struct{}{}
		keys = append(keys, row.PK)
	}
	sort.Strings(keys)
	return keys, nil
}

// pagesOfTemplate splits the pages referencing a template into live and
// soft-deleted keys.
func (r *Repository) pagesOfTemplate(ctx context.Context, templateID string) (live, deleted []string, err error) {
	keys, err := r.ListPageKeysByTemplate(ctx, templateID)
	if err != nil {
		return nil, nil, err
	}
	pages, err := r.GetPages(ctx, keys, content.WithEntry)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range pages {
		if p.Live() {
			live = append(live, p.Key)
		} else {
			deleted = append(deleted, p.Key)
		}
	}
	return live, deleted, nil
}

// ListLivePages returns every page that is not soft deleted, ordered by
// output path.
func (r *Repository) ListLivePages(ctx context.Context, want content.SliceSet) ([]*content.Page, error) {
	refs, err := r.ListEntitiesByType(ctx, content.EntryPage)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = ref.Key
	}
	pages, err := r.GetPages(ctx, keys, want|content.WithEntry)
	if err != nil {
		return nil, err
	}
	live := pages[:0]
	for _, p := range pages {
		if p.Live() {
			live = append(live, p)
		}
	}
	sort.Slice(live, func(i, j int) bool { return pageSortKey(live[i]) < pageSortKey(live[j]) })
	return live, nil
}

func pageSortKey(p *content.Page) string {
	if p.Meta == nil {
		return "\xff" + p.Key
	}
	return p.Meta.OutputBase()
}

// ListTemplates returns every template.
func (r *Repository) ListTemplates(ctx context.Context, want content.SliceSet) ([]*content.Template, error) {
	refs, err := r.ListEntitiesByType(ctx, content.EntryTemplate)
	if err != nil {
		return nil, err
	}
	return r.GetTemplates(ctx, refKeys(refs), want)
}

// ListTags returns every tag.
func (r *Repository) ListTags(ctx context.Context) ([]*content.Tag, error) {
	refs, err := r.ListEntitiesByType(ctx, content.EntryTag)
	if err != nil {
		return nil, err
	}
	return r.GetTags(ctx, refKeys(refs))
}

func refKeys(refs []EntryRef) []string {
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = ref.Key
	}
	return keys
}

// Source bucket layout.
func templateHTMLPath(id string) string { return "templates/" + id + "/template.html" }
func templateCSSPath(id string) string  { return "templates/" + id + "/template.css" }

const (
	siteCSSPath     = "site/global.css"
	siteScriptsPath = "site/scripts.js"
)

func (r *Repository) templateMarkup(ctx context.Context, id string) (*content.Markup, error) {
	html, _, err := blob.GetText(ctx, r.source, templateHTMLPath(id))
	if err != nil {
		return nil, fmt.Errorf("read template %s html: %w", id, err)
	}
	css, _, err := blob.GetText(ctx, r.source, templateCSSPath(id))
	if err != nil {
		return nil, fmt.Errorf("read template %s css: %w", id, err)
	}
	return &content.Markup{HTML: html, CSS: css}, nil
}

func (r *Repository) siteAssets(ctx context.Context) (*content.SiteAssets, error) {
	css, _, err := blob.GetText(ctx, r.source, siteCSSPath)
	if err != nil {
		return nil, fmt.Errorf("read site css: %w", err)
	}
	scripts, _, err := blob.GetText(ctx, r.source, siteScriptsPath)
	if err != nil {
		return nil, fmt.Errorf("read site scripts: %w", err)
	}
	return &content.SiteAssets{CSS: css, Scripts: scripts}, nil
}

// changed stamps ENTRY.updatedAt and notifies the change hook.
func (r *Repository) changed(ctx context.Context, key string) error {
	at := r.now()
	err := r.store.Update(ctx, kv.Key{PK: key, SK: content.SliceEntry}, map[string]any{content.AttrUpdatedAt: content.Millis(at)})
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("stamp %s: %w", key, err)
	}
	r.notify(ctx, key, at)
	return nil
}

// notify calls the change hook. Hook failures are logged; the mutation
// itself already succeeded.
func (r *Repository) notify(ctx context.Context, key string, at time.Time) {
	if r.onChange == nil {
		return
	}
	if err := r.onChange(ctx, at); err != nil {
		r.logger.WarnContext(ctx, "Change hook failed", logfields.EntityKey(key), logfields.Error(err))
	}
}
