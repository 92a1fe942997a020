package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eringen/pagepress/kv"
)

// ErrUnknownSlice is returned when a stored row's slice key is not a
// variant of the entity kind it was read for.
var ErrUnknownSlice = errors.New("content: unknown slice")

const (
	attrEntryType    = "entryType"
	attrCreatedAt    = "createdAt"
	attrUpdatedAt    = "updatedAt"
	attrTitle        = "title"
	attrRoute        = "route"
	attrSlug         = "slug"
	attrTemplateID   = "templateId"
	attrExclude      = "excludeFromSitemap"
	attrDescription  = "description"
	attrBlocks       = "blocks"
	attrSchema       = "schema"
	attrMarkdown     = "markdown"
	attrTagID        = "tagId"
	attrPageSchema   = "pageSchema"
	attrSharedData   = "sharedData"
	attrSharedSchema = "sharedSchema"
	attrIndexPage    = "indexPageId"
	attrNotFoundPage = "notFoundPageId"
	attrPartial      = "content"
	attrLabel        = "label"
	attrState        = "state"
	attrLastRun      = "lastRun"
	attrLastChanged  = "lastChanged"
	attrError        = "error"
)

// Status attributes. AttrState is what the generator's conditional
// writes test.
const (
	AttrState       = attrState
	AttrLastRun     = attrLastRun
	AttrLastChanged = attrLastChanged
	AttrError       = attrError
)

// AttrEntryType is the ENTRY attribute flipped by soft deletion.
const AttrEntryType = attrEntryType

// ENTRY timestamp attributes. AttrUpdatedAt is stamped on every mutation.
const (
	AttrCreatedAt = attrCreatedAt
	AttrUpdatedAt = attrUpdatedAt
)

// Slice is one attribute group of a composite entity.
type Slice interface {
	SliceKey() string
	Attrs() map[string]any
}

// The per-kind interfaces are closed: only types in this package
// implement them.
type (
	PageSlice interface {
		Slice
		pageSlice()
	}
	TemplateSlice interface {
		Slice
		templateSlice()
	}
	SiteSlice interface {
		Slice
		siteSlice()
	}
	TagSlice interface {
		Slice
		tagSlice()
	}
	GeneratorSlice interface {
		Slice
		generatorSlice()
	}
)

// Row encodes s as the table row of entity key.
func Row(key string, s Slice) kv.Row {
	return kv.Row{Key: kv.Key{PK: key, SK: s.SliceKey()}, Attrs: s.Attrs()}
}

// Entry marks an entity as present.
type Entry struct {
	Type      EntryType `json:"entryType"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Entry) SliceKey() string { return SliceEntry }
func (e Entry) Attrs() map[string]any {
	return map[string]any{
		attrEntryType: string(e.Type),
		attrCreatedAt: Millis(e.CreatedAt),
		attrUpdatedAt: Millis(e.UpdatedAt),
	}
}
func (Entry) pageSlice()     {}
func (Entry) templateSlice() {}
func (Entry) siteSlice()     {}
func (Entry) tagSlice()      {}

// Live reports whether the entry is not soft deleted.
func (e Entry) Live() bool { return e.Type != EntryDeletedPage }

func decodeEntry(a map[string]any) (Entry, error) {
	t := EntryType(str(a, attrEntryType))
	if !t.Valid() {
		return Entry{}, fmt.Errorf("content: invalid entry type %q", t)
	}
	return Entry{Type: t, CreatedAt: millis(a, attrCreatedAt), UpdatedAt: millis(a, attrUpdatedAt)}, nil
}

// PageMeta is the routing and sitemap metadata of a page.
type PageMeta struct {
	Title              string `json:"title"`
	Route              string `json:"route"`
	Slug               string `json:"slug"`
	TemplateID         string `json:"templateId"`
	ExcludeFromSitemap bool   `json:"excludeFromSitemap"`
	Description        string `json:"description,omitempty"`
}

func (PageMeta) SliceKey() string { return SliceMeta }
func (m PageMeta) Attrs() map[string]any {
	return map[string]any{
		attrTitle:       m.Title,
		attrRoute:       m.Route,
		attrSlug:        m.Slug,
		attrTemplateID:  m.TemplateID,
		attrExclude:     m.ExcludeFromSitemap,
		attrDescription: m.Description,
	}
}
func (PageMeta) pageSlice() {}

// PageContent is the serialized block list of a page.
type PageContent struct {
	Blocks json.RawMessage `json:"blocks,omitempty"`
}

func (PageContent) SliceKey() string { return SliceContent }
func (c PageContent) Attrs() map[string]any {
	return map[string]any{attrBlocks: string(c.Blocks)}
}
func (PageContent) pageSlice() {}

// PageArticle is the markdown body of a page.
type PageArticle struct {
	Markdown string `json:"markdown"`
}

func (PageArticle) SliceKey() string { return SliceArticle }
func (a PageArticle) Attrs() map[string]any {
	return map[string]any{attrMarkdown: a.Markdown}
}
func (PageArticle) pageSlice() {}

// TagRef links a page to a tag.
type TagRef struct {
	TagID string `json:"tagId"`
}

func (r TagRef) SliceKey() string { return SliceTagPrefix + r.TagID }
func (r TagRef) Attrs() map[string]any {
	return map[string]any{attrTagID: r.TagID}
}
func (TagRef) pageSlice() {}

// TemplateMeta names a template.
type TemplateMeta struct {
	Title string `json:"title"`
}

func (TemplateMeta) SliceKey() string { return SliceMeta }
func (m TemplateMeta) Attrs() map[string]any {
	return map[string]any{attrTitle: m.Title}
}
func (TemplateMeta) templateSlice() {}

// TemplateContent holds the per-page block schema and the block data
// shared by every page of the template.
type TemplateContent struct {
	PageSchema   json.RawMessage `json:"pageSchema,omitempty"`
	SharedData   json.RawMessage `json:"sharedData,omitempty"`
	SharedSchema json.RawMessage `json:"sharedSchema,omitempty"`
}

func (TemplateContent) SliceKey() string { return SliceContent }
func (c TemplateContent) Attrs() map[string]any {
	return map[string]any{
		attrPageSchema:   string(c.PageSchema),
		attrSharedData:   string(c.SharedData),
		attrSharedSchema: string(c.SharedSchema),
	}
}
func (TemplateContent) templateSlice() {}

// SiteMap points at the pages served for "/" and for missing paths.
type SiteMap struct {
	IndexPageID    string `json:"indexPageId"`
	NotFoundPageID string `json:"notFoundPageId"`
}

func (SiteMap) SliceKey() string { return SliceSiteMap }
func (m SiteMap) Attrs() map[string]any {
	return map[string]any{attrIndexPage: m.IndexPageID, attrNotFoundPage: m.NotFoundPageID}
}
func (SiteMap) siteSlice() {}

// SiteContent is the global block list and its schema.
type SiteContent struct {
	Blocks json.RawMessage `json:"blocks,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

func (SiteContent) SliceKey() string { return SliceContent }
func (c SiteContent) Attrs() map[string]any {
	return map[string]any{attrBlocks: string(c.Blocks), attrSchema: string(c.Schema)}
}
func (SiteContent) siteSlice() {}

// SitePartial is a named HTML fragment (header, footer, ...) shared by
// every page.
type SitePartial struct {
	Key     string `json:"key"`
	Content string `json:"content"`
}

func (p SitePartial) SliceKey() string { return SlicePartialPrefix + p.Key }
func (p SitePartial) Attrs() map[string]any {
	return map[string]any{attrPartial: p.Content}
}
func (SitePartial) siteSlice() {}

// TagMeta labels a tag.
type TagMeta struct {
	Label string `json:"label"`
}

func (TagMeta) SliceKey() string { return SliceMeta }
func (m TagMeta) Attrs() map[string]any {
	return map[string]any{attrLabel: m.Label}
}
func (TagMeta) tagSlice() {}

// GeneratorState is the publish lock state.
type GeneratorState string

const (
	StateIdle       GeneratorState = "idle"
	StateRunning    GeneratorState = "running"
	StateWithErrors GeneratorState = "with_errors"
)

// Status is the single slice of the generator record.
type Status struct {
	State       GeneratorState `json:"state"`
	LastRun     time.Time      `json:"lastRun"`
	LastChanged time.Time      `json:"lastChanged"`
	Error       string         `json:"error,omitempty"`
}

func (Status) SliceKey() string { return SliceStatus }
func (s Status) Attrs() map[string]any {
	return map[string]any{
		attrState:       string(s.State),
		attrLastRun:     Millis(s.LastRun),
		attrLastChanged: Millis(s.LastChanged),
		attrError:       s.Error,
	}
}
func (Status) generatorSlice() {}

// DecodeEntry decodes the ENTRY row of an entity of any kind.
func DecodeEntry(row kv.Row) (Entry, error) {
	if row.SK != SliceEntry {
		return Entry{}, fmt.Errorf("%w %q: not an entry", ErrUnknownSlice, row.SK)
	}
	return decodeEntry(row.Attrs)
}

// DecodePageSlice decodes a row of a PAGE# entity.
func DecodePageSlice(row kv.Row) (PageSlice, error) {
	a := row.Attrs
	switch sk := row.SK; {
	case sk == SliceEntry:
		return decodeEntry(a)
	case sk == SliceMeta:
		return PageMeta{
			Title:              str(a, attrTitle),
			Route:              str(a, attrRoute),
			Slug:               str(a, attrSlug),
			TemplateID:         str(a, attrTemplateID),
			ExcludeFromSitemap: boolean(a, attrExclude),
			Description:        str(a, attrDescription),
		}, nil
	case sk == SliceContent:
		return PageContent{Blocks: raw(a, attrBlocks)}, nil
	case sk == SliceArticle:
		return PageArticle{Markdown: str(a, attrMarkdown)}, nil
	case strings.HasPrefix(sk, SliceTagPrefix):
		return TagRef{TagID: strings.TrimPrefix(sk, SliceTagPrefix)}, nil
	}
	return nil, unknown(KindPage, row.SK)
}

// DecodeTemplateSlice decodes a row of a TEMPLATE# entity.
func DecodeTemplateSlice(row kv.Row) (TemplateSlice, error) {
	a := row.Attrs
	switch row.SK {
	case SliceEntry:
		return decodeEntry(a)
	case SliceMeta:
		return TemplateMeta{Title: str(a, attrTitle)}, nil
	case SliceContent:
		return TemplateContent{
			PageSchema:   raw(a, attrPageSchema),
			SharedData:   raw(a, attrSharedData),
			SharedSchema: raw(a, attrSharedSchema),
		}, nil
	}
	return nil, unknown(KindTemplate, row.SK)
}

// DecodeSiteSlice decodes a row of the SITE entity.
func DecodeSiteSlice(row kv.Row) (SiteSlice, error) {
	a := row.Attrs
	switch sk := row.SK; {
	case sk == SliceEntry:
		return decodeEntry(a)
	case sk == SliceSiteMap:
		return SiteMap{IndexPageID: str(a, attrIndexPage), NotFoundPageID: str(a, attrNotFoundPage)}, nil
	case sk == SliceContent:
		return SiteContent{Blocks: raw(a, attrBlocks), Schema: raw(a, attrSchema)}, nil
	case strings.HasPrefix(sk, SlicePartialPrefix):
		return SitePartial{Key: strings.TrimPrefix(sk, SlicePartialPrefix), Content: str(a, attrPartial)}, nil
	}
	return nil, unknown(KindSite, row.SK)
}

// DecodeTagSlice decodes a row of a TAG# entity.
func DecodeTagSlice(row kv.Row) (TagSlice, error) {
	switch row.SK {
	case SliceEntry:
		return decodeEntry(row.Attrs)
	case SliceMeta:
		return TagMeta{Label: str(row.Attrs, attrLabel)}, nil
	}
	return nil, unknown(KindTag, row.SK)
}

// DecodeGeneratorSlice decodes the generator record.
func DecodeGeneratorSlice(row kv.Row) (GeneratorSlice, error) {
	if row.SK != SliceStatus {
		return nil, unknown(KindGenerator, row.SK)
	}
	a := row.Attrs
	return Status{
		State:       GeneratorState(str(a, attrState)),
		LastRun:     millis(a, attrLastRun),
		LastChanged: millis(a, attrLastChanged),
		Error:       str(a, attrError),
	}, nil
}

func unknown(k Kind, sk string) error {
	return fmt.Errorf("%w %q for %s", ErrUnknownSlice, sk, k)
}
