package content

import (
	"sort"
)

// Page is the join of every PAGE# slice.
type Page struct {
	Key     string       `json:"key"`
	Entry   *Entry       `json:"entry,omitempty"`
	Meta    *PageMeta    `json:"meta,omitempty"`
	Content *PageContent `json:"content,omitempty"`
	Article *PageArticle `json:"article,omitempty"`
	TagRefs []TagRef     `json:"tagRefs,omitempty"`

	// Tags are the resolved TagRefs. They are not slices of the page.
	Tags []*Tag `json:"tags,omitempty"`
}

func (p *Page) ID() string { return IDOf(p.Key) }

// Live reports whether the page is present and not soft deleted.
func (p *Page) Live() bool { return p.Entry != nil && p.Entry.Live() }

// AssemblePage joins decoded slices of one page.
func AssemblePage(key string, slices []PageSlice) *Page {
	p := &Page{Key: key}
	for _, s := range slices {
		switch v := s.(type) {
		case Entry:
			p.Entry = &v
		case PageMeta:
			p.Meta = &v
		case PageContent:
			p.Content = &v
		case PageArticle:
			p.Article = &v
		case TagRef:
			p.TagRefs = append(p.TagRefs, v)
		}
	}
	sort.Slice(p.TagRefs, func(i, j int) bool { return p.TagRefs[i].TagID < p.TagRefs[j].TagID })
	return p
}

// Slices decomposes the page into its stored slices.
func (p *Page) Slices() []PageSlice {
	var out []PageSlice
	if p.Entry != nil {
		out = append(out, *p.Entry)
	}
	if p.Meta != nil {
		out = append(out, *p.Meta)
	}
	if p.Content != nil {
		out = append(out, *p.Content)
	}
	if p.Article != nil {
		out = append(out, *p.Article)
	}
	for _, r := range p.TagRefs {
		out = append(out, r)
	}
	return out
}

// Template is the join of every TEMPLATE# slice plus its blob-stored markup.
type Template struct {
	Key     string           `json:"key"`
	Entry   *Entry           `json:"entry,omitempty"`
	Meta    *TemplateMeta    `json:"meta,omitempty"`
	Content *TemplateContent `json:"content,omitempty"`

	// Markup is loaded from the source bucket, not the slice table.
	Markup *Markup `json:"markup,omitempty"`
}

// Markup is the out-of-band HTML and CSS of a template.
type Markup struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
}

func (t *Template) ID() string { return IDOf(t.Key) }

func AssembleTemplate(key string, slices []TemplateSlice) *Template {
	t := &Template{Key: key}
	for _, s := range slices {
		switch v := s.(type) {
		case Entry:
			t.Entry = &v
		case TemplateMeta:
			t.Meta = &v
		case TemplateContent:
			t.Content = &v
		}
	}
	return t
}

func (t *Template) Slices() []TemplateSlice {
	var out []TemplateSlice
	if t.Entry != nil {
		out = append(out, *t.Entry)
	}
	if t.Meta != nil {
		out = append(out, *t.Meta)
	}
	if t.Content != nil {
		out = append(out, *t.Content)
	}
	return out
}

// Site is the SITE entity.
type Site struct {
	Key      string        `json:"key"`
	Entry    *Entry        `json:"entry,omitempty"`
	Map      *SiteMap      `json:"map,omitempty"`
	Content  *SiteContent  `json:"content,omitempty"`
	Partials []SitePartial `json:"partials,omitempty"`

	// Assets are loaded from the source bucket.
	Assets *SiteAssets `json:"assets,omitempty"`
}

// SiteAssets are the out-of-band global stylesheet and scripts.
type SiteAssets struct {
	CSS     string `json:"css"`
	Scripts string `json:"scripts"`
}

func AssembleSite(slices []SiteSlice) *Site {
	s := &Site{Key: SiteKey}
	for _, sl := range slices {
		switch v := sl.(type) {
		case Entry:
			s.Entry = &v
		case SiteMap:
			s.Map = &v
		case SiteContent:
			s.Content = &v
		case SitePartial:
			s.Partials = append(s.Partials, v)
		}
	}
	sort.Slice(s.Partials, func(i, j int) bool { return s.Partials[i].Key < s.Partials[j].Key })
	return s
}

func (s *Site) Slices() []SiteSlice {
	var out []SiteSlice
	if s.Entry != nil {
		out = append(out, *s.Entry)
	}
	if s.Map != nil {
		out = append(out, *s.Map)
	}
	if s.Content != nil {
		out = append(out, *s.Content)
	}
	for _, p := range s.Partials {
		out = append(out, p)
	}
	return out
}

// Partial returns the partial with the given key, or "".
func (s *Site) Partial(key string) string {
	for _, p := range s.Partials {
		if p.Key == key {
			return p.Content
		}
	}
	return ""
}

// Tag is a TAG# entity.
type Tag struct {
	Key   string   `json:"key"`
	Entry *Entry   `json:"entry,omitempty"`
	Meta  *TagMeta `json:"meta,omitempty"`
}

func (t *Tag) ID() string { return IDOf(t.Key) }

func AssembleTag(key string, slices []TagSlice) *Tag {
	t := &Tag{Key: key}
	for _, s := range slices {
		switch v := s.(type) {
		case Entry:
			t.Entry = &v
		case TagMeta:
			t.Meta = &v
		}
	}
	return t
}

func (t *Tag) Slices() []TagSlice {
	var out []TagSlice
	if t.Entry != nil {
		out = append(out, *t.Entry)
	}
	if t.Meta != nil {
		out = append(out, *t.Meta)
	}
	return out
}

// Generator is the single GENERATOR record.
type Generator struct {
	Status Status `json:"status"`
}

func AssembleGenerator(slices []GeneratorSlice) *Generator {
	g := &Generator{Status: Status{State: StateIdle}}
	for _, s := range slices {
		if v, ok := s.(Status); ok {
			g.Status = v
		}
	}
	return g
}

func (g *Generator) Slices() []GeneratorSlice {
	return []GeneratorSlice{g.Status}
}

// SliceSet selects which slices a read fetches.
type SliceSet uint16

const (
	WithEntry SliceSet = 1 << iota
	WithMeta
	WithContent
	WithArticle
	WithTags // page TAG# refs, resolved into Tag entities
	WithSiteMap
	WithPartials // SITE_PARTIAL# slices
	WithMarkup   // template html/css from the source bucket
	WithAssets   // site css/scripts from the source bucket
	WithStatus
)

// Common slice selections.
const (
	PageListing = WithEntry | WithMeta
	PageFull    = WithEntry | WithMeta | WithContent | WithArticle | WithTags
	TemplateAll = WithEntry | WithMeta | WithContent
	SiteAll     = WithEntry | WithSiteMap | WithContent | WithPartials
)

func (s SliceSet) Has(f SliceSet) bool { return s&f == f }

// PointSlices returns the single-row slice keys selected by s, ENTRY first.
// Prefix-addressed slices (tags, partials) and blob-backed parts are not
// included.
func (s SliceSet) PointSlices(kind Kind) []string {
	out := []string{SliceEntry}
	switch kind {
	case KindPage:
		if s.Has(WithMeta) {
			out = append(out, SliceMeta)
		}
		if s.Has(WithContent) {
			out = append(out, SliceContent)
		}
		if s.Has(WithArticle) {
			out = append(out, SliceArticle)
		}
	case KindTemplate, KindTag:
		if s.Has(WithMeta) {
			out = append(out, SliceMeta)
		}
		if kind == KindTemplate && s.Has(WithContent) {
			out = append(out, SliceContent)
		}
	case KindSite:
		if s.Has(WithSiteMap) {
			out = append(out, SliceSiteMap)
		}
		if s.Has(WithContent) {
			out = append(out, SliceContent)
		}
	case KindGenerator:
		return []string{SliceStatus}
	}
	return out
}
