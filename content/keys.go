// Package content defines the entities stored in the slice table and how
// they are composed from, and decomposed into, individual slices.
package content

import (
	"strings"

	"github.com/eringen/pagepress/kv"
)

// Entity key prefixes and singletons.
const (
	PagePrefix     = "PAGE#"
	TemplatePrefix = "TEMPLATE#"
	TagPrefix      = "TAG#"
	SiteKey        = "SITE"
	GeneratorKey   = "GENERATOR"
)

// Slice keys.
const (
	SliceEntry         = "ENTRY"
	SliceMeta          = "META"
	SliceContent       = "CONTENT"
	SliceArticle       = "ARTICLE"
	SliceStatus        = "STATUS"
	SliceSiteMap       = "SITE_MAP"
	SliceTagPrefix     = "TAG#"
	SlicePartialPrefix = "SITE_PARTIAL#"
)

// Secondary indexes declared on the slice table.
var (
	IndexByEntryType = kv.Index{Name: "byEntryType", Attr: attrEntryType}
	IndexByTemplate  = kv.Index{Name: "byTemplate", Attr: attrTemplateID}
)

// Indexes returns every index the repository queries.
func Indexes() []kv.Index {
	return []kv.Index{IndexByEntryType, IndexByTemplate}
}

// EntryType discriminates composite entities.
type EntryType string

const (
	EntryPage        EntryType = "page"
	EntryDeletedPage EntryType = "deleted_page"
	EntryTemplate    EntryType = "template"
	EntrySite        EntryType = "site"
	EntryTag         EntryType = "tag"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryPage, EntryDeletedPage, EntryTemplate, EntrySite, EntryTag:
		return true
	}
	return false
}

// Kind is the entity kind encoded in a key prefix.
type Kind int

const (
	KindUnknown Kind = iota
	KindPage
	KindTemplate
	KindTag
	KindSite
	KindGenerator
)

func (k Kind) String() string {
	switch k {
	case KindPage:
		return "page"
	case KindTemplate:
		return "template"
	case KindTag:
		return "tag"
	case KindSite:
		return "site"
	case KindGenerator:
		return "generator"
	}
	return "unknown"
}

func PageKey(id string) string     { return PagePrefix + id }
func TemplateKey(id string) string { return TemplatePrefix + id }
func TagKey(id string) string      { return TagPrefix + id }

// KindOf returns the kind encoded in an entity key.
func KindOf(key string) Kind {
	switch {
	case strings.HasPrefix(key, PagePrefix):
		return KindPage
	case strings.HasPrefix(key, TemplatePrefix):
		return KindTemplate
	case strings.HasPrefix(key, TagPrefix):
		return KindTag
	case key == SiteKey:
		return KindSite
	case key == GeneratorKey:
		return KindGenerator
	}
	return KindUnknown
}

// IDOf returns the id part of a prefixed key, or the key itself for
// singletons.
func IDOf(key string) string {
	if i := strings.IndexByte(key, '#'); i >= 0 {
		return key[i+1:]
	}
	return key
}
