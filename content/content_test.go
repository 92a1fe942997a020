package content

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/pagepress/kv"
)

var (
	created = time.UnixMilli(1_700_000_000_123).UTC()
	updated = time.UnixMilli(1_700_000_500_456).UTC()
)

// roundTrip encodes slices to rows and decodes them with decode.
func roundTrip[S Slice](t *testing.T, key string, in []S, decode func(kv.Row) (S, error)) []S {
	t.Helper()
	var out []S
	for _, s := range in {
		row := Row(key, s)
		require.Equal(t, key, row.PK)
		got, err := decode(row)
		require.NoError(t, err)
		out = append(out, got)
	}
	return out
}

func TestPageRoundTrip(t *testing.T) {
	page := &Page{
		Key:   PageKey("p1"),
		Entry: &Entry{Type: EntryPage, CreatedAt: created, UpdatedAt: updated},
		Meta: &PageMeta{
			Title: "About", Route: RootRoute, Slug: "about", TemplateID: "t1",
			ExcludeFromSitemap: true, Description: "who we are",
		},
		Content: &PageContent{Blocks: json.RawMessage(`[{"type":"hero"}]`)},
		Article: &PageArticle{Markdown: "# Hi"},
		TagRefs: []TagRef{{TagID: "a"}, {TagID: "b"}},
	}
	slices := roundTrip(t, page.Key, page.Slices(), DecodePageSlice)
	assert.Equal(t, page, AssemblePage(page.Key, slices))
}

func TestTemplateRoundTrip(t *testing.T) {
	tpl := &Template{
		Key:   TemplateKey("t1"),
		Entry: &Entry{Type: EntryTemplate, CreatedAt: created, UpdatedAt: updated},
		Meta:  &TemplateMeta{Title: "Default"},
		Content: &TemplateContent{
			PageSchema:   json.RawMessage(`{"hero":"text"}`),
			SharedData:   json.RawMessage(`{"brand":"x"}`),
			SharedSchema: json.RawMessage(`{}`),
		},
	}
	slices := roundTrip(t, tpl.Key, tpl.Slices(), DecodeTemplateSlice)
	assert.Equal(t, tpl, AssembleTemplate(tpl.Key, slices))
}

func TestSiteRoundTrip(t *testing.T) {
	site := &Site{
		Key:     SiteKey,
		Entry:   &Entry{Type: EntrySite, CreatedAt: created, UpdatedAt: updated},
		Map:     &SiteMap{IndexPageID: "p1", NotFoundPageID: "p2"},
		Content: &SiteContent{Blocks: json.RawMessage(`[]`)},
		Partials: []SitePartial{
			{Key: "footer", Content: "<footer/>"},
			{Key: "header", Content: "<header/>"},
		},
	}
	slices := roundTrip(t, SiteKey, site.Slices(), DecodeSiteSlice)
	assert.Equal(t, site, AssembleSite(slices))
	assert.Equal(t, "<footer/>", site.Partial("footer"))
	assert.Empty(t, site.Partial("nav"))
}

func TestTagAndGeneratorRoundTrip(t *testing.T) {
	tag := &Tag{Key: TagKey("go"), Entry: &Entry{Type: EntryTag, CreatedAt: created, UpdatedAt: created}, Meta: &TagMeta{Label: "Go"}}
	assert.Equal(t, tag, AssembleTag(tag.Key, roundTrip(t, tag.Key, tag.Slices(), DecodeTagSlice)))

	gen := &Generator{Status: Status{State: StateWithErrors, LastRun: created, LastChanged: updated, Error: "boom"}}
	assert.Equal(t, gen, AssembleGenerator(roundTrip(t, GeneratorKey, gen.Slices(), DecodeGeneratorSlice)))
}

func TestAssembleGeneratorDefaultsIdle(t *testing.T) {
	assert.Equal(t, StateIdle, AssembleGenerator(nil).Status.State)
}

func TestUnknownSlice(t *testing.T) {
	_, err := DecodePageSlice(kv.Row{Key: kv.Key{PK: PageKey("x"), SK: SliceSiteMap}})
	assert.ErrorIs(t, err, ErrUnknownSlice)

	_, err = DecodeTemplateSlice(kv.Row{Key: kv.Key{PK: TemplateKey("x"), SK: SliceArticle}})
	assert.ErrorIs(t, err, ErrUnknownSlice)

	_, err = DecodeGeneratorSlice(kv.Row{Key: kv.Key{PK: GeneratorKey, SK: SliceEntry}})
	assert.ErrorIs(t, err, ErrUnknownSlice)
}

func TestDecodeEntryRejectsBadType(t *testing.T) {
	_, err := DecodePageSlice(kv.Row{Key: kv.Key{SK: SliceEntry}, Attrs: map[string]any{attrEntryType: "folder"}})
	assert.Error(t, err)
}

func TestMillisAcceptsDecodedNumbers(t *testing.T) {
	for name, v := range map[string]any{
		"int64":   int64(1_700_000_000_123),
		"float64": float64(1_700_000_000_123),
		"number":  json.Number("1700000000123"),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, created, millis(map[string]any{"t": v}, "t"))
		})
	}
	assert.True(t, millis(map[string]any{}, "t").IsZero())
	assert.Zero(t, Millis(time.Time{}))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, KindPage, KindOf(PageKey("1")))
	assert.Equal(t, KindTemplate, KindOf(TemplateKey("1")))
	assert.Equal(t, KindTag, KindOf(TagKey("1")))
	assert.Equal(t, KindSite, KindOf(SiteKey))
	assert.Equal(t, KindGenerator, KindOf(GeneratorKey))
	assert.Equal(t, KindUnknown, KindOf("USER#1"))
	assert.Equal(t, "abc", IDOf(PageKey("abc")))
	assert.Equal(t, SiteKey, IDOf(SiteKey))
}

func TestOutputPaths(t *testing.T) {
	root := PageMeta{Route: RootRoute, Slug: "about"}
	assert.Equal(t, "about.html", root.HTMLPath())
	assert.Equal(t, "about.css", root.CSSPath())
	assert.True(t, root.AtRoot())

	nested := PageMeta{Route: "/blog/2024/", Slug: "hello"}
	assert.Equal(t, "blog/2024/hello.html", nested.HTMLPath())
	assert.False(t, nested.AtRoot())
}

func TestReserved(t *testing.T) {
	assert.True(t, IsReserved("_assets/logo.png"))
	assert.True(t, IsReserved("_static/app.js"))
	assert.False(t, IsReserved("assets/logo.png"))
}

func TestSlugAndRouteValidation(t *testing.T) {
	assert.Equal(t, "hello-world-2", Slugify("  Hello, World! 2 "))
	assert.NoError(t, ValidateSlug("hello-world"))
	assert.Error(t, ValidateSlug("Hello"))
	assert.Error(t, ValidateSlug(""))

	assert.NoError(t, ValidateRoute(RootRoute))
	assert.NoError(t, ValidateRoute("blog/2024"))
	assert.Error(t, ValidateRoute("blog//x"))
	assert.Error(t, ValidateRoute("_assets"))
	assert.Equal(t, RootRoute, NormalizeRoute(" / "))
	assert.Equal(t, "blog", NormalizeRoute("/blog/"))
}

func TestPublishState(t *testing.T) {
	lastRun := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	st := Status{LastRun: lastRun}
	before := lastRun.Add(-time.Hour)
	after := lastRun.Add(time.Hour)

	assert.Equal(t, DisplayNew, PublishState(before, before, Status{}))
	assert.Equal(t, DisplayNew, PublishState(after, after, st))
	assert.Equal(t, DisplayChanged, PublishState(before, after, st))
	assert.Equal(t, DisplayPublished, PublishState(before, before, st))

	assert.True(t, Status{LastRun: lastRun, LastChanged: after}.NeedsPublish())
	assert.False(t, Status{LastRun: lastRun, LastChanged: before}.NeedsPublish())
}

func TestPointSlices(t *testing.T) {
	assert.Equal(t, []string{SliceEntry, SliceMeta}, PageListing.PointSlices(KindPage))
	assert.Equal(t, []string{SliceEntry, SliceMeta, SliceContent, SliceArticle}, PageFull.PointSlices(KindPage))
	assert.Equal(t, []string{SliceEntry, SliceSiteMap, SliceContent}, SiteAll.PointSlices(KindSite))
	assert.Equal(t, []string{SliceEntry, SliceMeta}, TemplateAll.PointSlices(KindTag))
	assert.Equal(t, []string{SliceStatus}, WithStatus.PointSlices(KindGenerator))
	assert.True(t, PageFull.Has(WithTags))
	assert.False(t, PageListing.Has(WithTags))
}
