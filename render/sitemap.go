package render

import (
	"encoding/xml"
	"sort"
	"strings"

	"github.com/eringen/pagepress/content"
)

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// SiteURL is the public base URL of a domain, with a trailing slash.
func SiteURL(domain string) string {
	domain = strings.TrimSuffix(domain, "/")
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	return domain + "/"
}

// PageURL is the public URL of a page. The index page is served at "/".
func PageURL(domain string, meta content.PageMeta) string {
	if meta.AtRoot() && meta.Slug == content.IndexSlug {
		return SiteURL(domain)
	}
	return SiteURL(domain) + meta.HTMLPath()
}

// Sitemap renders sitemap.xml for the live pages of a site. Pages marked
// excludeFromSitemap and the not-found page are left out.
func Sitemap(domain string, site *content.Site, pages []*content.Page) (string, error) {
	notFound := ""
	if site != nil && site.Map != nil {
		notFound = content.PageKey(site.Map.NotFoundPageID)
	}
	var urls []sitemapURL
	for _, p := range pages {
		if p == nil || p.Meta == nil || !p.Live() || p.Meta.ExcludeFromSitemap {
			continue
		}
		if p.Key == notFound || (p.Meta.AtRoot() && p.Meta.Slug == content.NotFoundSlug) {
			continue
		}
		u := sitemapURL{Loc: PageURL(domain, *p.Meta)}
		if p.Entry != nil && !p.Entry.UpdatedAt.IsZero() {
			u.LastMod = p.Entry.UpdatedAt.UTC().Format("2006-01-02")
		}
		urls = append(urls, u)
	}
	sort.Slice(urls, func(i, j int) bool { return urls[i].Loc < urls[j].Loc })

	out, err := xml.MarshalIndent(sitemapURLSet{
		XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  urls,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(out) + "\n", nil
}

// Robots renders robots.txt pointing crawlers at the sitemap.
func Robots(domain string) string {
	return "User-agent: *\nAllow: /\n\nSitemap: " + SiteURL(domain) + content.SitemapPath + "\n"
}
