package pagepress

import (
	"context"
	"time"

	"github.com/eringen/pagepress/cache"
	"github.com/eringen/pagepress/content"
)

// siteReader is the part of the repository the read cache serves.
type siteReader interface {
	ListLivePages(ctx context.Context, want content.SliceSet) ([]*content.Page, error)
	GetSite(ctx context.Context, want content.SliceSet) (*content.Site, error)
}

// SiteCache caches the page listing and the site record for the admin
// API. Concurrent misses share one repository read.
type SiteCache struct {
	repo  siteReader
	pages *cache.Cache[string, []*content.Page]
	site  *cache.Cache[string, *content.Site]
}

const cacheKey = "all"

// NewSiteCache creates a SiteCache backed by repo.
func NewSiteCache(repo siteReader, ttl time.Duration) *SiteCache {
	return &SiteCache{
		repo:  repo,
		pages: cache.New[string, []*content.Page](ttl),
		site:  cache.New[string, *content.Site](ttl),
	}
}

// Pages returns the live pages with their entry, meta and tags.
func (c *SiteCache) Pages(ctx context.Context) ([]*content.Page, error) {
	return c.pages.Get(ctx, cacheKey, func(ctx context.Context) ([]*content.Page, error) {
		return c.repo.ListLivePages(ctx, content.PageListing|content.WithTags)
	})
}

// Site returns the site record without out-of-band assets.
func (c *SiteCache) Site(ctx context.Context) (*content.Site, error) {
	return c.site.Get(ctx, cacheKey, func(ctx context.Context) (*content.Site, error) {
		return c.repo.GetSite(ctx, content.SiteAll)
	})
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *SiteCache) Invalidate() {
	c.pages.InvalidateAll()
	c.site.InvalidateAll()
}
