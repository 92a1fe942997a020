package content

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RootRoute is the route of pages published at the site root.
const RootRoute = "@root"

// Well-known page slugs every site needs before it can be published.
const (
	IndexSlug    = "index"
	NotFoundSlug = "error404"
)

// Site-level output files.
const (
	SiteStylesPath = "siteStyles.css"
	SitemapPath    = "sitemap.xml"
	RobotsPath     = "robots.txt"
)

// ReservedPrefixes hold user uploads and static files. Generation never
// writes or deletes under them.
var ReservedPrefixes = []string{"_assets/", "_static/"}

// IsReserved reports whether an output path is under a reserved prefix.
func IsReserved(path string) bool {
	for _, p := range ReservedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// OutputBase is the output path of a page without extension.
func (m PageMeta) OutputBase() string {
	route := strings.Trim(m.Route, "/")
	if route == "" || route == RootRoute {
		return m.Slug
	}
	return route + "/" + m.Slug
}

func (m PageMeta) HTMLPath() string { return m.OutputBase() + ".html" }
func (m PageMeta) CSSPath() string  { return m.OutputBase() + ".css" }

// AtRoot reports whether the page is published at the site root.
func (m PageMeta) AtRoot() bool {
	route := strings.Trim(m.Route, "/")
	return route == "" || route == RootRoute
}

// Slugify converts a title to a URL-safe slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prev := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = false
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('-')
				prev = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

var (
	slugRe  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	routeRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*(?:/[a-z0-9]+(?:-[a-z0-9]+)*)*$`)
)

// ValidateSlug rejects slugs that are not lowercase words joined by hyphens.
func ValidateSlug(slug string) error {
	if !slugRe.MatchString(slug) {
		return fmt.Errorf("invalid slug %q", slug)
	}
	return nil
}

// ValidateRoute accepts RootRoute or slash-separated slugs. Routes may not
// start with a reserved prefix.
func ValidateRoute(route string) error {
	if route == RootRoute {
		return nil
	}
	r := strings.Trim(route, "/")
	if !routeRe.MatchString(r) {
		return fmt.Errorf("invalid route %q", route)
	}
	if IsReserved(r + "/") {
		return fmt.Errorf("route %q uses a reserved prefix", route)
	}
	return nil
}

// NormalizeRoute trims slashes and maps the empty route to RootRoute.
func NormalizeRoute(route string) string {
	r := strings.Trim(strings.TrimSpace(route), "/")
	if r == "" {
		return RootRoute
	}
	return r
}

// DisplayState is the informational publish state shown next to an entity.
type DisplayState string

const (
	DisplayNew       DisplayState = "new"
	DisplayChanged   DisplayState = "changed"
	DisplayPublished DisplayState = "published"
)

// PublishState compares an entity's timestamps with the last completed run.
func PublishState(createdAt, updatedAt time.Time, status Status) DisplayState {
	switch {
	case status.LastRun.IsZero() || createdAt.After(status.LastRun):
		return DisplayNew
	case updatedAt.After(status.LastRun):
		return DisplayChanged
	}
	return DisplayPublished
}

// NeedsPublish reports whether anything changed since the last run.
func (s Status) NeedsPublish() bool {
	return s.LastChanged.After(s.LastRun)
}
