// Package cdn purges published paths from the edge cache.
package cdn

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/eringen/pagepress/logfields"
)

// Invalidator purges paths for one distribution.
type Invalidator interface {
	Invalidate(ctx context.Context, distributionID string, paths []string) error
}

// NormalizePaths prefixes every path with "/", drops duplicates and sorts.
func NormalizePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Noop discards invalidations.
type Noop struct{}

func (Noop) Invalidate(context.Context, string, []string) error { return nil }

// Log records invalidations without contacting a CDN. Useful when the
// output bucket is served directly.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Invalidate(ctx context.Context, distributionID string, paths []string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	paths = NormalizePaths(paths)
	logger.InfoContext(ctx, "CDN invalidation",
		slog.String("distribution", distributionID),
		logfields.Count(len(paths)),
		slog.Any("paths", paths))
	return nil
}
