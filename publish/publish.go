// Package publish builds the static site from the stored entity graph,
// uploads the files that changed, removes stale ones and invalidates the
// CDN through the generator.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/eringen/pagepress/blob"
	"github.com/eringen/pagepress/cache"
	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/generator"
	"github.com/eringen/pagepress/logfields"
	"github.com/eringen/pagepress/metrics"
	"github.com/eringen/pagepress/render"
)

const (
	// DefaultMaxPages is the page ceiling a site can be published with.
	DefaultMaxPages = 250
	// PageWorkers is the number of page jobs that run at once.
	PageWorkers = 3
)

const (
	typeHTML = "text/html; charset=utf-8"
	typeCSS  = "text/css; charset=utf-8"
	typeXML  = "application/xml; charset=utf-8"
	typeText = "text/plain; charset=utf-8"
)

// Content is the read side of the repository the pipeline needs.
type Content interface {
	ListLivePages(ctx context.Context, want content.SliceSet) ([]*content.Page, error)
	GetTemplates(ctx context.Context, keys []string, want content.SliceSet) ([]*content.Template, error)
	PageTemplate(ctx context.Context, page *content.Page, want content.SliceSet) (*content.Template, error)
	GetSite(ctx context.Context, want content.SliceSet) (*content.Site, error)
}

// Lock is the generator state machine.
type Lock interface {
	TryStart(ctx context.Context) (generator.Snapshot, error)
	Finish(ctx context.Context, deleted, invalidated []string) (generator.FinishResult, error)
	Fail(ctx context.Context, message string) error
}

// Report summarises a finished run.
type Report struct {
	RunID       string        `json:"runId"`
	Uploaded    []string      `json:"uploaded"`
	Skipped     []string      `json:"skipped"`
	Deleted     []string      `json:"deleted"`
	Invalidated []string      `json:"invalidated"`
	Duration    time.Duration `json:"duration"`
}

// Pipeline publishes a site. It is safe for concurrent use; concurrent
// Publish calls for one domain share a single run.
type Pipeline struct {
	content  Content
	lock     Lock
	output   blob.Store
	renderer render.Renderer
	logger   *slog.Logger
	metrics  metrics.Recorder
	maxPages int
	workers  int
	now      func() time.Time
	newRunID func() string
	flight   singleflight.Group
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func WithMetrics(r metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = metrics.OrNoop(r) }
}

// WithMaxPages overrides DefaultMaxPages.
func WithMaxPages(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxPages = n
		}
	}
}

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithRunIDGenerator(fn func() string) Option { return func(p *Pipeline) { p.newRunID = fn } }

// New creates a pipeline. A nil renderer means render.Default.
func New(c Content, lock Lock, output blob.Store, r render.Renderer, opts ...Option) *Pipeline {
	if r == nil {
		r = render.Default{}
	}
	p := &Pipeline{
		content:  c,
		lock:     lock,
		output:   output,
		renderer: r,
		logger:   slog.Default(),
		metrics:  metrics.NoopRecorder{},
		maxPages: DefaultMaxPages,
		workers:  PageWorkers,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish runs one build for domain. Callers arriving while a run for the
// same domain is in progress in this process wait for it and share its
// report. The run itself is not cancelled when a caller's ctx ends.
func (p *Pipeline) Publish(ctx context.Context, domain string) (*Report, error) {
	ch := p.flight.DoChan(domain, func() (any, error) {
		return p.publish(context.WithoutCancel(ctx), domain)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Report), nil
	}
}

// plan is what validation produced.
type plan struct {
	site  *content.Site
	pages []*content.Page
}

func (p *Pipeline) publish(ctx context.Context, domain string) (*Report, error) {
	start := p.now()
	runID := p.newRunID()
	logger := p.logger.With(logfields.RunID(runID), logfields.Domain(domain))

	pl, err := p.validate(ctx)
	if err != nil {
		outcome := metrics.OutcomeFailed
		if errs.Is(err, errs.KindValidation) {
			outcome = metrics.OutcomeInvalid
		}
		p.metrics.IncPublishOutcome(outcome)
		logger.WarnContext(ctx, "Publish rejected", logfields.Error(err))
		return nil, err
	}

	snap, err := p.lock.TryStart(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyRunning) {
			p.metrics.IncPublishOutcome(metrics.OutcomeConflict)
		} else {
			p.metrics.IncPublishOutcome(metrics.OutcomeFailed)
		}
		logger.WarnContext(ctx, "Publish not started", logfields.Error(err))
		return nil, err
	}
	logger.InfoContext(ctx, "Publish started", logfields.Count(len(pl.pages)))

	r := newRun(snap, p.output, p.metrics)
	report, err := p.execute(ctx, r, pl, domain)
	if err != nil {
		p.abort(ctx, logger, err)
		p.metrics.IncPublishOutcome(metrics.OutcomeFailed)
		p.metrics.ObservePublishDuration(p.now().Sub(start))
		return nil, err
	}
	report.RunID = runID
	report.Duration = p.now().Sub(start)
	p.metrics.IncPublishOutcome(metrics.OutcomeSuccess)
	p.metrics.ObservePublishDuration(report.Duration)
	logger.InfoContext(ctx, "Publish finished",
		slog.Int("uploaded", len(report.Uploaded)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("deleted", len(report.Deleted)),
		logfields.DurationMS(float64(report.Duration.Microseconds())/1000))
	return report, nil
}

// validate checks the site can be published. Nothing is written.
func (p *Pipeline) validate(ctx context.Context) (*plan, error) {
	const op = "publish.validate"
	pages, err := p.content.ListLivePages(ctx, content.PageFull)
	if err != nil {
		return nil, err
	}
	if len(pages) > p.maxPages {
		return nil, errs.Validation(op, "site has %d pages, the limit is %d", len(pages), p.maxPages)
	}

	var hasIndex, hasNotFound bool
	templates := map[string][]string{}
	for _, pg := range pages {
		if pg.Meta == nil {
			return nil, errs.Integrity(op, "page %s has no meta", pg.ID())
		}
		if pg.Meta.AtRoot() {
			hasIndex = hasIndex || pg.Meta.Slug == content.IndexSlug
			hasNotFound = hasNotFound || pg.Meta.Slug == content.NotFoundSlug
		}
		templates[pg.Meta.TemplateID] = append(templates[pg.Meta.TemplateID], pg.ID())
	}
	if !hasIndex {
		return nil, errs.Validation(op, "site has no %q page at the root", content.IndexSlug)
	}
	if !hasNotFound {
		return nil, errs.Validation(op, "site has no %q page at the root", content.NotFoundSlug)
	}

	keys := make([]string, 0, len(templates))
	for id := range templates {
		keys = append(keys, content.TemplateKey(id))
	}
	found, err := p.content.GetTemplates(ctx, keys, content.WithEntry)
	if err != nil {
		return nil, err
	}
	for _, t := range found {
		delete(templates, t.ID())
	}
	if len(templates) > 0 {
		missing := make([]string, 0, len(templates))
		for id, pageIDs := range templates {
			missing = append(missing, fmt.Sprintf("%s (pages %v)", id, pageIDs))
		}
		sort.Strings(missing)
		return nil, errs.Validation(op, "missing templates: %v", missing)
	}

	site, err := p.content.GetSite(ctx, content.SiteAll|content.WithAssets)
	if errs.Is(err, errs.KindNotFound) {
		return nil, errs.Validation(op, "site record does not exist")
	}
	if err != nil {
		return nil, err
	}
	return &plan{site: site, pages: pages}, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run, pl *plan, domain string) (*Report, error) {
	globalCSS := ""
	if pl.site.Assets != nil {
		globalCSS = pl.site.Assets.CSS
	}
	siteFiles, err := p.renderer.RenderSiteFiles(ctx, render.SiteInput{
		Domain:    domain,
		Site:      pl.site,
		Pages:     pl.pages,
		GlobalCSS: globalCSS,
	})
	if err != nil {
		return nil, fmt.Errorf("render site files: %w", err)
	}
	if err := r.upload(ctx, content.SiteStylesPath, siteFiles.Styles, typeCSS); err != nil {
		return nil, err
	}
	if err := r.upload(ctx, content.SitemapPath, siteFiles.Sitemap, typeXML); err != nil {
		return nil, err
	}

	if err := p.renderPages(ctx, r, pl, domain); err != nil {
		return nil, err
	}

	if err := r.upload(ctx, content.RobotsPath, render.Robots(domain), typeText); err != nil {
		return nil, err
	}

	deleted := r.stale()
	res, err := p.lock.Finish(ctx, deleted, r.changed())
	if err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	p.metrics.AddFileResult(metrics.FileDeleted, res.Deleted)
	return &Report{
		Uploaded:    r.changed(),
		Skipped:     r.skippedPaths(),
		Deleted:     deleted,
		Invalidated: res.Invalidated,
	}, nil
}

// renderPages renders and uploads every page with at most p.workers jobs
// in flight. After the first failure no further job is started.
func (p *Pipeline) renderPages(ctx context.Context, r *run, pl *plan, domain string) error {
	templates := cache.New[string, *content.Template](0)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	var (
		mu       sync.Mutex
		inFlight int
	)
	track := func(delta int) {
		mu.Lock()
		inFlight += delta
		p.metrics.SetPagesInFlight(inFlight)
		mu.Unlock()
	}

	siteStylesURL := "/" + content.SiteStylesPath
	for _, pg := range pl.pages {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			track(1)
			defer track(-1)

			tpl, err := templates.Get(gctx, pg.Meta.TemplateID, func(ctx context.Context) (*content.Template, error) {
				return p.content.PageTemplate(ctx, pg, content.TemplateAll|content.WithMarkup)
			})
			if err != nil {
				return fmt.Errorf("page %s: %w", pg.ID(), err)
			}
			in := render.PageInput{
				Domain:        domain,
				Site:          pl.site,
				Page:          pg,
				SiteStylesURL: siteStylesURL,
			}
			if pg.Article != nil {
				in.Markdown = pg.Article.Markdown
			}
			if tpl.Markup != nil {
				in.HTML, in.CSS = tpl.Markup.HTML, tpl.Markup.CSS
			}
			files, err := p.renderer.RenderPageFiles(gctx, in)
			if err != nil {
				return fmt.Errorf("render page %s: %w", pg.ID(), err)
			}
			if err := r.upload(gctx, pg.Meta.CSSPath(), files.Styles, typeCSS); err != nil {
				return err
			}
			return r.upload(gctx, pg.Meta.HTMLPath(), files.HTML, typeHTML)
		})
	}
	return g.Wait()
}

// abort records the failure and releases the lock. Finish after Fail is
// expected to report a stale completion; that is only logged.
func (p *Pipeline) abort(ctx context.Context, logger *slog.Logger, cause error) {
	logger.ErrorContext(ctx, "Publish failed", logfields.Error(cause))
	if err := p.lock.Fail(ctx, cause.Error()); err != nil {
		logger.ErrorContext(ctx, "Failed to record publish failure", logfields.Error(err))
	}
	if _, err := p.lock.Finish(ctx, nil, nil); err != nil && !errors.Is(err, errs.ErrStaleCompletion) {
		logger.ErrorContext(ctx, "Failed to release generator", logfields.Error(err))
	}
}
