// Package pagepress is a content-management server. Pages, templates,
// tags and the site record live as slices in a single key-value table;
// publishing turns them into static files in an output bucket, uploads
// only what changed and invalidates the CDN.
package pagepress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/eringen/pagepress/blob"
	"github.com/eringen/pagepress/cdn"
	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/generator"
	"github.com/eringen/pagepress/kv"
	"github.com/eringen/pagepress/metrics"
	"github.com/eringen/pagepress/publish"
	"github.com/eringen/pagepress/render"
	"github.com/eringen/pagepress/repository"
)

// App wires the stores, repository, generator, publish pipeline and the
// HTTP API together.
type App struct {
	Config    Config
	Echo      *echo.Echo
	Logger    *slog.Logger
	Store     kv.Store
	Output    blob.Store
	Source    blob.Store
	Repo      *repository.Repository
	Generator *generator.Machine
	Pipeline  *publish.Pipeline
	Sites     *SiteCache
	Registry  *prom.Registry

	rawStore     kv.Store
	renderer     render.Renderer
	invalidator  cdn.Invalidator
	recorder     metrics.Recorder
	loginLimiter *AttemptLimiter
	auto         *AutoPublisher
	now          func() time.Time
	closers      []func() error
	customRoutes []func(*App)
}

// Option configures additional App behavior.
type Option func(*App)

// WithStores replaces the SQLite table and filesystem buckets.
func WithStores(store kv.Store, output, source blob.Store) Option {
	return func(a *App) {
		a.rawStore = store
		a.Output = output
		a.Source = source
	}
}

func WithRenderer(r render.Renderer) Option { return func(a *App) { a.renderer = r } }

func WithInvalidator(inv cdn.Invalidator) Option { return func(a *App) { a.invalidator = inv } }

func WithLogger(l *slog.Logger) Option { return func(a *App) { a.Logger = l } }

// WithRegistry sets the Prometheus registry metrics are registered in.
func WithRegistry(reg *prom.Registry) Option { return func(a *App) { a.Registry = reg } }

func WithClock(now func() time.Time) Option { return func(a *App) { a.now = now } }

// WithCustomRoutes registers additional routes on the Echo instance after
// the built-in ones.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// New opens the configured stores and builds the application. Routes are
// registered immediately so the Echo instance can be served or tested.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	cfg.setDefaults()
	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		Logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if a.Registry == nil {
		a.Registry = metrics.NewRegistry()
	}
	a.recorder = metrics.NewPrometheusRecorder(a.Registry)
	if a.renderer == nil {
		a.renderer = render.Default{}
	}
	a.Store = kv.NewRetrying(a.rawStore, cfg.Retry.Policy(), a.Logger, a.recorder)

	a.Generator = generator.New(a.Store, a.Output, a.invalidator,
		generator.WithLogger(a.Logger),
		generator.WithDistributionID(cfg.CDN.DistributionID))
	a.Repo = repository.New(a.Store, a.Source,
		repository.WithLogger(a.Logger),
		repository.WithChangeHook(a.contentChanged))
	a.Sites = NewSiteCache(a.Repo, cfg.Cache.TTL)
	a.Pipeline = publish.New(a.Repo, a.Generator, a.Output, a.renderer,
		publish.WithLogger(a.Logger),
		publish.WithMetrics(a.recorder),
		publish.WithMaxPages(cfg.Publish.MaxPages))
	a.loginLimiter = NewAttemptLimiter(5, time.Minute)
	a.closers = append(a.closers, func() error { a.loginLimiter.Stop(); return nil })

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	return a, nil
}

// open creates whatever stores and collaborators were not injected.
func (a *App) open(ctx context.Context) error {
	cfg := a.Config
	if a.rawStore == nil {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0o755); err != nil {
			return fmt.Errorf("pagepress: create data dir: %w", err)
		}
		store, err := kv.OpenSQLite(cfg.Storage.DatabasePath, content.Indexes()...)
		if err != nil {
			return fmt.Errorf("pagepress: init store: %w", err)
		}
		a.rawStore = store
	}
	a.closers = append(a.closers, a.rawStore.Close)

	if a.Output == nil {
		var opts []blob.FSOption
		if cfg.Storage.UploadSecret != "" {
			opts = append(opts, blob.WithSignedUploads(cfg.Site.BaseURL+"/uploads", []byte(cfg.Storage.UploadSecret), cfg.Storage.UploadTTL))
		}
		out, err := blob.NewFS(cfg.Storage.OutputDir, opts...)
		if err != nil {
			return fmt.Errorf("pagepress: init output bucket: %w", err)
		}
		a.Output = out
	}
	if a.Source == nil {
		src, err := blob.NewFS(cfg.Storage.SourceDir)
		if err != nil {
			return fmt.Errorf("pagepress: init source bucket: %w", err)
		}
		a.Source = src
	}

	if a.invalidator == nil {
		if cfg.CDN.NATSURL != "" {
			n, err := cdn.NewNATS(ctx, cdn.NATSConfig{URL: cfg.CDN.NATSURL, Subject: cfg.CDN.Subject, Stream: cfg.CDN.Stream}, a.Logger)
			if err != nil {
				return fmt.Errorf("pagepress: init CDN invalidator: %w", err)
			}
			a.invalidator = n
			a.closers = append(a.closers, n.Close)
		} else {
			a.invalidator = cdn.Log{Logger: a.Logger}
		}
	}
	return nil
}

// contentChanged runs after every content mutation.
func (a *App) contentChanged(ctx context.Context, at time.Time) error {
	a.Sites.Invalidate()
	return a.Generator.MarkChanged(ctx, at)
}

// Start begins auto-publishing (when configured) and serves HTTP until the
// server is shut down.
func (a *App) Start() error {
	if err := a.Config.validateServe(); err != nil {
		return err
	}
	if a.Config.Publish.AutoInterval > 0 && a.Config.Site.Domain != "" {
		auto, err := NewAutoPublisher(a.Config.Publish.AutoInterval, a.Generator, a.Pipeline, a.Config.Site.Domain, a.Logger)
		if err != nil {
			return err
		}
		a.auto = auto
		auto.Start()
		a.closers = append(a.closers, auto.Stop)
	}
	a.Logger.Info("Serving", slog.String("addr", a.Config.Server.Addr))
	if err := a.Echo.Start(a.Config.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}

// Close releases stores and background workers, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
