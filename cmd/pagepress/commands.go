package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eringen/pagepress"
	"github.com/eringen/pagepress/errs"
)

// Globals is shared state handed to every command.
type Globals struct {
	Out io.Writer
}

// CLI is the command tree and its global flags.
type CLI struct {
	Config  string `short:"c" help:"Configuration file path (optional)" type:"path"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Serve the admin API"`
	Publish PublishCmd `cmd:"" help:"Publish the site once and print the report"`
	Status  StatusCmd  `cmd:"" help:"Print the generator status"`
	Seed    SeedCmd    `cmd:"" help:"Create the default template, index and error pages"`
	Version VersionCmd `cmd:"" help:"Print the version"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// open loads configuration and builds the application without serving.
func (c *CLI) open(ctx context.Context) (*pagepress.App, error) {
	cfg, err := pagepress.LoadConfig(c.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return pagepress.New(ctx, cfg, pagepress.WithLogger(slog.Default()))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	ShutdownTimeout time.Duration `help:"Grace period for in-flight requests" default:"10s"`
}

func (s *ServeCmd) Run(_ *Globals, root *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := root.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// PublishCmd implements the 'publish' command.
type PublishCmd struct {
	Domain string `short:"d" help:"Domain to publish for (defaults to site.domain)"`
}

func (p *PublishCmd) Run(g *Globals, root *CLI) error {
	ctx := context.Background()
	app, err := root.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	domain := p.Domain
	if domain == "" {
		domain = app.Config.Site.Domain
	}
	if domain == "" {
		return errs.Validation("cli.publish", "no domain: pass --domain or set site.domain")
	}
	report, err := app.Pipeline.Publish(ctx, domain)
	if err != nil {
		return err
	}
	return writeJSON(g.Out, report)
}

// StatusCmd implements the 'status' command.
type StatusCmd struct{}

func (StatusCmd) Run(g *Globals, root *CLI) error {
	ctx := context.Background()
	app, err := root.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	status, err := app.Generator.Status(ctx)
	if err != nil {
		return err
	}
	return writeJSON(g.Out, map[string]any{
		"status":       status,
		"needsPublish": status.NeedsPublish(),
	})
}

// SeedCmd implements the 'seed' command.
type SeedCmd struct{}

func (SeedCmd) Run(g *Globals, root *CLI) error {
	ctx := context.Background()
	app, err := root.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := pagepress.Seed(ctx, app.Repo)
	if err != nil {
		return err
	}
	return writeJSON(g.Out, res)
}

// VersionCmd implements the 'version' command.
type VersionCmd struct{}

func (VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintf(g.Out, "pagepress %s\n", version)
	return err
}
