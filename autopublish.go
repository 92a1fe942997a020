package pagepress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/logfields"
	"github.com/eringen/pagepress/publish"
)

type stalenessChecker interface {
	NeedsPublish(ctx context.Context) (bool, error)
}

type publisher interface {
	Publish(ctx context.Context, domain string) (*publish.Report, error)
}

// AutoPublisher periodically publishes the site when content changed
// since the last run.
type AutoPublisher struct {
	scheduler gocron.Scheduler
	status    stalenessChecker
	pipeline  publisher
	domain    string
	logger    *slog.Logger
}

// NewAutoPublisher schedules a check every interval. Call Start to begin.
func NewAutoPublisher(interval time.Duration, status stalenessChecker, pipeline publisher, domain string, logger *slog.Logger) (*AutoPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	a := &AutoPublisher{scheduler: s, status: status, pipeline: pipeline, domain: domain, logger: logger}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(a.tick),
		gocron.WithName("auto-publish"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create auto-publish job: %w", err)
	}
	return a, nil
}

func (a *AutoPublisher) Start() {
	a.logger.Info("Starting auto-publish scheduler", logfields.Domain(a.domain))
	a.scheduler.Start()
}

func (a *AutoPublisher) Stop() error {
	return a.scheduler.Shutdown()
}

func (a *AutoPublisher) tick() {
	if _, err := a.RunOnce(context.Background()); err != nil {
		a.logger.Error("Auto-publish failed", logfields.Domain(a.domain), logfields.Error(err))
	}
}

// RunOnce publishes if the site needs it and reports whether a run
// happened. A run already in progress is not an error.
func (a *AutoPublisher) RunOnce(ctx context.Context) (bool, error) {
	stale, err := a.status.NeedsPublish(ctx)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}
	report, err := a.pipeline.Publish(ctx, a.domain)
	if errs.Is(err, errs.KindConflict) {
		a.logger.Debug("Auto-publish skipped, run in progress", logfields.Domain(a.domain))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	a.logger.Info("Auto-publish finished",
		logfields.RunID(report.RunID),
		logfields.Count(len(report.Uploaded)))
	return true, nil
}
