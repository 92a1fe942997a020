// Package generator owns the GENERATOR status record: the cross-process
// lock around publish runs and the timestamps that tell whether the site
// needs publishing.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eringen/pagepress/blob"
	"github.com/eringen/pagepress/cdn"
	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/kv"
	"github.com/eringen/pagepress/logfields"
)

var statusKey = kv.Key{PK: content.GeneratorKey, SK: content.SliceStatus}

// Snapshot maps every output path present when a run started to its
// object description. Reserved prefixes are excluded.
type Snapshot map[string]blob.Object

// Paths returns the snapshot's paths.
func (s Snapshot) Paths() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}

// Machine drives the generator state: idle -> running -> idle, or
// running -> with_errors -> running.
type Machine struct {
	store          kv.Store
	output         blob.Store
	cdn            cdn.Invalidator
	distributionID string
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

func WithLogger(l *slog.Logger) Option { return func(m *Machine) { m.logger = l } }

func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

// WithDistributionID sets the CDN distribution invalidated by Finish.
func WithDistributionID(id string) Option { return func(m *Machine) { m.distributionID = id } }

// New creates a machine over the slice table, the output bucket and the CDN.
func New(store kv.Store, output blob.Store, inv cdn.Invalidator, opts ...Option) *Machine {
	if inv == nil {
		inv = cdn.Noop{}
	}
	m := &Machine{store: store, output: output, cdn: inv, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ensure creates the record as idle if it does not exist.
func (m *Machine) ensure(ctx context.Context) error {
	row := content.Row(content.GeneratorKey, content.Status{State: content.StateIdle})
	err := m.store.Put(ctx, row, kv.RowAbsent())
	if err != nil && !errors.Is(err, kv.ErrConditionFailed) {
		return fmt.Errorf("create generator record: %w", err)
	}
	return nil
}

// Status returns the current record, creating it on first use.
func (m *Machine) Status(ctx context.Context) (content.Status, error) {
	if err := m.ensure(ctx); err != nil {
		return content.Status{}, err
	}
	row, ok, err := m.store.Get(ctx, statusKey)
	if err != nil {
		return content.Status{}, fmt.Errorf("read generator record: %w", err)
	}
	if !ok {
		return content.Status{State: content.StateIdle}, nil
	}
	s, err := content.DecodeGeneratorSlice(row)
	if err != nil {
		return content.Status{}, err
	}
	return s.(content.Status), nil
}

// TryStart takes the lock and returns the pre-run snapshot of the output
// bucket. It fails with errs.ErrAlreadyRunning while another run holds the
// lock. If the snapshot cannot be taken the record moves to with_errors
// instead of running.
func (m *Machine) TryStart(ctx context.Context) (Snapshot, error) {
	st, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if st.State == content.StateRunning {
		return nil, errs.ErrAlreadyRunning
	}

	objects, err := m.output.List(ctx, "")
	if err != nil {
		msg := fmt.Sprintf("snapshot output bucket: %v", err)
		uerr := m.store.Update(ctx, statusKey, map[string]any{
			content.AttrState: string(content.StateWithErrors),
			content.AttrError: msg,
		}, kv.AttrNotEquals(content.AttrState, string(content.StateRunning)))
		if errors.Is(uerr, kv.ErrConditionFailed) {
			return nil, errs.ErrAlreadyRunning
		}
		if uerr != nil {
			m.logger.ErrorContext(ctx, "Failed to record snapshot failure", logfields.Error(uerr))
		}
		return nil, errs.Fatal("generator.start", fmt.Errorf("snapshot output bucket: %w", err))
	}
	snap := make(Snapshot, len(objects))
	for _, o := range objects {
		if content.IsReserved(o.Path) {
			continue
		}
		snap[o.Path] = o
	}

	err = m.store.Update(ctx, statusKey, map[string]any{
		content.AttrState: string(content.StateRunning),
		content.AttrError: "",
	}, kv.AttrNotEquals(content.AttrState, string(content.StateRunning)))
	if errors.Is(err, kv.ErrConditionFailed) {
		return nil, errs.ErrAlreadyRunning
	}
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	m.logger.InfoContext(ctx, "Generator running", logfields.State(string(content.StateRunning)), logfields.Count(len(snap)))
	return snap, nil
}

// FinishResult reports what Finish did.
type FinishResult struct {
	Deleted     int
	Invalidated []string
}

// Finish deletes the given output paths, invalidates deleted ∪ invalidated
// in one CDN call, then releases the lock and stamps lastRun. It fails with
// errs.ErrStaleCompletion when no run is active.
func (m *Machine) Finish(ctx context.Context, deleted, invalidated []string) (FinishResult, error) {
	var res FinishResult
	st, err := m.Status(ctx)
	if err != nil {
		return res, err
	}
	if st.State != content.StateRunning {
		return res, errs.ErrStaleCompletion
	}

	toDelete := make([]string, 0, len(deleted))
	for _, p := range deleted {
		if !content.IsReserved(p) {
			toDelete = append(toDelete, p)
		}
	}
	if len(toDelete) > 0 {
		n, err := m.output.DeleteMany(ctx, toDelete)
		if err != nil {
			return res, fmt.Errorf("delete stale files: %w", err)
		}
		res.Deleted = n
	}

	res.Invalidated = union(toDelete, invalidated)
	if len(res.Invalidated) > 0 {
		if err := m.cdn.Invalidate(ctx, m.distributionID, res.Invalidated); err != nil {
			return res, fmt.Errorf("invalidate CDN: %w", err)
		}
	}

	err = m.store.Update(ctx, statusKey, map[string]any{
		content.AttrState:   string(content.StateIdle),
		content.AttrLastRun: content.Millis(m.now()),
		content.AttrError:   "",
	}, kv.AttrEquals(content.AttrState, string(content.StateRunning)))
	if errors.Is(err, kv.ErrConditionFailed) {
		return res, errs.ErrStaleCompletion
	}
	if err != nil {
		return res, fmt.Errorf("finish run: %w", err)
	}
	m.logger.InfoContext(ctx, "Generator idle",
		logfields.State(string(content.StateIdle)),
		slog.Int("deleted", res.Deleted),
		slog.Int("invalidated", len(res.Invalidated)))
	return res, nil
}

// Fail moves the record to with_errors with message. lastRun is kept.
func (m *Machine) Fail(ctx context.Context, message string) error {
	if err := m.ensure(ctx); err != nil {
		return err
	}
	err := m.store.Update(ctx, statusKey, map[string]any{
		content.AttrState: string(content.StateWithErrors),
		content.AttrError: message,
	})
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	m.logger.WarnContext(ctx, "Generator failed", logfields.State(string(content.StateWithErrors)), slog.String("message", message))
	return nil
}

// MarkChanged advances lastChanged. It matches repository.ChangeHook.
func (m *Machine) MarkChanged(ctx context.Context, at time.Time) error {
	if err := m.ensure(ctx); err != nil {
		return err
	}
	if err := m.store.Update(ctx, statusKey, map[string]any{content.AttrLastChanged: content.Millis(at)}); err != nil {
		return fmt.Errorf("mark changed: %w", err)
	}
	return nil
}

// NeedsPublish reports whether content changed after the last run.
func (m *Machine) NeedsPublish(ctx context.Context) (bool, error) {
	st, err := m.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.NeedsPublish(), nil
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, p := range list {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
