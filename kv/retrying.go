package kv

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/logfields"
	"github.com/eringen/pagepress/metrics"
	"github.com/eringen/pagepress/retry"
)

// Retrying retries throughput-limited calls of the wrapped store with
// backoff. Once the budget is spent the error becomes fatal.
type Retrying struct {
	next    Store
	policy  retry.Policy
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewRetrying wraps next. Only ErrThroughputExceeded is retried.
func NewRetrying(next Store, policy retry.Policy, logger *slog.Logger, rec metrics.Recorder) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		next:    next,
		policy:  policy.WithRetryable(func(err error) bool { return errors.Is(err, ErrThroughputExceeded) }),
		logger:  logger,
		metrics: metrics.OrNoop(rec),
	}
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	err := r.policy.Do(ctx, fn, func(attempt int, err error) {
		r.metrics.IncStoreRetry(op)
		r.logger.WarnContext(ctx, "Store throttled, retrying", logfields.Op(op), logfields.Attempt(attempt))
	})
	if errors.Is(err, retry.ErrExhausted) {
		r.metrics.IncStoreRetryExhausted(op)
		r.logger.ErrorContext(ctx, "Store retries exhausted", logfields.Op(op), logfields.Error(err))
		return errs.Fatal("kv."+op, err)
	}
	return err
}

func (r *Retrying) Get(ctx context.Context, key Key) (Row, bool, error) {
	var (
		row Row
		ok  bool
	)
	err := r.do(ctx, "get", func() (err error) {
		row, ok, err = r.next.Get(ctx, key)
		return err
	})
	return row, ok, err
}

func (r *Retrying) Put(ctx context.Context, row Row, conds ...Condition) error {
	return r.do(ctx, "put", func() error { return r.next.Put(ctx, row, conds...) })
}

func (r *Retrying) Update(ctx context.Context, key Key, attrs map[string]any, conds ...Condition) error {
	return r.do(ctx, "update", func() error { return r.next.Update(ctx, key, attrs, conds...) })
}

func (r *Retrying) Delete(ctx context.Context, key Key) error {
	return r.do(ctx, "delete", func() error { return r.next.Delete(ctx, key) })
}

func (r *Retrying) Query(ctx context.Context, pk, skPrefix string) ([]Row, error) {
	var rows []Row
	err := r.do(ctx, "query", func() (err error) {
		rows, err = r.next.Query(ctx, pk, skPrefix)
		return err
	})
	return rows, err
}

func (r *Retrying) QueryIndex(ctx context.Context, index, value string) ([]Row, error) {
	var rows []Row
	err := r.do(ctx, "query_index", func() (err error) {
		rows, err = r.next.QueryIndex(ctx, index, value)
		return err
	})
	return rows, err
}

func (r *Retrying) ScanAll(ctx context.Context) ([]Row, error) {
	var rows []Row
	err := r.do(ctx, "scan", func() (err error) {
		rows, err = r.next.ScanAll(ctx)
		return err
	})
	return rows, err
}

func (r *Retrying) BatchPut(ctx context.Context, rows []Row) error {
	return r.do(ctx, "batch_put", func() error { return r.next.BatchPut(ctx, rows) })
}

func (r *Retrying) BatchDelete(ctx context.Context, keys []Key) error {
	return r.do(ctx, "batch_delete", func() error { return r.next.BatchDelete(ctx, keys) })
}

func (r *Retrying) Close() error { return r.next.Close() }
