package repository

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/eringen/pagepress/content"
	"github.com/eringen/pagepress/errs"
	"github.com/eringen/pagepress/kv"
	"github.com/eringen/pagepress/logfields"
)

// UpsertSlice writes one slice of an entity. A point read decides between
// insert and partial update; sibling slices are never touched.
func (r *Repository) UpsertSlice(ctx context.Context, key string, s content.Slice) (inserted bool, err error) {
	row := content.Row(key, s)
	_, exists, err := r.store.Get(ctx, row.Key)
	if err != nil {
		return false, fmt.Errorf("upsert %s/%s: %w", row.PK, row.SK, err)
	}
	if exists {
		if err := r.store.Update(ctx, row.Key, row.Attrs); err != nil {
			return false, fmt.Errorf("update %s/%s: %w", row.PK, row.SK, err)
		}
		return false, nil
	}
	if err := r.store.Put(ctx, row); err != nil {
		return false, fmt.Errorf("insert %s/%s: %w", row.PK, row.SK, err)
	}
	return true, nil
}

// Overrides replace attributes of copied slices, keyed by slice key.
type Overrides map[string]map[string]any

// CopyEntity duplicates the selected slices of srcKey under newKey. The
// copy's ENTRY gets fresh timestamps; overrides are merged into the
// matching slices.
func (r *Repository) CopyEntity(ctx context.Context, srcKey, newKey string, want content.SliceSet, overrides Overrides) error {
	kind := content.KindOf(srcKey)
	if kind != content.KindOf(newKey) || kind == content.KindUnknown {
		return errs.Validation("repository.copy", "cannot copy %s to %s", srcKey, newKey)
	}
	rows, ok, err := r.entityRows(ctx, srcKey, kind, want|content.WithEntry)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("repository.copy", "%s not found", srcKey)
	}
	if _, exists, err := r.store.Get(ctx, kv.Key{PK: newKey, SK: content.SliceEntry}); err != nil {
		return err
	} else if exists {
		return errs.Validation("repository.copy", "%s already exists", newKey)
	}

	now := content.Millis(r.now())
	out := make([]kv.Row, 0, len(rows))
	for _, row := range rows {
		attrs := maps.Clone(row.Attrs)
		if row.SK == content.SliceEntry {
			attrs[content.AttrCreatedAt] = now
			attrs[content.AttrUpdatedAt] = now
		}
		maps.Copy(attrs, overrides[row.SK])
		out = append(out, kv.Row{Key: kv.Key{PK: newKey, SK: row.SK}, Attrs: attrs})
	}
	if err := r.store.BatchPut(ctx, out); err != nil {
		return fmt.Errorf("copy %s to %s: %w", srcKey, newKey, err)
	}
	r.logger.DebugContext(ctx, "Copied entity", logfields.EntityKey(newKey), logfields.Count(len(out)))
	return nil
}

// EraseEntity physically deletes every slice of key.
func (r *Repository) EraseEntity(ctx context.Context, key string) error {
	rows, err := r.store.Query(ctx, key, "")
	if err != nil {
		return fmt.Errorf("erase %s: %w", key, err)
	}
	keys := make([]kv.Key, len(rows))
	for i, row := range rows {
		keys[i] = row.Key
	}
	if err := r.DeleteSlices(ctx, keys); err != nil {
		return fmt.Errorf("erase %s: %w", key, err)
	}
	r.logger.DebugContext(ctx, "Erased entity", logfields.EntityKey(key), logfields.Count(len(keys)))
	return nil
}

// DeleteSlices removes individual slices.
func (r *Repository) DeleteSlices(ctx context.Context, keys []kv.Key) error {
	if len(keys) == 0 {
		return nil
	}
	return r.store.BatchDelete(ctx, keys)
}

// SoftDeletePage flips a live page's entry type to deleted_page. Other
// slices stay as they are.
func (r *Repository) SoftDeletePage(ctx context.Context, key string) error {
	err := r.store.Update(ctx, kv.Key{PK: key, SK: content.SliceEntry},
		map[string]any{
			content.AttrEntryType: string(content.EntryDeletedPage),
			content.AttrUpdatedAt: content.Millis(r.now()),
		},
		kv.AttrEquals(content.AttrEntryType, string(content.EntryPage)))
	switch {
	case errors.Is(err, kv.ErrNotFound), errors.Is(err, kv.ErrConditionFailed):
		return errs.NotFound("repository.soft_delete", "page %s not found", content.IDOf(key))
	case err != nil:
		return fmt.Errorf("soft delete %s: %w", key, err)
	}
	return nil
}

// DeletionStrategy says how a page is removed.
type DeletionStrategy string

const (
	SoftDelete DeletionStrategy = "soft_delete"
	Erase      DeletionStrategy = "erase"
)

// DecideDeletionStrategy erases a page only while at least two other live
// pages share its template; otherwise the page is soft deleted. The
// threshold is a heuristic, not derived from a stronger invariant.
func DecideDeletionStrategy(liveSiblingCount int) DeletionStrategy {
	if liveSiblingCount >= 2 {
		return Erase
	}
	return SoftDelete
}
