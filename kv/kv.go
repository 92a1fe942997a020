// Package kv is the key-value table every entity slice lives in. Rows are
// addressed by a partition key (the entity) and a sort key (the slice);
// attributes are a flat map of JSON-compatible values.
package kv

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"sort"
)

var (
	// ErrNotFound is returned by Update when the row does not exist.
	ErrNotFound = errors.New("kv: row not found")

	// ErrConditionFailed is returned when a conditional write's
	// condition does not hold at write time.
	ErrConditionFailed = errors.New("kv: condition failed")

	// ErrThroughputExceeded is the distinguished error kind for request
	// throttling. Callers retry it with backoff.
	ErrThroughputExceeded = errors.New("kv: throughput exceeded")
)

// Key addresses one row.
type Key struct {
	PK string
	SK string
}

func (k Key) String() string { return k.PK + "|" + k.SK }

// Row is one stored slice.
type Row struct {
	Key
	Attrs map[string]any
}

// Clone returns a copy of r whose attribute map can be mutated freely.
func (r Row) Clone() Row {
	return Row{Key: r.Key, Attrs: maps.Clone(r.Attrs)}
}

// Index declares a secondary index over one top-level attribute.
type Index struct {
	Name string
	Attr string
}

var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func (ix Index) validate() error {
	if !identRe.MatchString(ix.Name) || !identRe.MatchString(ix.Attr) {
		return fmt.Errorf("kv: invalid index %q on %q", ix.Name, ix.Attr)
	}
	return nil
}

// Op is a condition operator.
type Op int

const (
	OpEquals Op = iota + 1
	OpNotEquals
	OpRowAbsent
)

// Condition guards a write. All conditions of a write must hold.
type Condition struct {
	Attr  string
	Op    Op
	Value any
}

// AttrEquals holds when the row exists and attr equals v.
func AttrEquals(attr string, v any) Condition {
	return Condition{Attr: attr, Op: OpEquals, Value: v}
}

// AttrNotEquals holds when the row is absent, the attribute is missing,
// or its value differs from v.
func AttrNotEquals(attr string, v any) Condition {
	return Condition{Attr: attr, Op: OpNotEquals, Value: v}
}

// RowAbsent holds only when no row exists under the key.
func RowAbsent() Condition { return Condition{Op: OpRowAbsent} }

func (c Condition) holds(attrs map[string]any, exists bool) bool {
	switch c.Op {
	case OpRowAbsent:
		return !exists
	case OpEquals:
		v, ok := attrs[c.Attr]
		return exists && ok && sameValue(v, c.Value)
	case OpNotEquals:
		v, ok := attrs[c.Attr]
		return !exists || !ok || !sameValue(v, c.Value)
	}
	return false
}

func checkConditions(conds []Condition, attrs map[string]any, exists bool) error {
	for _, c := range conds {
		if !c.holds(attrs, exists) {
			return ErrConditionFailed
		}
	}
	return nil
}

// sameValue compares attribute values that may have gone through a JSON
// round trip (ints come back as float64).
func sameValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// mergeAttrs applies a partial update: named attributes are replaced, a
// nil value removes the attribute, everything else is kept.
func mergeAttrs(dst, patch map[string]any) map[string]any {
	out := maps.Clone(dst)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Store is the key-value table capability.
type Store interface {
	// Get returns the row and whether it exists.
	Get(ctx context.Context, key Key) (Row, bool, error)

	// Put writes the whole row, replacing any existing attributes.
	Put(ctx context.Context, row Row, conds ...Condition) error

	// Update replaces only the named attributes of an existing row.
	Update(ctx context.Context, key Key, attrs map[string]any, conds ...Condition) error

	Delete(ctx context.Context, key Key) error

	// Query returns the rows of one partition whose sort key starts with
	// skPrefix, ordered by sort key. An empty prefix returns the whole partition.
	Query(ctx context.Context, pk, skPrefix string) ([]Row, error)

	// QueryIndex returns rows whose indexed attribute equals value.
	QueryIndex(ctx context.Context, index, value string) ([]Row, error)

	// ScanAll returns every row. Implementations page internally.
	ScanAll(ctx context.Context) ([]Row, error)

	BatchPut(ctx context.Context, rows []Row) error
	BatchDelete(ctx context.Context, keys []Key) error

	Close() error
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PK != rows[j].PK {
			return rows[i].PK < rows[j].PK
		}
		return rows[i].SK < rows[j].SK
	})
}
