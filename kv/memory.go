package kv

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Memory is an in-process Store. It is safe for concurrent use and is
// what tests and ephemeral previews run against.
type Memory struct {
	mu      sync.RWMutex
	rows    map[Key]map[string]any
	indexes map[string]string // index name -> attribute
}

// NewMemory returns an empty Memory store with the given secondary indexes.
func NewMemory(indexes ...Index) (*Memory, error) {
	m := &Memory{
		rows:    make(map[Key]map[string]any),
		indexes: make(map[string]string, len(indexes)),
	}
	for _, ix := range indexes {
		if err := ix.validate(); err != nil {
			return nil, err
		}
		m.indexes[ix.Name] = ix.Attr
	}
	return m, nil
}

func (m *Memory) Get(_ context.Context, key Key) (Row, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attrs, ok := m.rows[key]
	if !ok {
		return Row{}, false, nil
	}
	return Row{Key: key, Attrs: mergeAttrs(attrs, nil)}, true, nil
}

func (m *Memory) Put(_ context.Context, row Row, conds ...Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.rows[row.Key]
	if err := checkConditions(conds, current, exists); err != nil {
		return err
	}
	m.rows[row.Key] = mergeAttrs(nil, row.Attrs)
	return nil
}

func (m *Memory) Update(_ context.Context, key Key, attrs map[string]any, conds ...Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.rows[key]
	if err := checkConditions(conds, current, exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	m.rows[key] = mergeAttrs(current, attrs)
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.rows, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Query(_ context.Context, pk, skPrefix string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Row
	for k, attrs := range m.rows {
		if k.PK == pk && strings.HasPrefix(k.SK, skPrefix) {
			out = append(out, Row{Key: k, Attrs: mergeAttrs(attrs, nil)})
		}
	}
	sortRows(out)
	return out, nil
}

func (m *Memory) QueryIndex(_ context.Context, index, value string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attr, ok := m.indexes[index]
	if !ok {
		return nil, fmt.Errorf("kv: unknown index %q", index)
	}
	var out []Row
	for k, attrs := range m.rows {
		if v, ok := attrs[attr]; ok && sameValue(v, value) {
			out = append(out, Row{Key: k, Attrs: mergeAttrs(attrs, nil)})
		}
	}
	sortRows(out)
	return out, nil
}

func (m *Memory) ScanAll(_ context.Context) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Row, 0, len(m.rows))
	for k, attrs := range m.rows {
		out = append(out, Row{Key: k, Attrs: mergeAttrs(attrs, nil)})
	}
	sortRows(out)
	return out, nil
}

func (m *Memory) BatchPut(_ context.Context, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[r.Key] = mergeAttrs(nil, r.Attrs)
	}
	return nil
}

func (m *Memory) BatchDelete(_ context.Context, keys []Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.rows, k)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Len returns the number of stored rows.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
