package blob

import (
	"context"
	"maps"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// Memory is an in-process bucket.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject), now: time.Now}
}

func (m *Memory) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Object
	for p, o := range m.objects {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		out = append(out, Object{
			Path:         p,
			Size:         int64(len(o.data)),
			LastModified: o.modified,
			ContentType:  o.contentType,
			Metadata:     maps.Clone(o.metadata),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) Get(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[CleanPath(path)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), o.data...), nil
}

func (m *Memory) Put(_ context.Context, path string, data []byte, contentType string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[CleanPath(path)] = memObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		metadata:    maps.Clone(metadata),
		modified:    m.now(),
	}
	return nil
}

func (m *Memory) DeleteMany(_ context.Context, paths []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range paths {
		p = CleanPath(p)
		if _, ok := m.objects[p]; ok {
			delete(m.objects, p)
			n++
		}
	}
	return n, nil
}

func (m *Memory) UploadURL(_ context.Context, path, contentHash string) (string, error) {
	q := url.Values{}
	if contentHash != "" {
		q.Set("hash", contentHash)
	}
	u := url.URL{Scheme: "memory", Path: "/" + CleanPath(path), RawQuery: q.Encode()}
	return u.String(), nil
}

// Paths returns every stored path, sorted.
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
