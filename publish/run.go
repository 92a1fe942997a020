package publish

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eringen/pagepress/blob"
	"github.com/eringen/pagepress/generator"
	"github.com/eringen/pagepress/metrics"
)

// run tracks one build: which snapshot paths were written or confirmed,
// and which of those actually changed.
type run struct {
	snap    generator.Snapshot
	output  blob.Store
	metrics metrics.Recorder

	mu       sync.Mutex
	kept     map[string]struct{}
	uploaded []string
	skipped  []string
}

func newRun(snap generator.Snapshot, output blob.Store, rec metrics.Recorder) *run {
	return &run{snap: snap, output: output, metrics: rec, kept: map[string]struct{}{}}
}

// upload writes body to path unless the stored object already carries the
// same content hash. Either way the path is kept.
func (r *run) upload(ctx context.Context, path, body, contentType string) error {
	hash := blob.ContentHash([]byte(body))
	if obj, ok := r.snap[path]; ok && obj.Metadata[blob.MetaContentHash] == hash {
		r.mu.Lock()
		r.kept[path] = struct{}{}
		r.skipped = append(r.skipped, path)
		r.mu.Unlock()
		r.metrics.AddFileResult(metrics.FileSkipped, 1)
		return nil
	}
	meta := map[string]string{blob.MetaContentHash: hash}
	if err := blob.PutText(ctx, r.output, path, body, contentType, meta); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	r.mu.Lock()
	r.kept[path] = struct{}{}
	r.uploaded = append(r.uploaded, path)
	r.mu.Unlock()
	r.metrics.AddFileResult(metrics.FileUploaded, 1)
	return nil
}

// stale returns snapshot paths this run did not write or confirm.
func (r *run) stale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for p := range r.snap {
		if _, ok := r.kept[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// changed returns the uploaded paths, sorted.
func (r *run) changed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.uploaded...)
	sort.Strings(out)
	return out
}

func (r *run) skippedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.skipped...)
	sort.Strings(out)
	return out
}
