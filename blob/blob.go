// Package blob is the object bucket published files and out-of-band
// template sources are written to.
package blob

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when no object exists at the path.
var ErrNotFound = errors.New("blob: object not found")

// MetaContentHash is the metadata key holding the hex content hash the
// publish pipeline compares against to skip unchanged uploads.
const MetaContentHash = "content-hash"

// Object describes a stored object.
type Object struct {
	Path         string
	Size         int64
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// Store is the bucket capability.
type Store interface {
	// List returns every object whose path starts with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)

	Get(ctx context.Context, path string) ([]byte, error)

	Put(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) error

	// DeleteMany removes the given paths and reports how many existed.
	DeleteMany(ctx context.Context, paths []string) (int, error)

	// UploadURL returns a pre-signed URL a client can PUT the object to
	// directly. contentHash, when set, binds the upload to that content.
	UploadURL(ctx context.Context, path, contentHash string) (string, error)
}

// GetText reads an object as a string. A missing object yields "" and false.
func GetText(ctx context.Context, s Store, path string) (string, bool, error) {
	data, err := s.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// PutText writes a string object.
func PutText(ctx context.Context, s Store, path, content, contentType string, metadata map[string]string) error {
	return s.Put(ctx, path, []byte(content), contentType, metadata)
}

// CleanPath normalises an object path: no leading slash, no "." or ".."
// segments. It returns "" for paths that escape the bucket.
func CleanPath(p string) string {
	p = strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/")
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return ""
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}
