package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const metaDir = ".meta"

// ErrBadSignature is returned by VerifyUpload for tampered or expired URLs.
var ErrBadSignature = errors.New("blob: invalid upload signature")

type sidecar struct {
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FS stores objects as files under a root directory. Content type and
// metadata live in a parallel .meta/ tree that listings never return.
type FS struct {
	root      string
	uploadURL string // base URL the signed upload handler is mounted at
	secret    []byte
	uploadTTL time.Duration
	now       func() time.Time
}

// FSOption configures an FS store.
type FSOption func(*FS)

// WithSignedUploads enables UploadURL. baseURL is where the upload
// handler is reachable, e.g. "https://cms.example.com/uploads".
func WithSignedUploads(baseURL string, secret []byte, ttl time.Duration) FSOption {
	return func(f *FS) {
		f.uploadURL = strings.TrimSuffix(baseURL, "/")
		f.secret = secret
		if ttl > 0 {
			f.uploadTTL = ttl
		}
	}
}

// NewFS returns a store rooted at dir, creating it if needed.
func NewFS(dir string, opts ...FSOption) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	f := &FS{root: dir, uploadTTL: 15 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *FS) objectPath(p string) (string, error) {
	clean := CleanPath(p)
	if clean == "" || clean == metaDir || strings.HasPrefix(clean, metaDir+"/") {
		return "", fmt.Errorf("blob: invalid path %q", p)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func (f *FS) sidecarPath(p string) string {
	return filepath.Join(f.root, metaDir, filepath.FromSlash(CleanPath(p))+".json")
}

func (f *FS) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == metaDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(rel, ".tmp") || !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		meta := f.readSidecar(rel)
		out = append(out, Object{
			Path:         rel,
			Size:         info.Size(),
			LastModified: info.ModTime(),
			ContentType:  meta.ContentType,
			Metadata:     meta.Metadata,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *FS) readSidecar(p string) sidecar {
	var s sidecar
	raw, err := os.ReadFile(f.sidecarPath(p))
	if err != nil {
		return s
	}
	_ = json.Unmarshal(raw, &s)
	return s
}

func (f *FS) Get(_ context.Context, path string) ([]byte, error) {
	full, err := f.objectPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *FS) Put(_ context.Context, path string, data []byte, contentType string, metadata map[string]string) error {
	full, err := f.objectPath(path)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(full, data); err != nil {
		return fmt.Errorf("blob: write %s: %w", path, err)
	}
	raw, err := json.Marshal(sidecar{ContentType: contentType, Metadata: metadata})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(f.sidecarPath(path), raw); err != nil {
		return fmt.Errorf("blob: write metadata %s: %w", path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FS) DeleteMany(_ context.Context, paths []string) (int, error) {
	n := 0
	for _, p := range paths {
		full, err := f.objectPath(p)
		if err != nil {
			return n, err
		}
		err = os.Remove(full)
		switch {
		case err == nil:
			n++
		case errors.Is(err, fs.ErrNotExist):
		default:
			return n, err
		}
		_ = os.Remove(f.sidecarPath(p))
	}
	return n, nil
}

// UploadURL signs path, expiry and optional content hash with HMAC-SHA256.
func (f *FS) UploadURL(_ context.Context, path, contentHash string) (string, error) {
	if f.uploadURL == "" || len(f.secret) == 0 {
		return "", errors.New("blob: signed uploads are not configured")
	}
	clean := CleanPath(path)
	if clean == "" {
		return "", fmt.Errorf("blob: invalid path %q", path)
	}
	expires := f.now().Add(f.uploadTTL).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	if contentHash != "" {
		q.Set("hash", contentHash)
	}
	q.Set("sig", f.sign(clean, expires, contentHash))
	return f.uploadURL + "/" + clean + "?" + q.Encode(), nil
}

func (f *FS) sign(path string, expires int64, contentHash string) string {
	mac := hmac.New(sha256.New, f.secret)
	fmt.Fprintf(mac, "%s\n%d\n%s", path, expires, contentHash)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyUpload checks a signed upload request and, when the URL was bound
// to a content hash, that data matches it.
func (f *FS) VerifyUpload(path string, query url.Values, data []byte) error {
	if len(f.secret) == 0 {
		return ErrBadSignature
	}
	clean := CleanPath(path)
	expires, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil || clean == "" {
		return ErrBadSignature
	}
	if f.now().Unix() > expires {
		return fmt.Errorf("%w: expired", ErrBadSignature)
	}
	hash := query.Get("hash")
	want := f.sign(clean, expires, hash)
	if !hmac.Equal([]byte(want), []byte(query.Get("sig"))) {
		return ErrBadSignature
	}
	if hash != "" && ContentHash(data) != hash {
		return fmt.Errorf("%w: content hash mismatch", ErrBadSignature)
	}
	return nil
}
