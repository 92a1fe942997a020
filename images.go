package pagepress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/eringen/pagepress/blob"
	"github.com/eringen/pagepress/content"
)

const (
	maxImageWidth = 1600
	jpegQuality   = 82
	maxUploadSize = 10 << 20 // 10MB
	imagesPrefix  = "_assets/images/"
)

// Asset describes an uploaded image.
type Asset struct {
	Path         string `json:"path"`
	OriginalName string `json:"originalName"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Size         int    `json:"size"`
	UploadedAt   string `json:"uploadedAt"`
}

// processImage decodes an image from src, resizes it to maxImageWidth if
// wider, and encodes it as JPEG.
func processImage(src io.Reader, originalName string, now time.Time) (Asset, []byte, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return Asset{}, nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxImageWidth {
		newH := h * maxImageWidth / w
		dst := image.NewRGBA(image.Rect(0, 0, maxImageWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
		w, h = maxImageWidth, newH
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Asset{}, nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return Asset{
		Path:         imagesPrefix + imageBaseName(originalName) + ".jpg",
		OriginalName: originalName,
		Width:        w,
		Height:       h,
		Size:         buf.Len(),
		UploadedAt:   now.UTC().Format(time.RFC3339),
	}, buf.Bytes(), nil
}

func imageBaseName(name string) string {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	if s := content.Slugify(base); s != "" {
		return s
	}
	return "image"
}

// uniqueAssetPath appends a counter until p is free in the bucket.
func uniqueAssetPath(ctx context.Context, store blob.Store, p string) (string, error) {
	existing, err := store.List(ctx, imagesPrefix)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(existing))
	for _, o := range existing {
		taken[o.Path] = true
	}
	base := strings.TrimSuffix(p, ".jpg")
	candidate := p
	for n := 2; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d.jpg", base, n)
	}
	return candidate, nil
}

// storeImage processes and uploads an image under _assets/images/.
func storeImage(ctx context.Context, store blob.Store, src io.Reader, originalName string, now time.Time) (Asset, error) {
	asset, data, err := processImage(src, originalName, now)
	if err != nil {
		return Asset{}, err
	}
	if asset.Path, err = uniqueAssetPath(ctx, store, asset.Path); err != nil {
		return Asset{}, err
	}
	meta := map[string]string{blob.MetaContentHash: blob.ContentHash(data), "original-name": originalName}
	if err := store.Put(ctx, asset.Path, data, "image/jpeg", meta); err != nil {
		return Asset{}, fmt.Errorf("store image: %w", err)
	}
	return asset, nil
}
