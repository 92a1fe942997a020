package pagepress

import (
	"embed"
	"fmt"
	"io/fs"
)

// Defaults holds the starter template, stylesheet, partials and page
// articles used by Seed.
//
//go:embed defaults/*
var Defaults embed.FS

func defaultText(name string) (string, error) {
	raw, err := fs.ReadFile(Defaults, "defaults/"+name)
	if err != nil {
		return "", fmt.Errorf("read default %s: %w", name, err)
	}
	return string(raw), nil
}
