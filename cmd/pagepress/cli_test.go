package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run parses args and runs the selected command against a temporary
// installation.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("pagepress"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	var out bytes.Buffer
	err = ctx.Run(&Globals{Out: &out}, &cli)
	return out.String(), err
}

func tempInstall(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PAGEPRESS_DATABASE_PATH", filepath.Join(dir, "pagepress.db"))
	t.Setenv("PAGEPRESS_OUTPUT_DIR", filepath.Join(dir, "site"))
	t.Setenv("PAGEPRESS_SOURCE_DIR", filepath.Join(dir, "source"))
	t.Setenv("PAGEPRESS_SITE_DOMAIN", "example.com")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pagepress dev\n", out)
}

func TestSeedPublishStatus(t *testing.T) {
	tempInstall(t)

	out, err := run(t, "seed")
	require.NoError(t, err)
	var seeded struct {
		TemplateID string   `json:"templateId"`
		Created    []string `json:"created"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &seeded))
	assert.NotEmpty(t, seeded.TemplateID)
	assert.Len(t, seeded.Created, 3)

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"needsPublish": true`)

	out, err = run(t, "publish")
	require.NoError(t, err)
	assert.Contains(t, out, `"index.html"`)
	assert.Contains(t, out, `"sitemap.xml"`)

	out, err = run(t, "--verbose", "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "idle"`)
	assert.Contains(t, out, `"needsPublish": false`)
}

func TestPublishWithoutDomainFails(t *testing.T) {
	tempInstall(t)
	t.Setenv("PAGEPRESS_SITE_DOMAIN", "")

	_, err := run(t, "publish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no domain")
}
