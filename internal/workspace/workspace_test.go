package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, root, rel, body string) {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(body), 0o644))
}

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{"packages/*", "apps/**", "./tools/cli", "!packages/legacy"})

	cases := map[string]bool{
		"packages/a":        true,
		"packages/a/nested": false,
		"packages/legacy":   false,
		"apps":              true,
		"apps/web":          true,
		"apps/web/admin":    true,
		"tools/cli":         true,
		"tools":             false,
		"other/a":           false,
	}
	for rel, want := range cases {
		assert.Equal(t, want, m.Match(rel), rel)
	}
	assert.Equal(t, -1, m.MaxDepth())
	assert.Equal(t, 2, NewMatcher([]string{"packages/*", "x"}).MaxDepth())
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, ".", `{"name":"root","workspaces":["packages/*"]}`)
	writeManifest(t, root, "packages/b", `{"name":"b","version":"1.0.0","dependencies":{"a":"workspace:*"}}`)
	writeManifest(t, root, "packages/a", `{"name":"a","version":"1.0.0"}`)
	writeManifest(t, root, "packages/a/node_modules/dep", `{"name":"dep"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "packages", "empty"), 0o755))

	main, ws, err := Load(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "root", main.Name)
	require.Len(t, ws, 2)
	assert.Equal(t, "packages/a", ws[0].Path)
	assert.Equal(t, "a", ws[0].Manifest.Name)
	assert.Equal(t, "packages/b", ws[1].Path)
	assert.Equal(t, "workspace:*", ws[1].Manifest.Dependencies["a"])
}

func TestDiscoverNoPatterns(t *testing.T) {
	ws, err := Discover(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestDiscoverInvalidManifest(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "packages/bad", `{"name": [`)

	_, err := Discover(context.Background(), root, []string{"packages/*"})
	require.Error(t, err)
}
