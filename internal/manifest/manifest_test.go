package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	m, err := Parse([]byte(`{
		"name": "plugin",
		"version": "1.0.0",
		"dependencies": {"a": "^1"},
		"peerDependencies": {"host": "^2", "extra": "*"},
		"peerDependenciesMeta": {"extra": {"optional": true}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "plugin@1.0.0", m.ID())
	assert.Equal(t, "^1", m.Dependencies["a"])
	assert.True(t, m.IsPeerOptional("extra"))
	assert.False(t, m.IsPeerOptional("host"))
	assert.Equal(t, []string{"extra", "host"}, DependencyNames(m.PeerDependencies))

	var nilManifest *Manifest
	assert.Empty(t, nilManifest.ID())
	assert.False(t, nilManifest.IsPeerOptional("x"))

	_, err = Parse([]byte(`{"name": [`))
	assert.Error(t, err)
}

func TestLoadAndLoadAll(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
		body := `{"name":"` + dir + `","version":"1.0.0"}`
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, FileName), []byte(body), 0o644))
	}

	m, err := Load(filepath.Join(root, "a"))
	require.NoError(t, err)
	assert.Equal(t, "a", m.Name)

	ms, err := LoadAll(context.Background(), root, []string{"b", "a"})
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "b", ms[0].Name)
	assert.Equal(t, "a", ms[1].Name)

	_, err = LoadAll(context.Background(), root, []string{"a", "missing"})
	assert.Error(t, err)
}
