package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/pkggraph/internal/depid"
	"github.com/anvil-platform/pkggraph/internal/manifest"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

func placed(t *testing.T, g *Graph, from *Node, typ DepType, name, bare string, m *manifest.Manifest) *Edge {
	t.Helper()
	_, err := g.PlacePackage(from, typ, mustSpec(t, name, bare), m, "")
	require.NoError(t, err)
	e := from.EdgesOut[name]
	require.NotNil(t, e)
	return e
}

func TestEdgeValidRegistry(t *testing.T) {
	opts := spec.DefaultOptions()
	opts.Registries["acme"] = "https://npm.acme.dev"
	depid.Configure(opts)
	t.Cleanup(func() { depid.Configure(spec.DefaultOptions()) })
	g, err := New(Options{ProjectRoot: "/project", Spec: opts})
	require.NoError(t, err)

	parse := func(name, bare string) *spec.Spec {
		s, err := spec.Parse(name, bare, opts)
		require.NoError(t, err)
		return s
	}
	_, err = g.PlacePackage(g.MainImporter, DepProd, parse("foo", "^1.0.0"), &manifest.Manifest{Name: "foo", Version: "1.2.0"}, "")
	require.NoError(t, err)
	e := g.MainImporter.EdgesOut["foo"]

	cases := []struct {
		name string
		dep  *Dependency
		want bool
	}{
		{"unchanged", nil, true},
		{"same declaration", &Dependency{Type: DepProd, Spec: parse("foo", "^1.0.0")}, true},
		{"narrower but satisfied", &Dependency{Type: DepProd, Spec: parse("foo", "~1.2.0")}, true},
		{"major bump", &Dependency{Type: DepProd, Spec: parse("foo", "^2.0.0")}, false},
		{"any version", &Dependency{Type: DepProd, Spec: parse("foo", "*")}, true},
		{"dist-tag", &Dependency{Type: DepProd, Spec: parse("foo", "latest")}, true},
		{"type change", &Dependency{Type: DepDev, Spec: parse("foo", "^1.0.0")}, false},
		{"custom registry", &Dependency{Type: DepProd, Spec: parse("foo", "acme:foo@^1")}, false},
		{"now a file", &Dependency{Type: DepProd, Spec: parse("foo", "file:./foo")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EdgeValid(e, tc.dep)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err = g.PlacePackage(g.MainImporter, DepProd, parse("bar", "acme:bar@^1"), &manifest.Manifest{Name: "bar", Version: "1.0.0"}, "")
	require.NoError(t, err)
	custom := g.MainImporter.EdgesOut["bar"]

	ok, err := EdgeValid(custom, &Dependency{Type: DepProd, Spec: parse("bar", "registry:https://npm.acme.dev/#bar@^1")})
	require.NoError(t, err)
	assert.True(t, ok, "the URL of a named registry is the same registry")

	ok, err = EdgeValid(custom, &Dependency{Type: DepProd, Spec: parse("bar", "^1")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEdgeValidMissing(t *testing.T) {
	g := newGraph(t)
	opt := placed(t, g, g.MainImporter, DepOptional, "gone", "^1", nil)
	req := placed(t, g, g.MainImporter, DepProd, "lost", "^1", nil)

	ok, err := EdgeValid(opt, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EdgeValid(opt, &Dependency{Type: DepProd, Spec: mustSpec(t, "gone", "^1")})
	require.NoError(t, err)
	assert.True(t, ok, "a missing optional edge is valid whatever it is declared as")

	ok, err = EdgeValid(req, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = EdgeValid(nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEdgeValidFileAndRemote(t *testing.T) {
	g := newGraph(t, Workspace{Path: "packages/app", Manifest: &manifest.Manifest{Name: "app"}})
	app, _ := g.Workspace("app")

	file := placed(t, g, app, DepProd, "lib", "file:../lib", &manifest.Manifest{Name: "lib", Version: "1.0.0"})
	ok, err := EdgeValid(file, &Dependency{Type: DepProd, Spec: mustSpec(t, "lib", "file:../lib/")})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = EdgeValid(file, &Dependency{Type: DepProd, Spec: mustSpec(t, "lib", "file:../other")})
	require.NoError(t, err)
	assert.False(t, ok)

	remote := placed(t, g, app, DepProd, "tar", "https://example.com/tar.tgz", &manifest.Manifest{Name: "tar", Version: "1.0.0"})
	ok, err = EdgeValid(remote, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = EdgeValid(remote, &Dependency{Type: DepProd, Spec: mustSpec(t, "tar", "https://example.com/tar-2.tgz")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEdgeValidGit(t *testing.T) {
	g := newGraph(t)
	e := placed(t, g, g.MainImporter, DepProd, "lib", "git+https://example.com/lib.git#v1", &manifest.Manifest{Name: "lib", Version: "1.0.0"})

	ok, err := EdgeValid(e, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EdgeValid(e, &Dependency{Type: DepProd, Spec: mustSpec(t, "lib", "git+https://example.com/lib.git#v2")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEdgeValidWorkspace(t *testing.T) {
	g := newGraph(t, Workspace{Path: "packages/app", Manifest: &manifest.Manifest{Name: "app", Version: "1.3.0"}})
	e := placed(t, g, g.MainImporter, DepProd, "app", "workspace:*", nil)

	ok, err := EdgeValid(e, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EdgeValid(e, &Dependency{Type: DepProd, Spec: mustSpec(t, "app", "workspace:^1")})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EdgeValid(e, &Dependency{Type: DepProd, Spec: mustSpec(t, "app", "workspace:^2")})
	require.NoError(t, err)
	assert.False(t, ok)

	// The workspace moved since the edge was placed.
	e.To.Location = "apps/app"
	ok, err = EdgeValid(e, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEdgeValidUnknownType(t *testing.T) {
	g := newGraph(t)
	e := placed(t, g, g.MainImporter, DepProd, "foo", "^1", &manifest.Manifest{Name: "foo", Version: "1.0.0"})
	e.Spec = &spec.Spec{Name: "foo", BareSpec: "svn:foo", Type: spec.Type("svn")}

	_, err := EdgeValid(e, nil)
	assert.ErrorIs(t, err, ErrInvalidSpecType)
}
