package resolver

import (
	"context"
	"testing"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/manifest"
)

func update(t *testing.T, store *manifest.Store, g *graph.Graph, in Input) Plan {
	t.Helper()
	plan, err := NewDefault(store, WithLogger(logr.Discard())).Update(context.Background(), g, in)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if err := plan.Graph.Validate(); err != nil {
		t.Fatalf("updated graph is inconsistent: %v", err)
	}
	return plan
}

func TestUpdateKeepsValidEdges(t *testing.T) {
	store := manifest.NewStore().Add(
		withDeps(pkg("bar", "1.0.0"), map[string]string{"baz": "^1"}),
		pkg("baz", "1.0.0"),
	)
	root := withDeps(pkg("root", "1.0.0"), map[string]string{"bar": "^1"})
	g := resolve(t, store, root).Graph
	bar := g.MainImporter.EdgesOut["bar"].To
	fetches := store.Fetches()

	plan := update(t, store, g, Input{Main: root})
	if plan.Graph.MainImporter.EdgesOut["bar"].To != bar {
		t.Fatalf("expected the valid edge to be kept")
	}
	if store.Fetches() != fetches {
		t.Fatalf("expected no fetches for an unchanged manifest, got %d more", store.Fetches()-fetches)
	}
}

func TestUpdateReplacesInvalidatedEdge(t *testing.T) {
	store := manifest.NewStore().Add(
		withDeps(pkg("foo", "1.0.0"), map[string]string{"old-only": "^1"}),
		pkg("foo", "2.0.0"),
		pkg("old-only", "1.0.0"),
		pkg("bar", "1.0.0"),
	)
	g := resolve(t, store, withDeps(pkg("root", "1.0.0"), map[string]string{"foo": "^1", "bar": "^1"})).Graph
	bar := g.MainImporter.EdgesOut["bar"].To

	plan := update(t, store, g, Input{Main: withDeps(pkg("root", "1.0.0"), map[string]string{"foo": "^2", "bar": "^1"})})
	g = plan.Graph

	if v := g.MainImporter.EdgesOut["foo"].To.Version; v != "2.0.0" {
		t.Fatalf("expected foo@2.0.0 after update, got %s", v)
	}
	if g.MainImporter.EdgesOut["bar"].To != bar {
		t.Fatalf("expected untouched edge to keep its node")
	}
	if len(g.NodesByName("old-only")) != 0 || len(g.NodesByName("foo")) != 1 {
		t.Fatalf("expected the old subtree to be pruned")
	}
}

func TestUpdateDropsUndeclaredEdges(t *testing.T) {
	store := manifest.NewStore().Add(pkg("foo", "1.0.0"), pkg("bar", "1.0.0"))
	g := resolve(t, store, withDeps(pkg("root", "1.0.0"), map[string]string{"foo": "^1", "bar": "^1"})).Graph

	g = update(t, store, g, Input{Main: withDeps(pkg("root", "1.0.0"), map[string]string{"foo": "^1"})}).Graph
	if _, ok := g.MainImporter.EdgesOut["bar"]; ok {
		t.Fatalf("expected bar edge to be removed")
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("expected root and foo only, got %d nodes", len(g.Nodes))
	}
}

func TestUpdateRetriesMissing(t *testing.T) {
	store := manifest.NewStore().Add(withDeps(pkg("bar", "1.0.0"), map[string]string{"baz": "^1"}))
	root := withDeps(pkg("root", "1.0.0"), map[string]string{"bar": "^1", "late": "^1"})
	first := resolve(t, store, root)
	if first.Graph.MissingDependencies.Len() != 2 {
		t.Fatalf("expected 2 missing deps, got %d", first.Graph.MissingDependencies.Len())
	}

	store.Add(pkg("baz", "1.0.0"), pkg("late", "1.0.0"))
	plan := update(t, store, first.Graph, Input{Main: root})
	if plan.Graph.MissingDependencies.Len() != 0 {
		t.Fatalf("expected everything to resolve, got %d missing", plan.Graph.MissingDependencies.Len())
	}
	if len(plan.Diagnostics.UnresolvedRequired) != 0 {
		t.Fatalf("unexpected diagnostics %+v", plan.Diagnostics)
	}
}

func TestUpdateWorkspaceMoved(t *testing.T) {
	store := manifest.NewStore()
	root := withDeps(pkg("root", "1.0.0"), map[string]string{"app": "workspace:*"})
	app := pkg("app", "0.1.0")
	g := resolve(t, store, root, graph.Workspace{Path: "packages/app", Manifest: app}).Graph

	e := g.MainImporter.EdgesOut["app"]
	d := graph.Dependency{Type: graph.DepProd, Spec: e.Spec}
	ok, err := graph.EdgeValid(e, &d)
	if err != nil || !ok {
		t.Fatalf("expected workspace edge to be valid before the move, got %v, %v", ok, err)
	}

	oldID := e.To.ID
	plan := update(t, store, g, Input{Main: root, Workspaces: []graph.Workspace{{Path: "apps/app", Manifest: app}}})
	g = plan.Graph

	ws, ok := g.Workspace("app")
	if !ok || ws.Location != "apps/app" {
		t.Fatalf("expected app to be registered at apps/app, got %v", ws)
	}
	if _, ok := g.Nodes[oldID]; ok {
		t.Fatalf("expected the old workspace node to be gone")
	}
	if g.MainImporter.EdgesOut["app"].To != ws {
		t.Fatalf("expected the root edge to follow the moved workspace")
	}
}

func TestUpdateWorkspaceRemoved(t *testing.T) {
	store := manifest.NewStore().Add(pkg("foo", "1.0.0"))
	root := withDeps(pkg("root", "1.0.0"), map[string]string{"app": "workspace:*"})
	app := withDeps(pkg("app", "0.1.0"), map[string]string{"foo": "^1"})
	g := resolve(t, store, root, graph.Workspace{Path: "packages/app", Manifest: app}).Graph

	plan := update(t, store, g, Input{Main: root})
	g = plan.Graph
	if _, ok := g.Workspace("app"); ok {
		t.Fatalf("expected workspace to be removed")
	}
	if e := g.MainImporter.EdgesOut["app"]; e == nil || e.To != nil {
		t.Fatalf("expected a missing edge for the removed workspace, got %v", e)
	}
	if len(g.NodesByName("foo")) != 0 {
		t.Fatalf("expected the workspace's dependencies to be pruned")
	}
}

func TestUpdateNilGraphResolves(t *testing.T) {
	store := manifest.NewStore().Add(pkg("foo", "1.0.0"))
	plan := update(t, store, nil, Input{Main: withDeps(pkg("root", "1.0.0"), map[string]string{"foo": "^1"})})
	if plan.Graph == nil || plan.Graph.MainImporter.EdgesOut["foo"].To == nil {
		t.Fatalf("expected a fresh resolution")
	}
}

func TestUpdateRederivesFlags(t *testing.T) {
	store := manifest.NewStore().Add(
		withDeps(pkg("foo", "1.0.0"), map[string]string{"bar": "^1"}),
		pkg("bar", "1.0.0"),
	)
	prod := withDeps(pkg("root", "1.0.0"), map[string]string{"foo": "^1"})
	dev := pkg("root", "1.0.0")
	dev.DevDependencies = map[string]string{"foo": "^1"}
	optional := pkg("root", "1.0.0")
	optional.OptionalDependencies = map[string]string{"foo": "^1"}

	g := resolve(t, store, prod).Graph

	steps := []struct {
		name          string
		root          *manifest.Manifest
		dev, optional bool
	}{
		{"prod to dev", dev, true, false},
		{"dev to optional", optional, false, true},
		{"optional to prod", prod, false, false},
	}
	for _, step := range steps {
		g = update(t, store, g, Input{Main: step.root}).Graph
		fresh := resolve(t, store, step.root).Graph
		for _, name := range []string{"foo", "bar"} {
			got, want := onlyNode(t, g, name), onlyNode(t, fresh, name)
			if got.Dev != step.dev || got.Optional != step.optional {
				t.Fatalf("%s: %s dev=%v optional=%v, want dev=%v optional=%v",
					step.name, name, got.Dev, got.Optional, step.dev, step.optional)
			}
			if got.Dev != want.Dev || got.Optional != want.Optional {
				t.Fatalf("%s: %s flags differ from a fresh resolution", step.name, name)
			}
		}
	}
}

func TestUpdateMissingOptionalBecomesRequired(t *testing.T) {
	store := manifest.NewStore()
	before := pkg("root", "1.0.0")
	before.OptionalDependencies = map[string]string{"gone": "^1"}
	g := resolve(t, store, before).Graph

	plan := update(t, store, g, Input{Main: withDeps(pkg("root", "1.0.0"), map[string]string{"gone": "^1"})})
	e := plan.Graph.MainImporter.EdgesOut["gone"]
	if e == nil || e.Type != graph.DepProd || e.To != nil {
		t.Fatalf("expected a missing prod edge, got %v", e)
	}
	if len(plan.Diagnostics.UnresolvedRequired) != 1 || plan.Diagnostics.UnresolvedRequired[0].Name != "gone" {
		t.Fatalf("expected gone to be reported as required, got %+v", plan.Diagnostics)
	}
}

func TestUpdateRetryResolvesPeersInEnclosingScope(t *testing.T) {
	store := manifest.NewStore().Add(
		withDeps(pkg("a", "1.0.0"), map[string]string{"b": "^1"}),
		pkg("p", "1.0.0"),
		pkg("p", "1.1.0"),
	)
	root := withDeps(pkg("root", "1.0.0"), map[string]string{"a": "^1", "p": "1.0.0"})
	g := resolve(t, store, root).Graph

	store.Add(withPeers(pkg("b", "1.0.0"), map[string]string{"p": "^1"}))
	g = update(t, store, g, Input{Main: root}).Graph

	b := onlyNode(t, g, "b")
	e := b.EdgesOut["p"]
	if e == nil || e.To == nil {
		t.Fatalf("expected b to have its peer wired, got %v", e)
	}
	if e.To != g.MainImporter.EdgesOut["p"].To {
		t.Fatalf("expected b's peer to be the root's p@1.0.0, got %s", e.To)
	}
	if n := len(g.NodesByName("p")); n != 1 {
		t.Fatalf("expected a single p node, got %d", n)
	}
}

func TestScopeOf(t *testing.T) {
	store := manifest.NewStore().Add(
		withDeps(pkg("a", "1.0.0"), map[string]string{"b": "^1"}),
		withPeers(pkg("b", "1.0.0"), map[string]string{"p": "^1"}),
		pkg("p", "1.0.0"),
	)
	g := resolve(t, store, withDeps(pkg("root", "1.0.0"), map[string]string{"a": "^1"})).Graph

	var chain []string
	for sc := scopeOf(g, onlyNode(t, g, "p")); sc != nil; sc = sc.parent {
		chain = append(chain, sc.node.Name)
	}
	// p is provided at a, the scope enclosing its requester b.
	want := []string{"p", "a", "root"}
	if len(chain) != len(want) {
		t.Fatalf("scope chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("scope chain = %v, want %v", chain, want)
		}
	}
}
