package resolver

import (
	"sort"

	"github.com/anvil-platform/pkggraph/internal/depid"
	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

// scope is the chain of consumers a node was reached through, nearest first.
type scope struct {
	node   *graph.Node
	parent *scope
}

func rootScope(n *graph.Node) *scope { return &scope{node: n} }

func (s *scope) push(n *graph.Node) *scope { return &scope{node: n, parent: s} }

// scopeOf rebuilds the scope chain n was placed in by walking outward from
// the importers. A peer is provided at its requester's enclosing scope, so
// crossing a peer edge does not add the requester. Nodes no importer reaches
// get a scope of their own.
func scopeOf(g *graph.Graph, n *graph.Node) *scope {
	seen := map[*graph.Node]bool{}
	var queue []*scope
	for _, imp := range g.ImporterList() {
		seen[imp] = true
		queue = append(queue, rootScope(imp))
	}
	for len(queue) > 0 {
		sc := queue[0]
		queue = queue[1:]
		if sc.node == n {
			return sc
		}
		names := make([]string, 0, len(sc.node.EdgesOut))
		for name := range sc.node.EdgesOut {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			e := sc.node.EdgesOut[name]
			if e.To == nil || seen[e.To] {
				continue
			}
			seen[e.To] = true
			parent := sc
			if e.Type.IsPeer() && sc.parent != nil {
				parent = sc.parent
			}
			queue = append(queue, parent.push(e.To))
		}
	}
	return rootScope(n)
}

type peerKey struct {
	name   string
	anchor depid.ID
}

// pendingEdge is a peer edge waiting for its target node to get an identity.
type pendingEdge struct {
	from *graph.Node
	typ  graph.DepType
	spec *spec.Spec
}

// peerEntry records which package provides a name at an anchor scope. While
// the package's own peers are being resolved its node is nil, and requesters
// that find it queue their edges instead.
type peerEntry struct {
	version string
	node    *graph.Node
	waiting []pendingEdge
}

func (e *peerEntry) inFlight() bool { return e.node == nil }

func (e *peerEntry) wait(from *graph.Node, t graph.DepType, s *spec.Spec) {
	e.waiting = append(e.waiting, pendingEdge{from: from, typ: t, spec: s})
}

// peerTable is keyed by (name, anchor node) so that independent peer sets at
// different scopes never see each other.
type peerTable struct {
	entries map[peerKey]*peerEntry
}

func newPeerTable() *peerTable {
	return &peerTable{entries: map[peerKey]*peerEntry{}}
}

func (t *peerTable) get(name string, anchor *graph.Node) *peerEntry {
	return t.entries[peerKey{name: name, anchor: anchor.ID}]
}

// begin marks name as being placed at anchor. An existing entry is returned
// as is.
func (t *peerTable) begin(name string, anchor *graph.Node, version string) *peerEntry {
	k := peerKey{name: name, anchor: anchor.ID}
	if e, ok := t.entries[k]; ok {
		return e
	}
	e := &peerEntry{version: version}
	t.entries[k] = e
	return e
}

// settle sets the entry's node and hands back the edges that were waiting on it.
func (t *peerTable) settle(e *peerEntry, n *graph.Node) []pendingEdge {
	if e.node == nil {
		e.node = n
	}
	w := e.waiting
	e.waiting = nil
	return w
}

// abort drops an in-flight entry whose placement failed and returns the
// edges that were waiting on it.
func (t *peerTable) abort(name string, anchor *graph.Node) []pendingEdge {
	k := peerKey{name: name, anchor: anchor.ID}
	e, ok := t.entries[k]
	if !ok || !e.inFlight() {
		return nil
	}
	delete(t.entries, k)
	return e.waiting
}

// unsettled returns entries still in flight, sorted by anchor then name.
func (t *peerTable) unsettled() []peerKey {
	var out []peerKey
	for k, e := range t.entries {
		if e.inFlight() {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].anchor != out[j].anchor {
			return out[i].anchor < out[j].anchor
		}
		return out[i].name < out[j].name
	})
	return out
}
