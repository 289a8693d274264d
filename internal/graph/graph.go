// Package graph models a resolved dependency graph: nodes keyed by their
// dependency ID, typed edges from consumers to the packages satisfying them,
// the importer roots, and the set of missing dependencies.
//
// The graph is a DAG with shared subtrees, and peer dependencies may close
// cycles. Graph is not safe for concurrent use; a resolution run owns its
// graph exclusively.
package graph

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/anvil-platform/pkggraph/internal/depid"
	"github.com/anvil-platform/pkggraph/internal/manifest"
	"github.com/anvil-platform/pkggraph/internal/semver"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

// MainImporterID is the identity of the project root.
var MainImporterID = depid.MustEncode(depid.Tuple{Type: spec.TypeFile, Origin: "."})

// storeDir is where packages without a location of their own are placed.
const storeDir = "node_modules/.store"

// Options seed a new Graph.
type Options struct {
	// ProjectRoot is the absolute project directory. Node locations are
	// relative to it.
	ProjectRoot string
	Main        *manifest.Manifest
	Workspaces  []Workspace
	Spec        spec.Options
}

// Graph owns every node and edge of one resolution.
type Graph struct {
	Nodes               map[depid.ID]*Node
	Edges               sets.Set[*Edge]
	Importers           sets.Set[*Node]
	MainImporter        *Node
	MissingDependencies sets.Set[*Edge]

	ProjectRoot string
	SpecOptions spec.Options

	byName     map[string]sets.Set[*Node]
	workspaces map[string]*Node
}

// New creates a graph holding the main importer and one importer per workspace.
func New(opts Options) (*Graph, error) {
	main := opts.Main
	if main == nil {
		main = &manifest.Manifest{}
	}
	g := &Graph{
		Nodes:               map[depid.ID]*Node{},
		Edges:               sets.New[*Edge](),
		Importers:           sets.New[*Node](),
		MissingDependencies: sets.New[*Edge](),
		ProjectRoot:         opts.ProjectRoot,
		SpecOptions:         opts.Spec,
		byName:              map[string]sets.Set[*Node]{},
		workspaces:          map[string]*Node{},
	}

	root := newNode(MainImporterID, orDefault(main.Name, "."), semver.CleanVersion(main.Version), main)
	root.Location = "."
	root.Importer = true
	root.MainImporter = true
	g.register(root)
	g.Importers.Insert(root)
	g.MainImporter = root

	for _, ws := range opts.Workspaces {
		if _, err := g.addWorkspace(ws); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Graph) addWorkspace(ws Workspace) (*Node, error) {
	if ws.Manifest == nil {
		return nil, fmt.Errorf("graph: workspace %q has no manifest", ws.Path)
	}
	p := cleanPath(ws.Path)
	if p == "." || strings.HasPrefix(p, "../") {
		return nil, fmt.Errorf("graph: workspace path %q must be inside the project", ws.Path)
	}
	id, err := depid.Encode(depid.Tuple{Type: spec.TypeWorkspace, Origin: p})
	if err != nil {
		return nil, err
	}
	name := orDefault(ws.Manifest.Name, path.Base(p))
	if _, ok := g.Nodes[id]; ok {
		return nil, fmt.Errorf("%w: path %s", ErrDuplicateWorkspace, p)
	}
	if _, ok := g.workspaces[name]; ok {
		return nil, fmt.Errorf("%w: name %s", ErrDuplicateWorkspace, name)
	}
	n := newNode(id, name, semver.CleanVersion(ws.Manifest.Version), ws.Manifest)
	n.Location = p
	n.Importer = true
	g.register(n)
	g.Importers.Insert(n)
	g.workspaces[name] = n
	return n, nil
}

func (g *Graph) register(n *Node) {
	g.Nodes[n.ID] = n
	if g.byName[n.Name] == nil {
		g.byName[n.Name] = sets.New[*Node]()
	}
	g.byName[n.Name].Insert(n)
}

// Workspace returns the workspace importer registered under name.
func (g *Graph) Workspace(name string) (*Node, bool) {
	n, ok := g.workspaces[name]
	return n, ok
}

// ImporterList returns the main importer followed by the workspaces sorted by location.
func (g *Graph) ImporterList() []*Node {
	out := make([]*Node, 0, g.Importers.Len())
	for n := range g.Importers {
		if !n.MainImporter {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return append([]*Node{g.MainImporter}, out...)
}

// NodesByName returns every node registered under name, sorted by ID.
func (g *Graph) NodesByName(name string) []*Node {
	out := g.byName[name].UnsortedList()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodeList returns every node sorted by ID.
func (g *Graph) NodeList() []*Node {
	out := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NewNode derives the identity of the package s resolved to and returns the
// node registered under it, creating the node on first sight. It never
// creates an edge. File specs resolve relative to from.
func (g *Graph) NewNode(from *Node, m *manifest.Manifest, s *spec.Spec, extra string) (*Node, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil spec", ErrInvalidNode)
	}
	f := s.Final()
	if f.Type == spec.TypeWorkspace {
		n, ok := g.workspaces[f.Workspace]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, s)
		}
		return n, nil
	}
	if m == nil {
		return nil, &depid.IdentityError{Input: s.String(), Reason: "no manifest", Err: depid.ErrIncompleteIdentity}
	}

	ds := s
	if f.Type == spec.TypeFile {
		if from == nil {
			return nil, fmt.Errorf("%w: file spec %s needs a consumer", ErrInvalidNode, s)
		}
		resolved := *f
		resolved.File = resolveFile(from.Location, f.File)
		ds = &resolved
	}
	t, err := depid.FromSpecAndManifest(ds, m, extra)
	if err != nil {
		return nil, err
	}
	id, err := depid.Encode(t)
	if err != nil {
		return nil, err
	}
	if n, ok := g.Nodes[id]; ok {
		return n, nil
	}

	name := orDefault(m.Name, s.Name)
	if f.Type == spec.TypeRegistry {
		name, _ = t.NameVersion()
	}
	n := newNode(id, name, semver.CleanVersion(m.Version), m)
	n.Confused = f.Type == spec.TypeRegistry && m.Name != "" && m.Name != name
	switch t.Type {
	case spec.TypeFile:
		n.Location = t.Origin
	default:
		n.Location = path.Join(storeDir, string(id), "node_modules", name)
	}
	g.register(n)
	return n, nil
}

// NewEdge records a dependency of from. It is idempotent per (from, name):
// when from already has an edge for the name, that edge is returned
// unchanged. Asking for the same name with a different non-nil target is a
// bookkeeping bug and fails with ErrEdgeConflict.
func (g *Graph) NewEdge(t DepType, s *spec.Spec, from, to *Node) (*Edge, error) {
	if from == nil || g.Nodes[from.ID] != from {
		return nil, fmt.Errorf("%w: edge source %v", ErrInvalidNode, from)
	}
	if to != nil && g.Nodes[to.ID] != to {
		return nil, fmt.Errorf("%w: edge target %v", ErrInvalidNode, to)
	}
	if existing, ok := from.EdgesOut[s.Name]; ok {
		if to != nil && existing.To != to {
			return nil, fmt.Errorf("%w: %s already points at %v, not %v", ErrEdgeConflict, existing, existing.To, to)
		}
		return existing, nil
	}

	e := &Edge{Type: t, Spec: s, From: from, To: to}
	from.EdgesOut[s.Name] = e
	g.Edges.Insert(e)
	if to == nil {
		g.MissingDependencies.Insert(e)
	} else {
		to.EdgesIn.Insert(e)
	}
	return e, nil
}

// PlacePackage resolves s for from against m: it reuses or creates the
// target node and wires the edge. A nil manifest records a missing edge and
// returns nil. When from already has an edge for the name, its target is
// returned and nothing changes.
func (g *Graph) PlacePackage(from *Node, t DepType, s *spec.Spec, m *manifest.Manifest, extra string) (*Node, error) {
	if from == nil {
		return nil, fmt.Errorf("%w: nil consumer", ErrInvalidNode)
	}
	if existing, ok := from.EdgesOut[s.Name]; ok {
		return existing.To, nil
	}
	if m == nil && s.Final().Type != spec.TypeWorkspace {
		_, err := g.NewEdge(t, s, from, nil)
		return nil, err
	}

	before := len(g.Nodes)
	n, err := g.NewNode(from, m, s, extra)
	if err != nil {
		return nil, err
	}
	dev := inheritsDev(from, t)
	optional := inheritsOptional(from, t)
	if len(g.Nodes) > before {
		n.Dev = dev
		n.Optional = optional
	} else {
		g.promote(n, dev, optional)
	}
	if _, err := g.NewEdge(t, s, from, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Link wires an edge to a node that is already placed and propagates the
// dev and optional flags the way PlacePackage does.
func (g *Graph) Link(t DepType, s *spec.Spec, from, to *Node) (*Edge, error) {
	e, err := g.NewEdge(t, s, from, to)
	if err != nil {
		return nil, err
	}
	if to != nil && e.To == to {
		g.promote(to, inheritsDev(from, t), inheritsOptional(from, t))
	}
	return e, nil
}

// AddWorkspace registers a workspace importer on an existing graph.
func (g *Graph) AddWorkspace(ws Workspace) (*Node, error) {
	return g.addWorkspace(ws)
}

func inheritsDev(from *Node, t DepType) bool {
	return t == DepDev || (from.Dev && !from.Importer)
}

func inheritsOptional(from *Node, t DepType) bool {
	return t.IsOptional() || (from.Optional && !from.Importer)
}

// promote clears the dev and optional flags of n, and of everything below
// it, when n becomes reachable through a non-dev or required path.
func (g *Graph) promote(n *Node, dev, optional bool) {
	clearDev := !dev && n.Dev
	clearOptional := !optional && n.Optional
	if n.Importer || (!clearDev && !clearOptional) {
		return
	}
	if clearDev {
		n.Dev = false
	}
	if clearOptional {
		n.Optional = false
	}
	for _, e := range n.EdgesOut {
		if e.To != nil {
			g.promote(e.To, inheritsDev(n, e.Type), inheritsOptional(n, e.Type))
		}
	}
}

// RecomputeFlags re-derives Dev and Optional for every non-importer node
// from the importer edges. A node stays dev (optional) only when every path
// from an importer reaches it through a dev (optional) edge.
func (g *Graph) RecomputeFlags() {
	for _, n := range g.Nodes {
		if !n.Importer {
			n.Dev, n.Optional = true, true
		}
	}
	for _, imp := range g.ImporterList() {
		for _, e := range imp.EdgesOut {
			if e.To != nil {
				g.promote(e.To, inheritsDev(imp, e.Type), inheritsOptional(imp, e.Type))
			}
		}
	}
}

// FindSatisfying returns the highest already-placed registry node that s
// could resolve to, or nil. Dist-tag specs never match.
func (g *Graph) FindSatisfying(s *spec.Spec) *Node {
	f := s.Final()
	if f == nil || f.Type != spec.TypeRegistry || f.DistTag != "" {
		return nil
	}
	origin := depid.RegistryOrigin(f)
	var best *Node
	var bestVersion semver.Version
	for n := range g.byName[f.Name] {
		t, err := depid.Decode(n.ID)
		if err != nil || t.Type != spec.TypeRegistry || t.Origin != origin {
			continue
		}
		v, err := semver.ParseVersion(n.Version)
		if err != nil || !semver.Satisfies(v, f.Range) {
			continue
		}
		if best == nil || semver.Compare(v, bestVersion) > 0 || (semver.Compare(v, bestVersion) == 0 && n.ID < best.ID) {
			best, bestVersion = n, v
		}
	}
	return best
}

// RemoveEdge detaches e from the graph.
func (g *Graph) RemoveEdge(e *Edge) {
	if e == nil {
		return
	}
	if cur, ok := e.From.EdgesOut[e.Name()]; ok && cur == e {
		delete(e.From.EdgesOut, e.Name())
	}
	if e.To != nil {
		e.To.EdgesIn.Delete(e)
	}
	g.Edges.Delete(e)
	g.MissingDependencies.Delete(e)
}

// RemoveNode removes n together with every edge touching it. Edges that
// pointed at n are removed rather than turned into missing edges.
func (g *Graph) RemoveNode(n *Node) error {
	if n == nil || g.Nodes[n.ID] != n {
		return fmt.Errorf("%w: %v", ErrInvalidNode, n)
	}
	if n.Importer {
		return fmt.Errorf("%w: %s", ErrImporterRemoval, n)
	}
	g.unregister(n)
	return nil
}

// RemoveWorkspace unregisters a workspace importer together with every edge
// touching it. The main importer cannot be removed.
func (g *Graph) RemoveWorkspace(n *Node) error {
	if n == nil || g.Nodes[n.ID] != n || !n.Importer || n.MainImporter {
		return fmt.Errorf("%w: %v is not a workspace", ErrInvalidNode, n)
	}
	g.unregister(n)
	g.Importers.Delete(n)
	delete(g.workspaces, n.Name)
	return nil
}

func (g *Graph) unregister(n *Node) {
	for _, e := range n.EdgesIn.UnsortedList() {
		g.RemoveEdge(e)
	}
	for _, e := range n.EdgesOut {
		g.RemoveEdge(e)
	}
	delete(g.Nodes, n.ID)
	if set := g.byName[n.Name]; set != nil {
		set.Delete(n)
		if set.Len() == 0 {
			delete(g.byName, n.Name)
		}
	}
}

// Reachable returns every node reachable from an importer through EdgesOut.
func (g *Graph) Reachable() sets.Set[*Node] {
	seen := sets.New[*Node]()
	queue := g.Importers.UnsortedList()
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen.Has(n) {
			continue
		}
		seen.Insert(n)
		for _, e := range n.EdgesOut {
			if e.To != nil && !seen.Has(e.To) {
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

// Prune removes nodes no importer can reach and returns them sorted by ID.
func (g *Graph) Prune() []*Node {
	reachable := g.Reachable()
	var removed []*Node
	for _, n := range g.NodeList() {
		if reachable.Has(n) {
			continue
		}
		removed = append(removed, n)
	}
	for _, n := range removed {
		// n is registered and never an importer here.
		_ = g.RemoveNode(n)
	}
	return removed
}

func resolveFile(fromLocation, file string) string {
	file = strings.TrimPrefix(file, "file:")
	if path.IsAbs(file) {
		return path.Clean(file)
	}
	return cleanPath(path.Join(fromLocation, file))
}

func cleanPath(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
