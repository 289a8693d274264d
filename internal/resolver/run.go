package resolver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/anvil-platform/pkggraph/internal/depid"
	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/manifest"
	"github.com/anvil-platform/pkggraph/internal/semver"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

// run is the state of one resolution. It is never shared between runs.
type run struct {
	g        *graph.Graph
	provider Provider
	opts     spec.Options
	log      logr.Logger

	diag     Diagnostics
	peers    *peerTable
	expanded sets.Set[*graph.Node]
	declared map[*graph.Node]declaredDeps
	fetched  map[string]fetchResult
	fetches  int
}

type declaredDeps struct {
	list   []graph.Dependency
	byName map[string]graph.Dependency
}

type fetchResult struct {
	m      *manifest.Manifest
	reason string
}

// peerChoice is what planPeers decided for one peer dependency before the
// requester has an identity.
type peerChoice struct {
	spec     *spec.Spec
	typ      graph.DepType
	node     *graph.Node
	entry    *peerEntry
	manifest *manifest.Manifest
	reason   string
}

func newRun(g *graph.Graph, p Provider, opts spec.Options, log logr.Logger) *run {
	return &run{
		g:        g,
		provider: p,
		opts:     opts,
		log:      log,
		peers:    newPeerTable(),
		expanded: sets.New[*graph.Node](),
		declared: map[*graph.Node]declaredDeps{},
		fetched:  map[string]fetchResult{},
	}
}

// expand places every declared dependency of n. sc has n at its head.
func (r *run) expand(ctx context.Context, sc *scope, n *graph.Node) error {
	deps, err := r.declaredOf(n)
	if err != nil {
		return err
	}
	for _, d := range deps.list {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.placeDep(ctx, sc, d.Type, d.Spec); err != nil {
			return err
		}
	}
	return nil
}

// declaredOf parses the dependencies n declares, sorted by name.
// optionalDependencies take precedence over dependencies, which take
// precedence over devDependencies. Only importers expand devDependencies.
func (r *run) declaredOf(n *graph.Node) (declaredDeps, error) {
	if d, ok := r.declared[n]; ok {
		return d, nil
	}
	d := declaredDeps{byName: map[string]graph.Dependency{}}
	m := n.Manifest
	if m == nil {
		r.declared[n] = d
		return d, nil
	}
	add := func(t graph.DepType, deps map[string]string) error {
		for name, bare := range deps {
			s, err := spec.Parse(name, bare, r.opts)
			if err != nil {
				return fmt.Errorf("%w: %s declares %s@%s: %w", ErrInvalidDependency, n, name, bare, err)
			}
			d.byName[name] = graph.Dependency{Type: t, Spec: s}
		}
		return nil
	}
	if n.Importer {
		if err := add(graph.DepDev, m.DevDependencies); err != nil {
			return d, err
		}
	}
	if err := add(graph.DepProd, m.Dependencies); err != nil {
		return d, err
	}
	if err := add(graph.DepOptional, m.OptionalDependencies); err != nil {
		return d, err
	}
	names := make([]string, 0, len(d.byName))
	for name := range d.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d.list = append(d.list, d.byName[name])
	}
	r.declared[n] = d
	return d, nil
}

// placeDep resolves one declared dependency of sc.node.
func (r *run) placeDep(ctx context.Context, sc *scope, t graph.DepType, s *spec.Spec) (*graph.Node, error) {
	from := sc.node
	if e, ok := from.EdgesOut[s.Name]; ok {
		return e.To, nil
	}
	if s.Final().Type == spec.TypeWorkspace {
		n, err := r.g.PlacePackage(from, t, s, nil, "")
		if errors.Is(err, graph.ErrWorkspaceNotFound) {
			return nil, r.missing(from, t, s, err.Error())
		}
		return n, err
	}
	m, reason, err := r.fetch(ctx, from, s, true)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, r.missing(from, t, s, reason)
	}
	return r.place(ctx, sc, from, t, s, m)
}

// place creates or reuses the node for s resolved to m, wires the edge from
// from and expands the node. anchor is the scope the package is provided
// at: the consumer itself for regular dependencies, the requester's
// enclosing scope for peers.
func (r *run) place(ctx context.Context, anchor *scope, from *graph.Node, t graph.DepType, s *spec.Spec, m *manifest.Manifest) (*graph.Node, error) {
	entry := r.peers.begin(s.Name, anchor.node, semver.CleanVersion(m.Version))

	choices, extra, err := r.planPeers(ctx, anchor, m)
	if err != nil {
		return nil, err
	}
	n, err := r.g.PlacePackage(from, t, s, m, extra)
	if err != nil && !errors.Is(err, depid.ErrIncompleteIdentity) && !errors.Is(err, depid.ErrUnknownType) {
		return nil, err
	}
	if n == nil {
		reason := "no identity"
		if err != nil {
			reason = err.Error()
		}
		for _, w := range r.peers.abort(s.Name, anchor.node) {
			if merr := r.missing(w.from, w.typ, w.spec, reason); merr != nil {
				return nil, merr
			}
		}
		return nil, r.missing(from, t, s, reason)
	}
	for _, w := range r.peers.settle(entry, n) {
		if err := r.link(w.from, w.typ, w.spec, n); err != nil {
			return nil, err
		}
	}

	if r.expanded.Has(n) {
		return n, nil
	}
	r.expanded.Insert(n)
	r.log.V(2).Info("placed package", "id", n.ID, "from", from.ID, "type", t)
	if err := r.wirePeers(ctx, anchor, n, choices); err != nil {
		return nil, err
	}
	return n, r.expand(ctx, anchor.push(n), n)
}

// planPeers decides where each peer of m comes from, searching outward from
// sc. It returns the choices and the identity extra derived from the
// versions they resolve to.
func (r *run) planPeers(ctx context.Context, sc *scope, m *manifest.Manifest) ([]peerChoice, string, error) {
	if len(m.PeerDependencies) == 0 {
		return nil, "", nil
	}
	var (
		choices []peerChoice
		parts   []string
	)
	for _, name := range manifest.DependencyNames(m.PeerDependencies) {
		if name == m.Name {
			continue
		}
		bare := m.PeerDependencies[name]
		s, err := spec.Parse(name, bare, r.opts)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s peer %s@%s: %w", ErrInvalidDependency, m.ID(), name, bare, err)
		}
		c := peerChoice{spec: s, typ: graph.DepPeer}
		if m.IsPeerOptional(name) {
			c.typ = graph.DepPeerOptional
		}

		n, entry, err := r.searchPeer(ctx, sc, s)
		if err != nil {
			return nil, "", err
		}
		switch {
		case n != nil:
			c.node = n
			parts = append(parts, name+"@"+n.Version)
		case entry != nil:
			c.entry = entry
			parts = append(parts, name+"@"+entry.version)
		case c.typ == graph.DepPeerOptional:
			c.reason = "optional peer not provided by an enclosing scope"
		default:
			pm, reason, err := r.fetch(ctx, sc.node, s, false)
			if err != nil {
				return nil, "", err
			}
			c.manifest, c.reason = pm, reason
			if pm != nil {
				parts = append(parts, name+"@"+semver.CleanVersion(pm.Version))
			}
		}
		choices = append(choices, c)
	}
	return choices, peerExtra(parts), nil
}

// searchPeer walks the scope chain outward looking for a provider of s. At
// each scope it checks the scope node itself, its edges, the peer table and
// finally the scope's own declared dependencies, which are placed on demand.
// The nearest provider whose version satisfies s wins. When none does, the
// nearest provider found is returned and the caller records a conflict.
func (r *run) searchPeer(ctx context.Context, sc *scope, s *spec.Spec) (*graph.Node, *peerEntry, error) {
	var (
		firstNode  *graph.Node
		firstEntry *peerEntry
	)
	consider := func(n *graph.Node, e *peerEntry) bool {
		version := ""
		if n != nil {
			version = n.Version
		} else {
			version = e.version
		}
		if s.Satisfies(version) {
			return true
		}
		if firstNode == nil && firstEntry == nil {
			firstNode, firstEntry = n, e
		}
		return false
	}

	for cur := sc; cur != nil; cur = cur.parent {
		at := cur.node
		if at.Name == s.Name && !at.MainImporter {
			if consider(at, nil) {
				return at, nil, nil
			}
			continue
		}
		if e, ok := at.EdgesOut[s.Name]; ok && e.To != nil {
			if consider(e.To, nil) {
				return e.To, nil, nil
			}
			continue
		}
		if e := r.peers.get(s.Name, at); e != nil {
			if e.inFlight() {
				if consider(nil, e) {
					return nil, e, nil
				}
			} else if consider(e.node, nil) {
				return e.node, nil, nil
			}
			continue
		}
		deps, err := r.declaredOf(at)
		if err != nil {
			return nil, nil, err
		}
		d, ok := deps.byName[s.Name]
		if !ok {
			continue
		}
		n, err := r.placeDep(ctx, cur, d.Type, d.Spec)
		if err != nil {
			return nil, nil, err
		}
		if n != nil && consider(n, nil) {
			return n, nil, nil
		}
	}
	return firstNode, firstEntry, nil
}

// wirePeers creates the peer edges of the freshly placed requester n.
func (r *run) wirePeers(ctx context.Context, anchor *scope, n *graph.Node, choices []peerChoice) error {
	for _, c := range choices {
		entry := c.entry
		if c.manifest != nil {
			entry = r.peers.get(c.spec.Name, anchor.node)
		}
		switch {
		case c.node != nil:
			if err := r.link(n, c.typ, c.spec, c.node); err != nil {
				return err
			}
		case entry != nil && entry.inFlight():
			entry.wait(n, c.typ, c.spec)
		case entry != nil:
			if err := r.link(n, c.typ, c.spec, entry.node); err != nil {
				return err
			}
		case c.manifest != nil:
			if _, err := r.place(ctx, anchor, n, c.typ, c.spec, c.manifest); err != nil {
				return err
			}
		default:
			if err := r.missing(n, c.typ, c.spec, c.reason); err != nil {
				return err
			}
		}
	}
	return nil
}

// link wires a peer edge to an existing node and records a conflict when the
// node's version is outside the requested range.
func (r *run) link(from *graph.Node, t graph.DepType, s *spec.Spec, to *graph.Node) error {
	if _, ok := from.EdgesOut[s.Name]; ok {
		return nil
	}
	e, err := r.g.Link(t, s, from, to)
	if err != nil {
		return err
	}
	if e.To != to || s.Satisfies(to.Version) {
		return nil
	}
	pc := PeerConflict{
		Requester:    from.ID,
		Name:         s.Name,
		Range:        s.BareSpec,
		Found:        to.ID,
		FoundVersion: to.Version,
	}
	r.diag.PeerConflicts = append(r.diag.PeerConflicts, pc)
	r.log.Info("peer dependency conflict", "requester", from.ID, "peer", s.String(), "found", to.ID)
	return nil
}

// missing records an edge without a target. Nothing happens when from
// already has an edge for the name.
func (r *run) missing(from *graph.Node, t graph.DepType, s *spec.Spec, reason string) error {
	if _, ok := from.EdgesOut[s.Name]; ok {
		return nil
	}
	if _, err := r.g.NewEdge(t, s, from, nil); err != nil {
		return err
	}
	u := UnresolvedDependency{From: from.ID, Name: s.Name, Spec: s.BareSpec, Type: t, Reason: reason}
	if t.IsOptional() || from.Optional {
		r.diag.UnresolvedOptional = append(r.diag.UnresolvedOptional, u)
		r.log.V(1).Info("optional dependency unresolved", "from", from.ID, "dependency", s.String(), "reason", reason)
		return nil
	}
	r.diag.UnresolvedRequired = append(r.diag.UnresolvedRequired, u)
	r.log.Info("dependency unresolved", "from", from.ID, "dependency", s.String(), "reason", reason)
	return nil
}

// fetch returns the manifest s resolves to for a consumer at from. With
// reuse set, a registry spec an already placed version satisfies resolves to
// that version without asking the provider. A nil manifest comes with the
// reason it is missing.
func (r *run) fetch(ctx context.Context, from *graph.Node, s *spec.Spec, reuse bool) (*manifest.Manifest, string, error) {
	if reuse {
		if n := r.g.FindSatisfying(s); n != nil && n.Manifest != nil {
			manifestFetchesTotal.WithLabelValues("reused").Inc()
			return n.Manifest, "", nil
		}
	}
	key := s.String()
	if s.Final().Type == spec.TypeFile {
		key = from.Location + "\x00" + key
	}
	if res, ok := r.fetched[key]; ok {
		manifestFetchesTotal.WithLabelValues("cached").Inc()
		return res.m, res.reason, nil
	}

	r.fetches++
	m, err := r.provider.Fetch(ctx, s, from.Location)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, "", ctxErr
	}
	var res fetchResult
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return nil, "", err
	case err != nil:
		res.reason = err.Error()
		manifestFetchesTotal.WithLabelValues("error").Inc()
	case m == nil:
		res.reason = "no manifest"
		manifestFetchesTotal.WithLabelValues("error").Inc()
	default:
		res.m = m
		manifestFetchesTotal.WithLabelValues("fetched").Inc()
	}
	r.fetched[key] = res
	return res.m, res.reason, nil
}

// finish turns edges still waiting on an unsettled peer into missing edges.
func (r *run) finish() error {
	for _, k := range r.peers.unsettled() {
		anchor := r.g.Nodes[k.anchor]
		if anchor == nil {
			continue
		}
		for _, w := range r.peers.abort(k.name, anchor) {
			if err := r.missing(w.from, w.typ, w.spec, "peer placement did not complete"); err != nil {
				return err
			}
		}
	}
	return nil
}

// peerExtra names a peer-resolution variant by the versions its peers
// resolved to.
func peerExtra(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	sort.Strings(parts)
	h := sha1.Sum([]byte(strings.Join(parts, "\n")))
	return "peer-" + hex.EncodeToString(h[:])[:12]
}
