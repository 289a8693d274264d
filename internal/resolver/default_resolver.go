package resolver

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/pkggraph/internal/depid"
	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

// tracerName names the tracer used when none is configured.
const tracerName = "pkggraph.resolver"

// DefaultResolver places packages depth-first in declaration order, sharing
// nodes across the graph and resolving peers against the nearest enclosing
// scope.
type DefaultResolver struct {
	provider Provider
	spec     spec.Options
	logger   *logr.Logger
	tracer   trace.Tracer
}

type Option func(*DefaultResolver)

// WithSpecOptions sets the registry configuration specifiers are parsed with.
func WithSpecOptions(o spec.Options) Option {
	return func(r *DefaultResolver) { r.spec = o }
}

// WithLogger overrides the logger taken from the context.
func WithLogger(l logr.Logger) Option {
	return func(r *DefaultResolver) { r.logger = &l }
}

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option {
	return func(r *DefaultResolver) { r.tracer = t }
}

func NewDefault(p Provider, opts ...Option) *DefaultResolver {
	r := &DefaultResolver{provider: p, spec: spec.DefaultOptions(), tracer: otel.Tracer(tracerName)}
	for _, o := range opts {
		o(r)
	}
	return r
}

var (
	_ Resolver = (*DefaultResolver)(nil)
	_ Updater  = (*DefaultResolver)(nil)
)

// Resolve builds a fresh graph for in. The returned graph is consistent even
// when an error is returned after the graph was created.
func (r *DefaultResolver) Resolve(ctx context.Context, in Input) (plan Plan, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "resolver.Resolve",
		trace.WithAttributes(
			attribute.String("project_root", in.ProjectRoot),
			attribute.Int("workspaces", len(in.Workspaces)),
		),
	)
	defer func() { r.finishSpan(span, "resolve", start, plan, err) }()

	if r.provider == nil {
		return Plan{}, ErrNoProvider
	}
	depid.Configure(r.spec)
	g, err := graph.New(graph.Options{
		ProjectRoot: in.ProjectRoot,
		Main:        in.Main,
		Workspaces:  in.Workspaces,
		Spec:        r.spec,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("seed graph: %w", err)
	}
	plan.Graph = g

	logger := r.loggerFor(ctx).WithValues("mode", "resolve", "root", in.ProjectRoot)
	rn := newRun(g, r.provider, r.spec, logger)
	if err := r.expandImporters(ctx, rn); err != nil {
		plan.Diagnostics = rn.diag
		return plan, err
	}
	plan.Diagnostics = rn.diag
	logger.Info("resolved dependency graph",
		"nodes", len(g.Nodes),
		"edges", g.Edges.Len(),
		"missing", g.MissingDependencies.Len(),
		"fetches", rn.fetches,
	)
	return plan, nil
}

// Update re-resolves g against the manifests in in. Importer edges that are
// no longer declared or no longer valid for their declaration are dropped
// and resolved again, missing edges are retried and unreachable nodes are
// pruned. Everything else is kept as is.
func (r *DefaultResolver) Update(ctx context.Context, g *graph.Graph, in Input) (plan Plan, err error) {
	if g == nil {
		return r.Resolve(ctx, in)
	}
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "resolver.Update",
		trace.WithAttributes(attribute.Int("nodes.before", len(g.Nodes))),
	)
	defer func() { r.finishSpan(span, "update", start, plan, err) }()

	if r.provider == nil {
		return Plan{}, ErrNoProvider
	}
	depid.Configure(r.spec)
	plan.Graph = g
	logger := r.loggerFor(ctx).WithValues("mode", "update", "root", g.ProjectRoot)

	if err := refreshImporters(g, in); err != nil {
		return plan, err
	}

	rn := newRun(g, r.provider, r.spec, logger)
	for _, n := range g.Nodes {
		if !n.Importer {
			rn.expanded.Insert(n)
		}
	}

	removed := 0
	for _, imp := range g.ImporterList() {
		deps, err := rn.declaredOf(imp)
		if err != nil {
			return plan, err
		}
		for _, name := range edgeNames(imp) {
			e := imp.EdgesOut[name]
			d, ok := deps.byName[name]
			// A missing optional edge passes EdgeValid whatever it is
			// declared as now, so a type change is checked here.
			if ok && d.Type == e.Type {
				valid, err := graph.EdgeValid(e, &d)
				if err != nil {
					return plan, fmt.Errorf("check %s: %w", e, err)
				}
				if valid {
					continue
				}
			}
			logger.V(1).Info("dropping importer edge", "edge", e.String(), "declared", ok)
			g.RemoveEdge(e)
			removed++
		}
	}
	resolverEdgesRemovedTotal.Add(float64(removed))

	if err := r.retryMissing(ctx, rn); err != nil {
		plan.Diagnostics = rn.diag
		return plan, err
	}
	if err := r.expandImporters(ctx, rn); err != nil {
		plan.Diagnostics = rn.diag
		return plan, err
	}
	pruned := g.Prune()
	g.RecomputeFlags()
	plan.Diagnostics = rn.diag
	logger.Info("updated dependency graph",
		"nodes", len(g.Nodes),
		"edgesRemoved", removed,
		"pruned", len(pruned),
		"missing", g.MissingDependencies.Len(),
	)
	return plan, nil
}

func (r *DefaultResolver) expandImporters(ctx context.Context, rn *run) error {
	for _, imp := range rn.g.ImporterList() {
		ictx, span := r.tracer.Start(ctx, "resolver.expandImporter",
			trace.WithAttributes(attribute.String("importer", string(imp.ID))),
		)
		err := rn.expand(ictx, rootScope(imp), imp)
		span.End()
		if err != nil {
			return fmt.Errorf("resolve importer %s: %w", imp, err)
		}
	}
	return rn.finish()
}

// retryMissing drops the missing regular edges of non-importer nodes and
// resolves them again within the consumer's scope chain.
func (r *DefaultResolver) retryMissing(ctx context.Context, rn *run) error {
	edges := rn.g.MissingDependencies.UnsortedList()
	sort.Slice(edges, func(i, j int) bool { return edges[i].String() < edges[j].String() })
	for _, e := range edges {
		if e.From.Importer || e.Type.IsPeer() {
			continue
		}
		rn.g.RemoveEdge(e)
		if _, err := rn.placeDep(ctx, scopeOf(rn.g, e.From), e.Type, e.Spec); err != nil {
			return err
		}
	}
	return nil
}

// refreshImporters swaps in the new importer manifests. Workspaces that
// moved are registered again at their new path and workspaces that
// disappeared are removed, so edges that pointed at them get re-placed.
func refreshImporters(g *graph.Graph, in Input) error {
	if in.Main != nil {
		g.MainImporter.Manifest = in.Main
	}
	byLocation := map[string]*graph.Node{}
	for _, imp := range g.ImporterList() {
		if !imp.MainImporter {
			byLocation[imp.Location] = imp
		}
	}

	seen := map[*graph.Node]bool{}
	var added []graph.Workspace
	for _, ws := range in.Workspaces {
		if imp, ok := byLocation[path.Clean(ws.Path)]; ok {
			imp.Manifest = ws.Manifest
			seen[imp] = true
			continue
		}
		added = append(added, ws)
	}
	if in.Main == nil && len(in.Workspaces) == 0 {
		return nil
	}
	for _, imp := range byLocation {
		if seen[imp] {
			continue
		}
		if err := g.RemoveWorkspace(imp); err != nil {
			return err
		}
	}
	for _, ws := range added {
		if _, err := g.AddWorkspace(ws); err != nil {
			return fmt.Errorf("add workspace %s: %w", ws.Path, err)
		}
	}
	return nil
}

func edgeNames(n *graph.Node) []string {
	names := make([]string, 0, len(n.EdgesOut))
	for name := range n.EdgesOut {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *DefaultResolver) loggerFor(ctx context.Context) logr.Logger {
	if r.logger != nil {
		return *r.logger
	}
	return log.FromContext(ctx).WithName("resolver")
}

func (r *DefaultResolver) finishSpan(span trace.Span, mode string, start time.Time, plan Plan, err error) {
	resolverRunsTotal.WithLabelValues(mode).Inc()
	resolverDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	nodes := 0
	if plan.Graph != nil {
		nodes = len(plan.Graph.Nodes)
	}
	observeDiagnostics(nodes, plan.Diagnostics)
	span.SetAttributes(
		attribute.Int("nodes", nodes),
		attribute.Int("unresolved.required", len(plan.Diagnostics.UnresolvedRequired)),
		attribute.Int("peer.conflicts", len(plan.Diagnostics.PeerConflicts)),
	)
	if err != nil {
		resolverRunErrorsTotal.WithLabelValues(mode).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
