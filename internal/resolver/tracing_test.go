package resolver

import (
	"context"
	"reflect"
	"testing"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/manifest"
)

type recordingTracer struct {
	noop.Tracer
	spans []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.spans = append(r.spans, name)
	return r.Tracer.Start(ctx, name, opts...)
}

func TestResolveSpans(t *testing.T) {
	store := manifest.NewStore().Add(pkg("foo", "1.0.0"))
	root := withDeps(pkg("root", "1.0.0"), map[string]string{"foo": "^1"})
	ws := graph.Workspace{Path: "packages/a", Manifest: pkg("a", "1.0.0")}

	tr := &recordingTracer{}
	r := NewDefault(store, WithLogger(logr.Discard()), WithTracer(tr))
	plan, err := r.Resolve(context.Background(), Input{ProjectRoot: "/project", Main: root, Workspaces: []graph.Workspace{ws}})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	want := []string{"resolver.Resolve", "resolver.expandImporter", "resolver.expandImporter"}
	if !reflect.DeepEqual(tr.spans, want) {
		t.Fatalf("spans = %v, want %v", tr.spans, want)
	}

	tr.spans = nil
	if _, err := r.Update(context.Background(), plan.Graph, Input{Main: root, Workspaces: []graph.Workspace{ws}}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if len(tr.spans) == 0 || tr.spans[0] != "resolver.Update" {
		t.Fatalf("expected an Update span first, got %v", tr.spans)
	}
}
