package resolver

import (
	"context"

	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/manifest"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

// Resolver builds the ideal dependency graph for an Input.
type Resolver interface {
	Resolve(ctx context.Context, in Input) (Plan, error)
}

// Updater re-resolves an existing graph after manifests changed, keeping
// every edge that is still valid.
type Updater interface {
	Update(ctx context.Context, g *graph.Graph, in Input) (Plan, error)
}

// Provider fetches the manifest a specifier resolves to. fromLocation is the
// consumer's project-relative directory, which file specs resolve against.
//
// Returning (nil, nil) or an error records a missing dependency. Context
// errors abort the run instead.
type Provider interface {
	Fetch(ctx context.Context, s *spec.Spec, fromLocation string) (*manifest.Manifest, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, s *spec.Spec, fromLocation string) (*manifest.Manifest, error)

func (f ProviderFunc) Fetch(ctx context.Context, s *spec.Spec, fromLocation string) (*manifest.Manifest, error) {
	return f(ctx, s, fromLocation)
}
