package resolver

import (
	"github.com/anvil-platform/pkggraph/internal/depid"
	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/manifest"
)

// Input is the set of manifests a resolution starts from.
type Input struct {
	// ProjectRoot is the absolute project directory.
	ProjectRoot string
	Main        *manifest.Manifest
	Workspaces  []graph.Workspace
}

// Plan is the outcome of a resolution: the graph built so far and what
// could not be resolved.
type Plan struct {
	Graph       *graph.Graph
	Diagnostics Diagnostics
}

// Diagnostics captures the non-fatal outcomes of a resolution. Whether an
// unresolved required dependency or a peer conflict fails an install is up
// to the caller.
type Diagnostics struct {
	UnresolvedRequired []UnresolvedDependency
	UnresolvedOptional []UnresolvedDependency
	PeerConflicts      []PeerConflict
}

// OK reports whether nothing required is missing and no peer conflicts.
func (d Diagnostics) OK() bool {
	return len(d.UnresolvedRequired) == 0 && len(d.PeerConflicts) == 0
}

type UnresolvedDependency struct {
	From   depid.ID
	Name   string
	Spec   string
	Type   graph.DepType
	Reason string
}

// PeerConflict records a peer dependency provided by an ancestor scope at a
// version outside the requested range.
type PeerConflict struct {
	Requester    depid.ID
	Name         string
	Range        string
	Found        depid.ID
	FoundVersion string
}
