package graph

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/anvil-platform/pkggraph/internal/depid"
	"github.com/anvil-platform/pkggraph/internal/manifest"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

// DepType is the kind of relation an edge records.
type DepType string

const (
	DepProd         DepType = "prod"
	DepDev          DepType = "dev"
	DepOptional     DepType = "optional"
	DepPeer         DepType = "peer"
	DepPeerOptional DepType = "peerOptional"
)

// IsPeer reports whether t is a peer relation.
func (t DepType) IsPeer() bool {
	return t == DepPeer || t == DepPeerOptional
}

// IsOptional reports whether a missing target of this type is tolerated.
func (t DepType) IsOptional() bool {
	return t == DepOptional || t == DepPeerOptional
}

// Node is one resolved package at one identity.
type Node struct {
	// ID never changes once the node is registered.
	ID       depid.ID
	Name     string
	Version  string
	Manifest *manifest.Manifest

	// Location is the project-relative directory of the package. Importers,
	// file and workspace nodes live at their own path.
	Location string

	Importer     bool
	MainImporter bool
	Dev          bool
	Optional     bool
	// Confused marks a registry package whose manifest name differs from
	// the name it was requested under.
	Confused bool

	EdgesIn sets.Set[*Edge]
	// EdgesOut holds at most one edge per dependency name.
	EdgesOut map[string]*Edge
}

func newNode(id depid.ID, name, version string, m *manifest.Manifest) *Node {
	return &Node{
		ID:       id,
		Name:     name,
		Version:  version,
		Manifest: m,
		EdgesIn:  sets.New[*Edge](),
		EdgesOut: map[string]*Edge{},
	}
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return string(n.ID)
}

// Type returns the dependency type encoded in the node's ID.
func (n *Node) Type() spec.Type {
	return depid.TypeOf(n.ID)
}

// Edge is a directed relation from a consumer to the node that satisfies
// one of its declared dependencies. A nil To records a missing dependency.
type Edge struct {
	Type DepType
	Spec *spec.Spec
	From *Node
	To   *Node
}

// Name returns the dependency name the edge is declared under.
func (e *Edge) Name() string {
	return e.Spec.Name
}

// Missing reports whether the edge has no target.
func (e *Edge) Missing() bool {
	return e.To == nil
}

func (e *Edge) String() string {
	to := "MISSING"
	if e.To != nil {
		to = e.To.String()
	}
	return fmt.Sprintf("%s -%s-> %s (%s)", e.From, e.Type, to, e.Spec)
}

// Dependency is a dependency as currently declared by a manifest.
type Dependency struct {
	Type DepType
	Spec *spec.Spec
}

// Workspace is a project inside the monorepo, located by its project-relative path.
type Workspace struct {
	Path     string
	Manifest *manifest.Manifest
}
