package graph

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/anvil-platform/pkggraph/internal/depid"
)

// Validate checks the structural invariants of the graph and returns every
// violation found as an aggregate, or nil.
func (g *Graph) Validate() error {
	var errs []error

	for id, n := range g.Nodes {
		if n.ID != id {
			errs = append(errs, fmt.Errorf("node %s registered under %s", n.ID, id))
		}
		if _, err := depid.Decode(n.ID); err != nil {
			errs = append(errs, err)
		}
		for name, e := range n.EdgesOut {
			if e.From != n || e.Name() != name {
				errs = append(errs, fmt.Errorf("edge %s filed under %s/%s", e, n, name))
			}
			if !g.Edges.Has(e) {
				errs = append(errs, fmt.Errorf("edge %s is not in the edge set", e))
			}
		}
		for e := range n.EdgesIn {
			if e.To != n {
				errs = append(errs, fmt.Errorf("incoming edge %s of %s points elsewhere", e, n))
			}
		}
	}

	for e := range g.Edges {
		if g.Nodes[e.From.ID] != e.From {
			errs = append(errs, fmt.Errorf("edge %s leaves an unregistered node", e))
		}
		if e.From.EdgesOut[e.Name()] != e {
			errs = append(errs, fmt.Errorf("edge %s is not the outgoing edge of its source", e))
		}
		switch {
		case e.To == nil && !g.MissingDependencies.Has(e):
			errs = append(errs, fmt.Errorf("missing edge %s is not recorded as missing", e))
		case e.To != nil && g.MissingDependencies.Has(e):
			errs = append(errs, fmt.Errorf("resolved edge %s is recorded as missing", e))
		case e.To != nil && g.Nodes[e.To.ID] != e.To:
			errs = append(errs, fmt.Errorf("edge %s reaches an unregistered node", e))
		case e.To != nil && !e.To.EdgesIn.Has(e):
			errs = append(errs, fmt.Errorf("edge %s is not an incoming edge of its target", e))
		}
	}

	for e := range g.MissingDependencies {
		if !g.Edges.Has(e) {
			errs = append(errs, fmt.Errorf("missing edge %s is not in the edge set", e))
		}
	}

	for n := range g.Reachable() {
		if g.Nodes[n.ID] != n {
			errs = append(errs, fmt.Errorf("reachable node %s is not registered", n))
		}
	}
	return utilerrors.NewAggregate(errs)
}
