package graph

import (
	"fmt"

	"github.com/anvil-platform/pkggraph/internal/depid"
	"github.com/anvil-platform/pkggraph/internal/semver"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

// EdgeValid reports whether edge still satisfies newDep, the dependency as
// currently declared (nil means "unchanged"). An incremental re-resolution
// keeps valid edges and re-walks the rest. EdgeValid never mutates its
// inputs; the only error is ErrInvalidSpecType (or an identity error for a
// corrupt node ID), both of which are bugs rather than user errors.
func EdgeValid(edge *Edge, newDep *Dependency) (bool, error) {
	if edge == nil || edge.Spec == nil {
		return false, nil
	}
	if edge.To == nil {
		// An unresolved optional dependency is as good as it gets.
		return edge.Type == DepOptional, nil
	}
	if newDep != nil && newDep.Type != edge.Type {
		return false, nil
	}

	use := edge.Spec.Final()
	if newDep != nil && newDep.Spec != nil {
		use = newDep.Spec.Final()
	}
	target, err := depid.Decode(edge.To.ID)
	if err != nil {
		return false, err
	}

	switch orig := edge.Spec.Final(); orig.Type {
	case spec.TypeRegistry:
		return registryValid(edge, use, target), nil
	case spec.TypeFile:
		if target.Type != spec.TypeFile || use.Type != spec.TypeFile || use.File == "" {
			return false, nil
		}
		return resolveFile(edge.From.Location, use.File) == target.Origin, nil
	case spec.TypeRemote:
		if target.Type != spec.TypeRemote || use.Type != spec.TypeRemote {
			return false, nil
		}
		return use.RemoteURL == target.Origin, nil
	case spec.TypeWorkspace:
		if target.Type != spec.TypeWorkspace || use.Type != spec.TypeWorkspace {
			return false, nil
		}
		if cleanPath(edge.To.Location) != target.Origin {
			return false, nil
		}
		if !use.HasRange() {
			return true, nil
		}
		if edge.To.Version == "" {
			return false, nil
		}
		return use.Satisfies(edge.To.Version), nil
	case spec.TypeGit:
		if target.Type != spec.TypeGit || use.Type != spec.TypeGit {
			return false, nil
		}
		return use.GitRemote == target.Origin && use.GitSelector == target.Selector, nil
	default:
		return false, fmt.Errorf("%w: %q on edge %s", ErrInvalidSpecType, orig.Type, edge)
	}
}

func registryValid(edge *Edge, use *spec.Spec, target depid.Tuple) bool {
	if target.Type != spec.TypeRegistry || use.Type != spec.TypeRegistry {
		return false
	}
	if depid.RegistryOrigin(use) != target.Origin {
		return false
	}
	if use.DistTag != "" {
		return true
	}
	v, err := semver.ParseVersion(edge.To.Version)
	if err != nil {
		return false
	}
	return semver.Satisfies(v, use.Range)
}
