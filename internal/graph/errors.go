package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrInvalidNode is returned when an operation is handed a nil node or a
	// node that does not belong to the graph.
	ErrInvalidNode = errors.New("invalid node")

	// ErrEdgeConflict is returned when an edge for a (from, name) pair already
	// points at a different target. It indicates a bookkeeping bug.
	ErrEdgeConflict = errors.New("edge already points at a different node")

	// ErrWorkspaceNotFound is returned when a workspace spec names no known workspace.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrDuplicateWorkspace is returned when two workspaces share a path or name.
	ErrDuplicateWorkspace = errors.New("duplicate workspace")

	// ErrImporterRemoval is returned when attempting to remove an importer node.
	ErrImporterRemoval = errors.New("importer nodes cannot be removed")

	// ErrInvalidSpecType is returned by EdgeValid for a spec type it cannot
	// check. Reaching it is a programming error, not a user error.
	ErrInvalidSpecType = errors.New("invalid spec type")
)
