// Package workspace discovers the workspace packages of a project from the
// glob patterns in its root manifest.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/manifest"
)

var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// Discover returns the directories under root that match patterns and hold a
// manifest, sorted by path. The root itself is never a workspace.
func Discover(ctx context.Context, root string, patterns []string) ([]graph.Workspace, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	m := NewMatcher(patterns)
	maxDepth := m.MaxDepth()

	var rels []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		depth := strings.Count(rel, "/") + 1
		if m.Match(rel) && hasManifest(p) {
			rels = append(rels, rel)
		}
		if maxDepth >= 0 && depth >= maxDepth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: walk %s: %w", root, err)
	}
	sort.Strings(rels)

	ms, err := manifest.LoadAll(ctx, root, rels)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	out := make([]graph.Workspace, 0, len(rels))
	for i, rel := range rels {
		out = append(out, graph.Workspace{Path: rel, Manifest: ms[i]})
	}
	log.FromContext(ctx).V(1).Info("discovered workspaces", "root", root, "count", len(out))
	return out, nil
}

// Load reads the root manifest of the project at root and discovers its
// workspaces.
func Load(ctx context.Context, root string) (*manifest.Manifest, []graph.Workspace, error) {
	main, err := manifest.Load(root)
	if err != nil {
		return nil, nil, err
	}
	ws, err := Discover(ctx, root, main.Workspaces)
	if err != nil {
		return nil, nil, err
	}
	return main, ws, nil
}

func hasManifest(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, manifest.FileName))
	return err == nil
}
