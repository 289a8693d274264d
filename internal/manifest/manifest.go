// Package manifest holds the package manifest data the resolver consumes and
// an in-memory provider that serves manifests for parsed specifiers.
package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/yaml"
)

// FileName is the manifest file looked up in package directories.
const FileName = "package.json"

// loadConcurrency bounds parallel manifest reads.
const loadConcurrency = 8

// PeerMeta annotates a peer dependency.
type PeerMeta struct {
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Manifest is the subset of package.json the resolver reads.
type Manifest struct {
	Name                 string              `json:"name,omitempty" yaml:"name,omitempty"`
	Version              string              `json:"version,omitempty" yaml:"version,omitempty"`
	Dependencies         map[string]string   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	DevDependencies      map[string]string   `json:"devDependencies,omitempty" yaml:"devDependencies,omitempty"`
	OptionalDependencies map[string]string   `json:"optionalDependencies,omitempty" yaml:"optionalDependencies,omitempty"`
	PeerDependencies     map[string]string   `json:"peerDependencies,omitempty" yaml:"peerDependencies,omitempty"`
	PeerDependenciesMeta map[string]PeerMeta `json:"peerDependenciesMeta,omitempty" yaml:"peerDependenciesMeta,omitempty"`
	Workspaces           []string            `json:"workspaces,omitempty" yaml:"workspaces,omitempty"`
}

// Parse decodes a JSON (or YAML) manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	return &m, nil
}

// Load reads the manifest at path. A directory is resolved to its package.json.
func Load(path string) (*Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}

// LoadAll reads the manifests of the package directories rels (relative to
// root) in parallel. The result is index-aligned with rels.
func LoadAll(ctx context.Context, root string, rels []string) ([]*Manifest, error) {
	out := make([]*Manifest, len(rels))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, rel := range rels {
		i, rel := i, rel
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := Load(filepath.Join(root, rel))
			if err != nil {
				return err
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ID returns name@version.
func (m *Manifest) ID() string {
	if m == nil {
		return ""
	}
	return m.Name + "@" + m.Version
}

// IsPeerOptional reports whether the peer dependency name is marked optional.
func (m *Manifest) IsPeerOptional(name string) bool {
	if m == nil {
		return false
	}
	return m.PeerDependenciesMeta[name].Optional
}

// DependencyNames returns the sorted keys of deps.
func DependencyNames(deps map[string]string) []string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
