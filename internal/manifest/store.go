package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/anvil-platform/pkggraph/internal/semver"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

var (
	// ErrNotFound indicates no manifest satisfies the requested specifier.
	ErrNotFound = errors.New("manifest not found")
)

// Packument holds every published version of one registry package.
type Packument struct {
	Name     string
	Versions map[string]*Manifest
	DistTags map[string]string
}

// Store is an in-memory manifest provider. Registry packages are served by
// highest satisfying version (or dist-tag); git, remote and file manifests
// are looked up by their exact location.
//
// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	packages map[string]*Packument
	git      map[string]*Manifest
	remote   map[string]*Manifest
	files    map[string]*Manifest
	fetches  int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		packages: map[string]*Packument{},
		git:      map[string]*Manifest{},
		remote:   map[string]*Manifest{},
		files:    map[string]*Manifest{},
	}
}

// Add publishes registry manifests. Versions are cleaned of a leading "v".
func (s *Store) Add(ms ...*Manifest) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range ms {
		p := s.packages[m.Name]
		if p == nil {
			p = &Packument{Name: m.Name, Versions: map[string]*Manifest{}, DistTags: map[string]string{}}
			s.packages[m.Name] = p
		}
		p.Versions[semver.CleanVersion(m.Version)] = m
	}
	return s
}

// Tag points a dist-tag of name at version.
func (s *Store) Tag(name, tag, version string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.packages[name]; p != nil {
		p.DistTags[tag] = version
	}
	return s
}

// AddGit registers the manifest served for remote#selector.
func (s *Store) AddGit(remote, selector string, m *Manifest) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.git[remote+"#"+selector] = m
	return s
}

// AddRemote registers the manifest served for a tarball URL.
func (s *Store) AddRemote(url string, m *Manifest) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote[url] = m
	return s
}

// AddFile registers the manifest found at a project-relative path.
func (s *Store) AddFile(p string, m *Manifest) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[cleanPath(p)] = m
	return s
}

// AddDir registers the package.json of every directory under root (skipping
// node_modules) as a file manifest.
func (s *Store) AddDir(ctx context.Context, root string) error {
	var rels []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && (d.Name() == "node_modules" || d.Name() == ".git") {
			return filepath.SkipDir
		}
		if d.IsDir() || d.Name() != FileName {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("manifest: walk %s: %w", root, err)
	}
	ms, err := LoadAll(ctx, root, rels)
	if err != nil {
		return err
	}
	for i, rel := range rels {
		s.AddFile(rel, ms[i])
	}
	return nil
}

// Fetches returns how many Fetch calls the store has served.
func (s *Store) Fetches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches
}

// Fetch returns the manifest sp resolves to. File specs are resolved relative
// to fromLocation, the consumer's project-relative directory.
func (s *Store) Fetch(ctx context.Context, sp *spec.Spec, fromLocation string) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++

	f := sp.Final()
	var m *Manifest
	switch f.Type {
	case spec.TypeRegistry:
		m = s.pickVersion(f)
	case spec.TypeGit:
		m = s.git[f.GitRemote+"#"+f.GitSelector]
	case spec.TypeRemote:
		m = s.remote[f.RemoteURL]
	case spec.TypeFile:
		m = s.files[cleanPath(path.Join(fromLocation, filepath.ToSlash(f.File)))]
	default:
		return nil, fmt.Errorf("manifest: %s: %s specs are not served by the store", sp, f.Type)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sp)
	}
	return m, nil
}

// Versions returns the published versions of name in ascending order.
func (s *Store) Versions(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.packages[name]
	if p == nil {
		return nil
	}
	vs := parsedVersions(p)
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.String())
	}
	return out
}

func (s *Store) pickVersion(f *spec.Spec) *Manifest {
	p := s.packages[f.Name]
	if p == nil {
		return nil
	}
	if f.DistTag != "" {
		if v, ok := p.DistTags[f.DistTag]; ok {
			return p.Versions[semver.CleanVersion(v)]
		}
		if f.DistTag != "latest" {
			return nil
		}
		// An untagged package's "latest" is its highest version.
		vs := parsedVersions(p)
		if len(vs) == 0 {
			return nil
		}
		return p.Versions[vs[len(vs)-1].String()]
	}
	best, ok := semver.MaxSatisfying(f.Range, parsedVersions(p))
	if !ok {
		return nil
	}
	return p.Versions[best.String()]
}

func parsedVersions(p *Packument) []semver.Version {
	vs := make([]semver.Version, 0, len(p.Versions))
	for raw := range p.Versions {
		v, err := semver.ParseVersion(raw)
		if err != nil {
			continue
		}
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return semver.Compare(vs[i], vs[j]) < 0 })
	return vs
}

func cleanPath(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	return strings.TrimPrefix(p, "./")
}

// Fixture is the on-disk YAML form of a Store, used by the CLI and tests.
type Fixture struct {
	Packages []*Manifest                  `yaml:"packages"`
	Tags     map[string]map[string]string `yaml:"tags,omitempty"`
	Git      []LocatedManifest            `yaml:"git,omitempty"`
	Remote   []LocatedManifest            `yaml:"remote,omitempty"`
	Files    []LocatedManifest            `yaml:"files,omitempty"`
}

// LocatedManifest pairs a manifest with the location it is served from.
type LocatedManifest struct {
	Location string    `yaml:"location"`
	Manifest *Manifest `yaml:"manifest"`
}

// LoadFixture reads a YAML fixture file into a new Store.
func LoadFixture(p string) (*Store, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("manifest: read fixture %s: %w", p, err)
	}
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("manifest: decode fixture %s: %w", p, err)
	}
	return fx.Store(), nil
}

// Store builds a Store holding everything in the fixture.
func (fx Fixture) Store() *Store {
	s := NewStore().Add(fx.Packages...)
	for name, tags := range fx.Tags {
		for tag, version := range tags {
			s.Tag(name, tag, version)
		}
	}
	for _, g := range fx.Git {
		remote, selector, _ := strings.Cut(g.Location, "#")
		s.AddGit(remote, selector, g.Manifest)
	}
	for _, r := range fx.Remote {
		s.AddRemote(r.Location, r.Manifest)
	}
	for _, f := range fx.Files {
		s.AddFile(f.Location, f.Manifest)
	}
	return s
}
