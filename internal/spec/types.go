package spec

import (
	"errors"
	"strings"

	"github.com/anvil-platform/pkggraph/internal/semver"
)

// Type classifies where a dependency comes from.
type Type string

const (
	TypeRegistry  Type = "registry"
	TypeGit       Type = "git"
	TypeFile      Type = "file"
	TypeRemote    Type = "remote"
	TypeWorkspace Type = "workspace"
)

// DefaultRegistry is the public registry used when nothing else is configured.
const DefaultRegistry = "https://registry.npmjs.org/"

var (
	// ErrInvalidSpec indicates a specifier that cannot be parsed. It is always fatal.
	ErrInvalidSpec = errors.New("invalid dependency specifier")
)

// Options carries the registry configuration a specifier is parsed against.
type Options struct {
	// Registry is the default registry URL.
	Registry string `json:"registry,omitempty" yaml:"registry,omitempty"`
	// Registries maps a named registry alias (e.g. "npm") to its URL.
	Registries map[string]string `json:"registries,omitempty" yaml:"registries,omitempty"`
}

// DefaultOptions returns options pointing at the public registry with the
// "npm" alias defined.
func DefaultOptions() Options {
	return Options{
		Registry:   DefaultRegistry,
		Registries: map[string]string{"npm": DefaultRegistry},
	}
}

// DefaultRegistry returns the normalized default registry URL.
func (o Options) DefaultRegistry() string {
	if strings.TrimSpace(o.Registry) == "" {
		return DefaultRegistry
	}
	return NormalizeRegistry(o.Registry)
}

// AliasFor returns the named registry whose URL equals registry.
func (o Options) AliasFor(registry string) (string, bool) {
	registry = NormalizeRegistry(registry)
	best := ""
	for alias, url := range o.Registries {
		if NormalizeRegistry(url) != registry {
			continue
		}
		// Deterministic choice when two aliases share a URL.
		if best == "" || alias < best {
			best = alias
		}
	}
	return best, best != ""
}

// NormalizeRegistry makes sure a registry URL ends with a slash.
func NormalizeRegistry(url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return url
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	return url
}

// Spec is a parsed dependency declaration: a package name plus the raw
// specifier found in a manifest, classified by Type.
type Spec struct {
	Name     string
	BareSpec string
	Type     Type

	// Registry is the registry URL a registry spec resolves against.
	Registry string
	// NamedRegistry is set when the specifier used a registry alias.
	NamedRegistry string
	// Semver is the range text of registry and workspace specs.
	Semver string
	Range  semver.Constraint
	// DistTag is set for registry specs whose selector is not a range.
	DistTag string

	GitRemote   string
	GitSelector string

	RemoteURL string

	// File is the path of a file spec, relative to the consumer.
	File string

	// Workspace names the workspace a workspace spec points at.
	Workspace     string
	WorkspaceSpec string

	// Subspec is the target of an alias such as "npm:react@18".
	Subspec *Spec

	Options Options
}

// String returns name@bareSpec.
func (s *Spec) String() string {
	if s == nil {
		return ""
	}
	if s.Name == "" {
		return s.BareSpec
	}
	return s.Name + "@" + s.BareSpec
}

// Final follows alias subspecs to the spec that is actually resolved.
func (s *Spec) Final() *Spec {
	for s != nil && s.Subspec != nil {
		s = s.Subspec
	}
	return s
}

// IsDistTag reports whether s selects a registry version by tag.
func (s *Spec) IsDistTag() bool {
	f := s.Final()
	return f != nil && f.Type == TypeRegistry && f.DistTag != ""
}

// HasRange reports whether s constrains the version it accepts.
func (s *Spec) HasRange() bool {
	f := s.Final()
	return f != nil && !f.Range.IsZero()
}

// Satisfies reports whether version is acceptable for s. Dist-tags and
// range-less specs accept any version.
func (s *Spec) Satisfies(version string) bool {
	f := s.Final()
	if f == nil {
		return false
	}
	if f.DistTag != "" || f.Range.IsZero() {
		return true
	}
	v, err := semver.ParseVersion(version)
	if err != nil {
		return false
	}
	return semver.Satisfies(v, f.Range)
}

// IsDefaultRegistry reports whether a registry spec targets the configured
// default registry.
func (s *Spec) IsDefaultRegistry() bool {
	f := s.Final()
	if f == nil || f.Type != TypeRegistry {
		return false
	}
	return NormalizeRegistry(f.Registry) == f.Options.DefaultRegistry()
}
