package depid

import (
	"path"
	"strings"

	"github.com/anvil-platform/pkggraph/internal/manifest"
	"github.com/anvil-platform/pkggraph/internal/semver"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

type deriveKey struct {
	typ      spec.Type
	name     string
	registry string
	named    string
	origin   string
	selector string
	manifest string
	extra    string
}

// FromSpecAndManifest derives the tuple of the package s resolved to.
//
// Registry tuples use the requested name with the manifest's version. When
// the manifest names a different package (a confused package) the requested
// name still wins so the mismatch stays visible. A leading "v" is stripped
// from versions, and registry URLs matching a named alias are replaced by the
// alias. File specs must already carry the consumer-resolved path.
// Workspace tuples are built from the workspace path by the graph.
func FromSpecAndManifest(s *spec.Spec, m *manifest.Manifest, extra string) (Tuple, error) {
	f := s.Final()
	if f == nil {
		return Tuple{}, identityErr(ErrIncompleteIdentity, "", "nil spec")
	}
	key := deriveKey{typ: f.Type, name: f.Name, registry: f.Registry, named: f.NamedRegistry, manifest: m.ID(), extra: extra}
	switch f.Type {
	case spec.TypeGit:
		key.origin, key.selector = f.GitRemote, f.GitSelector
	case spec.TypeFile:
		key.origin = f.File
	case spec.TypeRemote:
		key.origin = f.RemoteURL
	}
	if v, ok := caches.derive.Get(key); ok {
		return v.(Tuple), nil
	}

	var t Tuple
	switch f.Type {
	case spec.TypeRegistry:
		if m == nil || strings.TrimSpace(m.Version) == "" {
			return Tuple{}, identityErr(ErrIncompleteIdentity, s.String(), "registry manifest has no version")
		}
		name := f.Name
		if name == "" {
			name = m.Name
		}
		if name == "" {
			return Tuple{}, identityErr(ErrIncompleteIdentity, s.String(), "registry manifest has no name")
		}
		t = Tuple{
			Type:     spec.TypeRegistry,
			Origin:   registryOrigin(f),
			Selector: name + "@" + semver.CleanVersion(m.Version),
		}
	case spec.TypeGit:
		t = Tuple{Type: spec.TypeGit, Origin: f.GitRemote, Selector: f.GitSelector}
	case spec.TypeFile:
		t = Tuple{Type: spec.TypeFile, Origin: f.File}
	case spec.TypeRemote:
		t = Tuple{Type: spec.TypeRemote, Origin: f.RemoteURL}
	case spec.TypeWorkspace:
		return Tuple{}, identityErr(ErrIncompleteIdentity, s.String(), "workspace identities come from the workspace path")
	default:
		return Tuple{}, identityErr(ErrUnknownType, string(f.Type), "cannot derive identity for %s", s)
	}
	t.Extra = extra
	if t.Type != spec.TypeRegistry && t.Origin == "" {
		return Tuple{}, identityErr(ErrIncompleteIdentity, s.String(), "%s spec has no location", t.Type)
	}

	caches.derive.Add(key, t)
	return t, nil
}

// FromSpecAndManifestID is FromSpecAndManifest followed by Encode.
func FromSpecAndManifestID(s *spec.Spec, m *manifest.Manifest, extra string) (ID, error) {
	t, err := FromSpecAndManifest(s, m, extra)
	if err != nil {
		return "", err
	}
	return Encode(t)
}

func registryOrigin(f *spec.Spec) string {
	reg := spec.NormalizeRegistry(f.Registry)
	if reg == "" || reg == f.Options.DefaultRegistry() {
		return ""
	}
	if f.NamedRegistry != "" && spec.NormalizeRegistry(f.Options.Registries[f.NamedRegistry]) == reg {
		return f.NamedRegistry
	}
	if alias, ok := f.Options.AliasFor(reg); ok {
		return alias
	}
	return reg
}

type hydrateKey struct {
	id   ID
	name string
}

// Hydrate rebuilds a specifier that resolves to id. name is the dependency
// name the spec is declared under; when empty it is derived from id.
//
// Default-registry ids hydrate to plain registry specs. Workspace ids hydrate
// to "workspace:*" declared under name, so pass the workspace's manifest name
// when it differs from its directory name.
func Hydrate(id ID, name string, opts spec.Options) (*spec.Spec, error) {
	key := hydrateKey{id: id, name: name}
	if v, ok := caches.hydrate.Get(key); ok {
		return v.(*spec.Spec), nil
	}
	t, err := Decode(id)
	if err != nil {
		return nil, err
	}

	var s *spec.Spec
	switch t.Type {
	case spec.TypeRegistry:
		s, err = hydrateRegistry(t, name, opts)
	case spec.TypeGit:
		remote := t.Origin
		if strings.HasPrefix(remote, "http://") || strings.HasPrefix(remote, "https://") {
			remote = "git+" + remote
		}
		s, err = spec.Parse(orDefault(name, baseName(t.Origin)), remote+"#"+t.Selector, opts)
	case spec.TypeFile:
		s, err = spec.Parse(orDefault(name, baseName(t.Origin)), "file:"+t.Origin, opts)
	case spec.TypeRemote:
		s, err = spec.Parse(orDefault(name, baseName(t.Origin)), t.Origin, opts)
	case spec.TypeWorkspace:
		// Workspaces are looked up by manifest name, which the id does not
		// carry. Without a name the directory name stands in for it.
		s, err = spec.Parse(orDefault(name, baseName(t.Origin)), "workspace:*", opts)
	}
	if err != nil {
		return nil, identityErr(ErrMalformedID, string(id), "hydrate: %v", err)
	}
	caches.hydrate.Add(key, s)
	return s, nil
}

func hydrateRegistry(t Tuple, name string, opts spec.Options) (*spec.Spec, error) {
	pkg, version := t.NameVersion()
	if pkg == "" || version == "" {
		return nil, identityErr(ErrMalformedID, t.Selector, "registry selector is not name@version")
	}
	declared := orDefault(name, pkg)
	switch {
	case t.Origin == "":
		if declared == pkg {
			return spec.Parse(pkg, version, opts)
		}
		return spec.Parse(declared, "registry:"+opts.DefaultRegistry()+"#"+pkg+"@"+version, opts)
	case strings.Contains(t.Origin, "://"):
		return spec.Parse(declared, "registry:"+t.Origin+"#"+pkg+"@"+version, opts)
	default:
		if _, ok := opts.Registries[t.Origin]; !ok {
			return nil, identityErr(ErrMalformedID, t.Origin, "unknown registry alias")
		}
		return spec.Parse(declared, t.Origin+":"+pkg+"@"+version, opts)
	}
}

func baseName(p string) string {
	p = strings.TrimSuffix(strings.TrimRight(p, "/"), ".git")
	if i := strings.LastIndexAny(p, "/:"); i >= 0 {
		p = p[i+1:]
	}
	if p == "" || p == "." {
		return path.Base(p)
	}
	return p
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// RegistryOrigin returns the Origin field a registry spec's identity carries:
// "" for the default registry, the alias name for a named registry, or the
// registry URL.
func RegistryOrigin(s *spec.Spec) string {
	f := s.Final()
	if f == nil || f.Type != spec.TypeRegistry {
		return ""
	}
	return registryOrigin(f)
}
