package spec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/anvil-platform/pkggraph/internal/semver"
)

var (
	reDistTag       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	reGitShorthand  = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+(#.*)?$`)
	reNamedRegistry = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*):(.*)$`)

	gitPrefixes = []string{"git+", "git://", "git@", "github:", "gitlab:", "bitbucket:", "gist:"}
)

// Parse classifies bareSpec as declared for the dependency name.
func Parse(name, bareSpec string, opts Options) (*Spec, error) {
	name = strings.TrimSpace(name)
	bare := strings.TrimSpace(bareSpec)
	if name == "" {
		return nil, fmt.Errorf("%w: missing package name for %q", ErrInvalidSpec, bareSpec)
	}
	if strings.ContainsAny(name, " \t\n") {
		return nil, fmt.Errorf("%w: package name %q contains whitespace", ErrInvalidSpec, name)
	}

	s := &Spec{Name: name, BareSpec: bare, Options: opts}

	switch {
	case strings.HasPrefix(bare, "workspace:"):
		return parseWorkspace(s, strings.TrimPrefix(bare, "workspace:"))
	case strings.HasPrefix(bare, "file:"):
		return parseFile(s, strings.TrimPrefix(bare, "file:"))
	case isLocalPath(bare):
		return parseFile(s, bare)
	case strings.HasPrefix(bare, "registry:"):
		return parseCustomRegistry(s, strings.TrimPrefix(bare, "registry:"))
	case isGit(bare):
		return parseGit(s, bare)
	case strings.HasPrefix(bare, "http://"), strings.HasPrefix(bare, "https://"):
		s.Type = TypeRemote
		s.RemoteURL = bare
		return s, nil
	}

	if m := reNamedRegistry.FindStringSubmatch(bare); m != nil {
		if url, ok := opts.Registries[m[1]]; ok {
			return parseAlias(s, m[1], url, m[2])
		}
		return nil, fmt.Errorf("%w: unknown registry alias %q in %s", ErrInvalidSpec, m[1], s)
	}

	if reGitShorthand.MatchString(bare) {
		return parseGit(s, "github:"+bare)
	}

	s.Type = TypeRegistry
	s.Registry = opts.DefaultRegistry()
	if err := setSelector(s, bare); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseArg parses a "name@spec" argument such as "react@^18" or
// "@scope/pkg@latest". A missing spec means "*".
func ParseArg(arg string, opts Options) (*Spec, error) {
	name, bare := SplitNameSpec(arg)
	if bare == "" {
		bare = "*"
	}
	return Parse(name, bare, opts)
}

// SplitNameSpec splits "name@spec" at the version separator, keeping the
// leading "@" of scoped names.
func SplitNameSpec(arg string) (string, string) {
	arg = strings.TrimSpace(arg)
	at := strings.Index(arg[min(1, len(arg)):], "@")
	if at < 0 {
		return arg, ""
	}
	at += min(1, len(arg))
	return arg[:at], arg[at+1:]
}

func setSelector(s *Spec, selector string) error {
	if selector == "" || semver.IsConstraint(selector) {
		c, err := semver.ParseConstraint(selector)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSpec, s, err)
		}
		s.Semver = c.String()
		s.Range = c
		return nil
	}
	if !reDistTag.MatchString(selector) {
		return fmt.Errorf("%w: %s is neither a range nor a dist-tag", ErrInvalidSpec, s)
	}
	s.DistTag = selector
	return nil
}

func parseWorkspace(s *Spec, rest string) (*Spec, error) {
	s.Type = TypeWorkspace
	s.Workspace = s.Name
	rng := rest
	if n, r := SplitNameSpec(rest); r != "" && n != "" && !strings.ContainsAny(n, "<>=~^*| ") {
		s.Workspace = n
		rng = r
	}
	s.WorkspaceSpec = rng
	switch rng {
	case "", "*", "^", "~":
		return s, nil
	}
	c, err := semver.ParseConstraint(rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSpec, s, err)
	}
	s.Semver = c.String()
	s.Range = c
	return s, nil
}

func parseFile(s *Spec, path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: %s has an empty path", ErrInvalidSpec, s)
	}
	s.Type = TypeFile
	s.File = path
	return s, nil
}

func parseGit(s *Spec, bare string) (*Spec, error) {
	s.Type = TypeGit
	remote, selector, _ := strings.Cut(bare, "#")
	if remote == "" {
		return nil, fmt.Errorf("%w: %s has an empty git remote", ErrInvalidSpec, s)
	}
	s.GitRemote = remote
	s.GitSelector = selector
	return s, nil
}

func parseCustomRegistry(s *Spec, rest string) (*Spec, error) {
	url, target, ok := strings.Cut(rest, "#")
	if !ok || url == "" || target == "" {
		return nil, fmt.Errorf("%w: %s must look like registry:<url>#<name>@<range>", ErrInvalidSpec, s)
	}
	sub, err := subspec(s, target, NormalizeRegistry(url), "")
	if err != nil {
		return nil, err
	}
	return alias(s, sub), nil
}

func parseAlias(s *Spec, name, url, target string) (*Spec, error) {
	sub, err := subspec(s, target, NormalizeRegistry(url), name)
	if err != nil {
		return nil, err
	}
	return alias(s, sub), nil
}

func subspec(s *Spec, target, registry, named string) (*Spec, error) {
	subName, selector := SplitNameSpec(target)
	if subName == "" || semver.IsConstraint(target) {
		// "npm:^1.0.0" keeps the declared name.
		subName, selector = s.Name, target
	}
	sub := &Spec{
		Name:          subName,
		BareSpec:      selector,
		Type:          TypeRegistry,
		Registry:      registry,
		NamedRegistry: named,
		Options:       s.Options,
	}
	if err := setSelector(sub, selector); err != nil {
		return nil, err
	}
	return sub, nil
}

func alias(s, sub *Spec) *Spec {
	s.Type = TypeRegistry
	s.Registry = sub.Registry
	s.NamedRegistry = sub.NamedRegistry
	s.Semver = sub.Semver
	s.Range = sub.Range
	s.DistTag = sub.DistTag
	if sub.Name != s.Name || sub.Registry != s.Options.DefaultRegistry() {
		s.Subspec = sub
	}
	return s
}

func isLocalPath(bare string) bool {
	switch {
	case bare == ".", bare == "..":
		return true
	case strings.HasPrefix(bare, "./"), strings.HasPrefix(bare, "../"):
		return true
	case strings.HasPrefix(bare, "/"), strings.HasPrefix(bare, "~/"):
		return true
	}
	return false
}

func isGit(bare string) bool {
	for _, p := range gitPrefixes {
		if strings.HasPrefix(bare, p) {
			return true
		}
	}
	return false
}
