// Package depid encodes and decodes the canonical identity of a resolved
// dependency.
//
// An ID is a delimiter-separated list of escaped fields:
//
//	·<registry>·<name>@<version>[·<extra>]   registry (default registry is empty)
//	git·<remote>·<selector>[·<extra>]
//	file·<path>[·<extra>]
//	remote·<url>[·<extra>]
//	workspace·<path>[·<extra>]
//
// Fields are escaped with the encodeURIComponent rules, "@" is kept literal
// and "/" is written as "§". Other components store these strings, so the
// grammar must not change.
//
// All derivations are memoized. The caches are keyed by their exact inputs
// only; registry aliases are not part of the key, so ResetCaches (or
// Configure) must run whenever they change.
package depid

import (
	"strings"

	"github.com/anvil-platform/pkggraph/internal/spec"
)

// Delimiter separates the fields of an ID.
const Delimiter = "·"

// ID is the canonical string identity of a resolved dependency.
type ID string

func (id ID) String() string {
	return string(id)
}

// Tuple is the decoded form of an ID.
//
// For registry tuples Origin is the registry ("" for the default registry,
// an alias name, or a URL) and Selector is name@version. For git tuples
// Origin is the remote and Selector the committish. File and workspace
// tuples carry a path in Origin, remote tuples a URL.
type Tuple struct {
	Type     spec.Type
	Origin   string
	Selector string
	Extra    string
}

// WithExtra returns a copy of t carrying extra.
func (t Tuple) WithExtra(extra string) Tuple {
	t.Extra = extra
	return t
}

// NameVersion splits a registry selector into package name and version.
func (t Tuple) NameVersion() (string, string) {
	if t.Type != spec.TypeRegistry {
		return "", ""
	}
	at := strings.LastIndex(t.Selector, "@")
	if at <= 0 {
		return t.Selector, ""
	}
	return t.Selector[:at], t.Selector[at+1:]
}

// Path returns the path of file and workspace tuples.
func (t Tuple) Path() string {
	if t.Type == spec.TypeFile || t.Type == spec.TypeWorkspace {
		return t.Origin
	}
	return ""
}

func typeTag(t spec.Type) (string, bool) {
	switch t {
	case spec.TypeRegistry:
		return "", true
	case spec.TypeGit, spec.TypeFile, spec.TypeRemote, spec.TypeWorkspace:
		return string(t), true
	}
	return "", false
}

func tagType(tag string) (spec.Type, bool) {
	switch tag {
	case "":
		return spec.TypeRegistry, true
	case string(spec.TypeGit), string(spec.TypeFile), string(spec.TypeRemote), string(spec.TypeWorkspace):
		return spec.Type(tag), true
	}
	return "", false
}

// hasSelector reports whether t's grammar carries a selector field.
func hasSelector(t spec.Type) bool {
	return t == spec.TypeRegistry || t == spec.TypeGit
}

// Encode joins the escaped fields of t.
func Encode(t Tuple) (ID, error) {
	if v, ok := caches.encode.Get(t); ok {
		return v.(ID), nil
	}
	tag, ok := typeTag(t.Type)
	if !ok {
		return "", identityErr(ErrUnknownType, string(t.Type), "cannot encode tuple")
	}
	switch {
	case t.Type == spec.TypeRegistry && t.Selector == "":
		return "", identityErr(ErrIncompleteIdentity, "", "registry tuple needs name@version")
	case t.Type != spec.TypeRegistry && t.Origin == "":
		return "", identityErr(ErrIncompleteIdentity, "", "%s tuple needs an origin", t.Type)
	case !hasSelector(t.Type) && t.Selector != "":
		return "", identityErr(ErrIncompleteIdentity, t.Selector, "%s tuple has no selector field", t.Type)
	}

	fields := []string{tag, escapeField(t.Origin)}
	if hasSelector(t.Type) {
		fields = append(fields, escapeField(t.Selector))
	}
	if t.Extra != "" {
		fields = append(fields, escapeField(t.Extra))
	}
	id := ID(strings.Join(fields, Delimiter))
	caches.encode.Add(t, id)
	return id, nil
}

// MustEncode is Encode for tuples known to be valid.
func MustEncode(t Tuple) ID {
	id, err := Encode(t)
	if err != nil {
		panic(err)
	}
	return id
}

// Decode splits id back into its tuple.
func Decode(id ID) (Tuple, error) {
	if v, ok := caches.decode.Get(id); ok {
		return v.(Tuple), nil
	}
	parts := strings.Split(string(id), Delimiter)
	if len(parts) < 2 {
		return Tuple{}, identityErr(ErrMalformedID, string(id), "missing delimiter")
	}
	typ, ok := tagType(parts[0])
	if !ok {
		return Tuple{}, identityErr(ErrUnknownType, string(id), "type tag %q", parts[0])
	}

	want := 2
	if hasSelector(typ) {
		want = 3
	}
	if len(parts) != want && len(parts) != want+1 {
		return Tuple{}, identityErr(ErrMalformedID, string(id), "%s ids have %d or %d fields, got %d", typ, want, want+1, len(parts))
	}

	fields := make([]string, len(parts)-1)
	for i, p := range parts[1:] {
		f, ok := unescapeField(p)
		if !ok {
			return Tuple{}, identityErr(ErrMalformedID, string(id), "field %d is not canonically escaped", i+1)
		}
		fields[i] = f
	}

	t := Tuple{Type: typ, Origin: fields[0]}
	if hasSelector(typ) {
		t.Selector = fields[1]
	}
	if len(parts) == want+1 {
		t.Extra = fields[len(fields)-1]
		if t.Extra == "" {
			return Tuple{}, identityErr(ErrMalformedID, string(id), "empty extra field")
		}
	}
	switch {
	case typ == spec.TypeRegistry && t.Selector == "":
		return Tuple{}, identityErr(ErrMalformedID, string(id), "registry id without name@version")
	case typ != spec.TypeRegistry && t.Origin == "":
		return Tuple{}, identityErr(ErrMalformedID, string(id), "%s id without origin", typ)
	}

	caches.decode.Add(id, t)
	return t, nil
}

// Base strips the extra field, yielding the identity shared by every peer
// variant of the same package.
func Base(id ID) (ID, error) {
	if v, ok := caches.base.Get(id); ok {
		return v.(ID), nil
	}
	t, err := Decode(id)
	if err != nil {
		return "", err
	}
	base, err := Encode(t.WithExtra(""))
	if err != nil {
		return "", err
	}
	caches.base.Add(id, base)
	return base, nil
}

// TypeOf returns the type of id without failing; malformed ids report "".
func TypeOf(id ID) spec.Type {
	t, err := Decode(id)
	if err != nil {
		return ""
	}
	return t.Type
}
