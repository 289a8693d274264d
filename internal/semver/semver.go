package semver

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a semantic version.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3.
type Version struct {
	v *mm.Version
}

// Constraint is a semantic version range as it appears in a manifest.
//
// Examples:
// - ">=1.2.0 <2.0.0"
// - "^1.0.0"
// - "~1.4"
// - "18 || 19"
type Constraint struct {
	c   *mm.Constraints
	raw string
}

// ParseVersion parses a concrete version. A leading "v" or "=" is ignored.
func ParseVersion(raw string) (Version, error) {
	v, err := mm.NewVersion(CleanVersion(raw))
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// CleanVersion trims whitespace and a single leading "v" or "=" from raw.
func CleanVersion(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "=")
	if len(s) > 1 && (s[0] == 'v' || s[0] == 'V') && s[1] >= '0' && s[1] <= '9' {
		s = s[1:]
	}
	return s
}

// ParseConstraint parses a range. The empty range and "x" are treated as "*".
func ParseConstraint(raw string) (Constraint, error) {
	norm := strings.TrimSpace(raw)
	if norm == "" || norm == "x" || norm == "X" {
		norm = "*"
	}
	c, err := mm.NewConstraint(norm)
	if err != nil {
		return Constraint{}, fmt.Errorf("semver: parse constraint %q: %w", raw, err)
	}
	return Constraint{c: c, raw: norm}, nil
}

func MustParseConstraint(raw string) Constraint {
	c, err := ParseConstraint(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// IsConstraint reports whether raw parses as a range. Anything else in a
// registry specifier is a dist-tag.
func IsConstraint(raw string) bool {
	_, err := ParseConstraint(raw)
	return err == nil
}

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool {
	return v.v == nil
}

func (c Constraint) String() string {
	return c.raw
}

// IsZero reports whether c was never parsed.
func (c Constraint) IsZero() bool {
	return c.c == nil
}

func Satisfies(v Version, c Constraint) bool {
	if v.v == nil || c.c == nil {
		return false
	}
	return c.c.Check(v.v)
}

// SatisfiesRaw parses both sides and reports whether version is within rng.
// Unparseable input never satisfies.
func SatisfiesRaw(version, rng string) bool {
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	c, err := ParseConstraint(rng)
	if err != nil {
		return false
	}
	return Satisfies(v, c)
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// MaxSatisfying returns the highest version in candidates that satisfies c.
//
// If multiple versions are equal, the first encountered wins.
func MaxSatisfying(c Constraint, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !Satisfies(candidate, c) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
