package workspace

import (
	"path"
	"strings"
)

// Matcher selects workspace directories by glob. Patterns are relative to
// the project root and use forward slashes:
//   - * matches one path segment or part of it
//   - ** matches any number of segments, including none
//   - a leading ! excludes what the rest of the pattern matches
type Matcher struct {
	includes [][]string
	excludes [][]string
}

func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		exclude := strings.HasPrefix(p, "!")
		p = strings.TrimPrefix(p, "!")
		p = strings.Trim(path.Clean("/"+strings.TrimPrefix(p, "./")), "/")
		if p == "" || p == "." {
			continue
		}
		if exclude {
			m.excludes = append(m.excludes, strings.Split(p, "/"))
		} else {
			m.includes = append(m.includes, strings.Split(p, "/"))
		}
	}
	return m
}

// Match reports whether the directory rel is a workspace.
func (m *Matcher) Match(rel string) bool {
	segs := strings.Split(strings.Trim(path.Clean(rel), "/"), "/")
	for _, p := range m.excludes {
		if matchSegments(p, segs) {
			return false
		}
	}
	for _, p := range m.includes {
		if matchSegments(p, segs) {
			return true
		}
	}
	return false
}

// MaxDepth returns how many segments below the root a match can be, or -1
// when a pattern contains **.
func (m *Matcher) MaxDepth() int {
	depth := 0
	for _, p := range m.includes {
		for _, seg := range p {
			if seg == "**" {
				return -1
			}
		}
		depth = max(depth, len(p))
	}
	return depth
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) == 0 {
		return len(segs) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pattern[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segs[1:])
}
