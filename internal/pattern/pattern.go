package pattern

import (
	"path"
	"strings"
)

// Matcher applies the project's ordered source and exclude globs to
// POSIX-normalized relative paths. Three constructs are supported per path
// segment: literal text, '*' (any run of characters inside one segment, never
// crossing '/'), and a segment that is exactly "**" (zero or more whole
// segments). Matching is case-sensitive.
//
// The repository metadata directories .git/ and .cccopy/ are excluded
// unconditionally, before any configured pattern is consulted.
type Matcher struct {
	sources  []string
	excludes []string
}

func New(sources, excludes []string) *Matcher {
	return &Matcher{sources: sources, excludes: excludes}
}

// Normalize converts p to the canonical matching form: '/' separators, no
// leading "./", no leading '/'. A trailing '/' is preserved so callers can
// denote directories.
func Normalize(p string) string {
	dir := strings.HasSuffix(p, "/")
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	if dir && p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// Includes reports whether any source pattern matches p.
func (m *Matcher) Includes(p string) bool {
	p = Normalize(p)
	for _, pat := range m.sources {
		if Match(pat, p) {
			return true
		}
	}
	return false
}

// Excluded reports whether p is shut out, either by the unconditional
// metadata excludes or by any configured exclude pattern.
func (m *Matcher) Excluded(p string) bool {
	p = Normalize(p)
	if isMetaPath(p) {
		return true
	}
	for _, pat := range m.excludes {
		if Match(pat, p) {
			return true
		}
	}
	return false
}

// Member is the effective project membership test: included and not excluded.
func (m *Matcher) Member(p string) bool {
	return m.Includes(p) && !m.Excluded(p)
}

func isMetaPath(p string) bool {
	for _, seg := range strings.Split(strings.TrimSuffix(p, "/"), "/") {
		if seg == ".git" || seg == ".cccopy" {
			return true
		}
	}
	return false
}

// Match matches one pattern against one normalized relative path. A pattern
// with a trailing '/' names a directory and matches the directory itself and
// everything below it.
func Match(pattern, p string) bool {
	pattern = Normalize(pattern)
	if strings.HasSuffix(pattern, "/") {
		prefix := strings.TrimSuffix(pattern, "/")
		return matchSegments(splitPath(prefix), splitPath(strings.TrimSuffix(p, "/"))) ||
			matchSegments(append(splitPath(prefix), "**"), splitPath(strings.TrimSuffix(p, "/")))
	}
	return matchSegments(splitPath(pattern), splitPath(strings.TrimSuffix(p, "/")))
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		// Zero or more whole segments.
		if matchSegments(pat[1:], segs) {
			return true
		}
		if len(segs) == 0 {
			return false
		}
		return matchSegments(pat, segs[1:])
	}
	if len(segs) == 0 {
		return false
	}
	if !matchSegment(pat[0], segs[0]) {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}

// matchSegment matches a single pattern segment, where '*' matches any run
// of characters except the separator.
func matchSegment(pat, seg string) bool {
	// Fast path for literals.
	if !strings.Contains(pat, "*") {
		return pat == seg
	}
	parts := strings.Split(pat, "*")
	if !strings.HasPrefix(seg, parts[0]) {
		return false
	}
	seg = seg[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(seg, parts[i])
		if idx < 0 {
			return false
		}
		seg = seg[idx+len(parts[i]):]
	}
	return strings.HasSuffix(seg, parts[len(parts)-1])
}
