// Package fieldx looks up values in loosely shaped nested records, such as
// JSON documents decoded into map[string]any, using ordered fallback paths.
package fieldx

import (
	"fmt"
	"strconv"
	"strings"
)

// Step is one access in a Path: a map key, or a list index when IsIndex is set.
type Step struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path is a sequence of steps, e.g. segments[0].leader.name.
type Path []Step

// Parse builds a Path from dotted notation with optional [n] list indexes.
// It panics on malformed input; paths are static in this codebase.
func Parse(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePath is Parse returning an error instead of panicking.
func ParsePath(s string) (Path, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty path")
	}
	var p Path
	for _, part := range strings.Split(s, ".") {
		key := part
		var idx []int
		if i := strings.IndexByte(part, '['); i >= 0 {
			key = part[:i]
			rest := part[i:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, fmt.Errorf("path %q: unexpected %q", s, rest)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, fmt.Errorf("path %q: unclosed index", s)
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil || n < 0 {
					return nil, fmt.Errorf("path %q: bad index %q", s, rest[1:end])
				}
				idx = append(idx, n)
				rest = rest[end+1:]
			}
		}
		if key == "" && len(idx) == 0 {
			return nil, fmt.Errorf("path %q: empty segment", s)
		}
		if key != "" {
			p = append(p, Step{Key: key})
		}
		for _, n := range idx {
			p = append(p, Step{Index: n, IsIndex: true})
		}
	}
	return p, nil
}

func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if s.IsIndex {
			fmt.Fprintf(&b, "[%d]", s.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Key)
	}
	return b.String()
}

// Lookup follows p through v. Missing keys, out of range indexes, nil values
// and values of the wrong shape all report ok=false.
func Lookup(v any, p Path) (any, bool) {
	cur := v
	for _, s := range p {
		if cur == nil {
			return nil, false
		}
		if s.IsIndex {
			next, ok := index(cur, s.Index)
			if !ok {
				return nil, false
			}
			cur = next
			continue
		}
		next, ok := key(cur, s.Key)
		if !ok {
			return nil, false
		}
		cur = next
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func key(v any, k string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		val, ok := m[k]
		return val, ok
	case map[string]string:
		val, ok := m[k]
		return val, ok
	case interface{ Field(string) (any, bool) }:
		return m.Field(k)
	}
	return nil, false
}

func index(v any, i int) (any, bool) {
	switch l := v.(type) {
	case []any:
		if i < len(l) {
			return l[i], true
		}
	case []map[string]any:
		if i < len(l) {
			return l[i], true
		}
	case []string:
		if i < len(l) {
			return l[i], true
		}
	}
	return nil, false
}

// Empty reports whether v counts as "not found": nil, blank strings and
// empty collections.
func Empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	}
	return false
}

// First returns the value of the first path that resolves to a non-empty value.
func First(v any, paths ...Path) (any, bool) {
	for _, p := range paths {
		if val, ok := Lookup(v, p); ok && !Empty(val) {
			return val, true
		}
	}
	return nil, false
}

// FirstString is First with the result coerced by Scalar. Values that are not
// scalars are skipped so the next fallback can apply.
func FirstString(v any, paths ...Path) string {
	for _, p := range paths {
		val, ok := First(v, p)
		if !ok {
			continue
		}
		if s, ok := Scalar(val); ok && s != "" {
			return s
		}
	}
	return ""
}

// Scalar coerces strings, numbers and booleans to a string. Maps and lists
// are not scalars.
func Scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	case fmt.Stringer:
		return x.String(), true
	}
	return "", false
}
