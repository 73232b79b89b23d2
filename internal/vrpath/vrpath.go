// Package vrpath provides filesystem-style path addressing over the resource tree.
package vrpath

import (
	"fmt"
	"strings"
)

// Path is an ordered sequence of node ids addressing a node within the
// resource tree. The zero value is the root path "/".
//
// Path is the sole addressing mechanism for permission lookups, subscription
// scoping, and search scoping. It is an immutable value type: Push and Parent
// return new paths.
type Path struct {
	ids []string
}

// Root returns the root path "/".
func Root() Path {
	return Path{}
}

// New returns a path built from the given components. Each component is
// cleaned the same way Push cleans it.
func New(ids ...string) Path {
	p := Path{}
	for _, id := range ids {
		p = p.Push(id)
	}
	return p
}

// FromString parses a path string. The string must start with "/";
// "/" parses to the root path. A trailing slash is tolerated.
func FromString(s string) (Path, error) {
	if !strings.HasPrefix(s, "/") {
		return Path{}, fmt.Errorf("path must start with '/': %q", s)
	}
	if s == "/" {
		return Root(), nil
	}
	trimmed := strings.Trim(s, "/")
	parts := strings.Split(trimmed, "/")
	for _, part := range parts {
		if part == "" {
			return Path{}, fmt.Errorf("path contains empty component: %q", s)
		}
	}
	return Path{ids: parts}, nil
}

// Clean replaces characters that would break a path or a backend key:
// "/" becomes "-" and ":" becomes "_".
func Clean(id string) string {
	return strings.ReplaceAll(strings.ReplaceAll(id, "/", "-"), ":", "_")
}

// Push returns a copy of p with id appended. The id is cleaned first.
func (p Path) Push(id string) Path {
	ids := make([]string, len(p.ids)+1)
	copy(ids, p.ids)
	ids[len(p.ids)] = Clean(id)
	return Path{ids: ids}
}

// Append returns a copy of p with all of other's components appended.
func (p Path) Append(other Path) Path {
	out := p
	for _, id := range other.ids {
		out = out.Push(id)
	}
	return out
}

// Parent returns the path with the last component removed, and false when p
// is already the root (the root has no parent).
func (p Path) Parent() (Path, bool) {
	if len(p.ids) == 0 {
		return Path{}, false
	}
	ids := make([]string, len(p.ids)-1)
	copy(ids, p.ids[:len(p.ids)-1])
	return Path{ids: ids}, true
}

// Last returns the final component, the id of the node the path points to.
// Returns false for the root path.
func (p Path) Last() (string, bool) {
	if len(p.ids) == 0 {
		return "", false
	}
	return p.ids[len(p.ids)-1], true
}

// IsRoot reports whether p points at root "/".
func (p Path) IsRoot() bool {
	return len(p.ids) == 0
}

// Depth returns the number of components in the path. Root has depth 0.
func (p Path) Depth() int {
	return len(p.ids)
}

// Components returns a copy of the path components in order.
func (p Path) Components() []string {
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

// Equal reports whether two paths have identical components.
func (p Path) Equal(other Path) bool {
	if len(p.ids) != len(other.ids) {
		return false
	}
	for i := range p.ids {
		if p.ids[i] != other.ids[i] {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether p is strictly below other (other is a proper
// prefix of p). A path is not a descendant of itself.
func (p Path) IsDescendantOf(other Path) bool {
	if len(p.ids) <= len(other.ids) {
		return false
	}
	for i := range other.ids {
		if p.ids[i] != other.ids[i] {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether p is strictly above other.
func (p Path) IsAncestorOf(other Path) bool {
	return other.IsDescendantOf(p)
}

// Compare orders paths component-by-component lexicographically, with a
// shorter path ordering before any of its descendants. Returns -1, 0, or 1.
// Used wherever deterministic path ordering is required.
func (p Path) Compare(other Path) int {
	n := len(p.ids)
	if len(other.ids) < n {
		n = len(other.ids)
	}
	for i := 0; i < n; i++ {
		if p.ids[i] != other.ids[i] {
			if p.ids[i] < other.ids[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(p.ids) < len(other.ids):
		return -1
	case len(p.ids) > len(other.ids):
		return 1
	default:
		return 0
	}
}

// String formats the path. Root formats as "/"; FromString(p.String())
// round-trips exactly.
func (p Path) String() string {
	return "/" + strings.Join(p.ids, "/")
}

// MarshalText encodes the path as its string form (used by JSON/CBOR map keys).
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes the path from its string form.
func (p *Path) UnmarshalText(data []byte) error {
	parsed, err := FromString(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
