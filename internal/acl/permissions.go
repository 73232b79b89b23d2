// Package acl implements per-path, per-identity access resolution with
// ancestor inheritance.
package acl

import (
	"sort"

	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/vrpath"
)

// Level is a permission level. Levels are totally ordered; the default for
// any identity without an explicit or inherited grant is LevelNone.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
	LevelAdmin
)

var levelNames = map[Level]string{
	LevelNone:  "none",
	LevelRead:  "read",
	LevelWrite: "write",
	LevelAdmin: "admin",
}

var levelValues = map[string]Level{
	"none":  LevelNone,
	"read":  LevelRead,
	"write": LevelWrite,
	"admin": LevelAdmin,
}

// String returns the level name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "none"
}

// AtLeast reports whether l grants at least the required level.
func (l Level) AtLeast(required Level) bool {
	return l >= required
}

// MarshalText encodes the level name (used by JSON/CBOR).
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name; unknown names decode to LevelNone.
func (l *Level) UnmarshalText(data []byte) error {
	*l = levelValues[string(data)]
	return nil
}

// PermissionsIndex maps path -> identity -> explicit level. Resolution checks
// the exact path first, then walks successive ancestors until an explicit
// grant is found; a deeper explicit grant always overrides an inherited one.
// There is no separate deny concept beyond granting a lower explicit level at
// a deeper path.
type PermissionsIndex struct {
	Grants map[string]map[string]Level `cbor:"g" json:"grants"`
}

// NewPermissionsIndex returns an empty index.
func NewPermissionsIndex() *PermissionsIndex {
	return &PermissionsIndex{Grants: make(map[string]map[string]Level)}
}

// Set records an explicit grant for id at path.
func (px *PermissionsIndex) Set(path vrpath.Path, id identity.Identity, level Level) {
	key := path.String()
	grants, ok := px.Grants[key]
	if !ok {
		grants = make(map[string]Level)
		px.Grants[key] = grants
	}
	grants[id.String()] = level
}

// Remove deletes the explicit grant for id at path, if any. The identity may
// still hold access inherited from an ancestor.
func (px *PermissionsIndex) Remove(path vrpath.Path, id identity.Identity) {
	if grants, ok := px.Grants[path.String()]; ok {
		delete(grants, id.String())
	}
}

// RemovePath deletes every grant at exactly path.
func (px *PermissionsIndex) RemovePath(path vrpath.Path) {
	delete(px.Grants, path.String())
}

// RemoveSubtree deletes every grant at path and below.
func (px *PermissionsIndex) RemoveSubtree(path vrpath.Path) {
	for key := range px.Grants {
		p, err := vrpath.FromString(key)
		if err != nil {
			continue
		}
		if p.Equal(path) || p.IsDescendantOf(path) {
			delete(px.Grants, key)
		}
	}
}

// Rekey moves every grant under old (inclusive) to the corresponding path
// under new, used when an entry is moved.
func (px *PermissionsIndex) Rekey(old, new vrpath.Path) {
	moved := make(map[string]map[string]Level)
	for key, grants := range px.Grants {
		p, err := vrpath.FromString(key)
		if err != nil {
			continue
		}
		if !p.Equal(old) && !p.IsDescendantOf(old) {
			continue
		}
		rebased := new.Append(vrpath.New(p.Components()[old.Depth():]...))
		moved[rebased.String()] = grants
		delete(px.Grants, key)
	}
	for key, grants := range moved {
		px.Grants[key] = grants
	}
}

// Get resolves the effective level for id at path: the exact path first, then
// each ancestor up to and including the root, defaulting to LevelNone.
// Grants to broader identities (node-level covering profile-level) apply.
func (px *PermissionsIndex) Get(path vrpath.Path, id identity.Identity) Level {
	current := path
	for {
		if level, ok := px.lookupAt(current, id); ok {
			return level
		}
		parent, ok := current.Parent()
		if !ok {
			return LevelNone
		}
		current = parent
	}
}

func (px *PermissionsIndex) lookupAt(path vrpath.Path, id identity.Identity) (Level, bool) {
	grants, ok := px.Grants[path.String()]
	if !ok {
		return LevelNone, false
	}
	if level, ok := grants[id.String()]; ok {
		return level, true
	}
	// Broader grants cover narrower principals.
	best := LevelNone
	found := false
	for grantee, level := range grants {
		g, err := identity.Parse(grantee)
		if err != nil {
			continue
		}
		if g.Covers(id) {
			found = true
			if level > best {
				best = level
			}
		}
	}
	return best, found
}

// Grantees returns every identity holding an explicit grant above LevelNone
// at subtree or anywhere below it, sorted. Used to determine notification
// targets when a subtree changes.
func (px *PermissionsIndex) Grantees(subtree vrpath.Path) []identity.Identity {
	seen := make(map[string]struct{})
	for key, grants := range px.Grants {
		p, err := vrpath.FromString(key)
		if err != nil {
			continue
		}
		if !p.Equal(subtree) && !p.IsDescendantOf(subtree) {
			continue
		}
		for grantee, level := range grants {
			if level > LevelNone {
				seen[grantee] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]identity.Identity, 0, len(names))
	for _, name := range names {
		if id, err := identity.Parse(name); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Copy returns a deep copy of the index.
func (px *PermissionsIndex) Copy() *PermissionsIndex {
	out := NewPermissionsIndex()
	for key, grants := range px.Grants {
		dst := make(map[string]Level, len(grants))
		for grantee, level := range grants {
			dst[grantee] = level
		}
		out.Grants[key] = dst
	}
	return out
}
