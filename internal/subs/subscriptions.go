// Package subs implements per-path subscriber sets with per-subscriber
// last-synced markers for incremental cross-node synchronization.
package subs

import (
	"sort"
	"time"

	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/vrpath"
)

// Marker records how far a subscriber has synchronized a path: the timestamp
// of the last version it received. Synchronization sends only entries written
// after the marker instead of a full resend.
type Marker struct {
	SyncedAt time.Time `cbor:"t" json:"synced_at"`
	Version  string    `cbor:"v,omitempty" json:"version,omitempty"`
}

// SubscriptionsIndex maps path -> subscriber identity -> last-synced marker.
// Subscriptions are inherited the same way permissions are: a subscriber on
// /docs receives changes for /docs/intro.
type SubscriptionsIndex struct {
	Subs map[string]map[string]Marker `cbor:"s" json:"subscriptions"`
}

// NewSubscriptionsIndex returns an empty index.
func NewSubscriptionsIndex() *SubscriptionsIndex {
	return &SubscriptionsIndex{Subs: make(map[string]map[string]Marker)}
}

// Subscribe registers id as a subscriber of path. Re-subscribing keeps the
// existing marker.
func (sx *SubscriptionsIndex) Subscribe(path vrpath.Path, id identity.Identity) {
	key := path.String()
	set, ok := sx.Subs[key]
	if !ok {
		set = make(map[string]Marker)
		sx.Subs[key] = set
	}
	if _, ok := set[id.String()]; !ok {
		set[id.String()] = Marker{}
	}
}

// Unsubscribe removes id's subscription at exactly path. Tolerant of absent
// entries.
func (sx *SubscriptionsIndex) Unsubscribe(path vrpath.Path, id identity.Identity) {
	if set, ok := sx.Subs[path.String()]; ok {
		delete(set, id.String())
	}
}

// Subscribers returns everyone subscribed to path or any of its ancestors,
// sorted. A change at path must notify all of them.
func (sx *SubscriptionsIndex) Subscribers(path vrpath.Path) []identity.Identity {
	seen := make(map[string]struct{})
	current := path
	for {
		if set, ok := sx.Subs[current.String()]; ok {
			for sub := range set {
				seen[sub] = struct{}{}
			}
		}
		parent, ok := current.Parent()
		if !ok {
			break
		}
		current = parent
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

// SetLastSynced records the marker for id's subscription at path. A no-op
// when id is not subscribed at exactly path.
func (sx *SubscriptionsIndex) SetLastSynced(path vrpath.Path, id identity.Identity, marker Marker) {
	if set, ok := sx.Subs[path.String()]; ok {
		if _, subscribed := set[id.String()]; subscribed {
			set[id.String()] = marker
		}
	}
}

// LastSynced returns id's marker at path, and whether id is subscribed there.
func (sx *SubscriptionsIndex) LastSynced(path vrpath.Path, id identity.Identity) (Marker, bool) {
	set, ok := sx.Subs[path.String()]
	if !ok {
		return Marker{}, false
	}
	marker, ok := set[id.String()]
	return marker, ok
}

// RemovePath deletes every subscription at exactly path.
func (sx *SubscriptionsIndex) RemovePath(path vrpath.Path) {
	delete(sx.Subs, path.String())
}

// RemoveSubtree deletes every subscription at path and below.
func (sx *SubscriptionsIndex) RemoveSubtree(path vrpath.Path) {
	for key := range sx.Subs {
		p, err := vrpath.FromString(key)
		if err != nil {
			continue
		}
		if p.Equal(path) || p.IsDescendantOf(path) {
			delete(sx.Subs, key)
		}
	}
}

// Rekey moves every subscription under old (inclusive) to the corresponding
// path under new, used when an entry is moved. Markers are preserved.
func (sx *SubscriptionsIndex) Rekey(old, new vrpath.Path) {
	moved := make(map[string]map[string]Marker)
	for key, set := range sx.Subs {
		p, err := vrpath.FromString(key)
		if err != nil {
			continue
		}
		if !p.Equal(old) && !p.IsDescendantOf(old) {
			continue
		}
		rebased := new.Append(vrpath.New(p.Components()[old.Depth():]...))
		moved[rebased.String()] = set
		delete(sx.Subs, key)
	}
	for key, set := range moved {
		sx.Subs[key] = set
	}
}

// Copy returns a deep copy of the index.
func (sx *SubscriptionsIndex) Copy() *SubscriptionsIndex {
	out := NewSubscriptionsIndex()
	for key, set := range sx.Subs {
		dst := make(map[string]Marker, len(set))
		for sub, marker := range set {
			dst[sub] = marker
		}
		out.Subs[key] = dst
	}
	return out
}
