package resource

import (
	"fmt"
	"regexp"
	"sort"
)

// DataTag names a category of content with a validating regex. Nodes carry
// tag names; the DataTagIndex maps tag name to the node ids carrying it.
type DataTag struct {
	Name        string `cbor:"n" json:"name"`
	Description string `cbor:"d,omitempty" json:"description,omitempty"`
	Pattern     string `cbor:"p" json:"pattern"`
}

// NewDataTag creates a tag, validating that the pattern compiles.
func NewDataTag(name, description, pattern string) (DataTag, error) {
	if name == "" {
		return DataTag{}, fmt.Errorf("data tag name cannot be empty")
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return DataTag{}, fmt.Errorf("data tag %q: invalid pattern: %w", name, err)
	}
	return DataTag{Name: name, Description: description, Pattern: pattern}, nil
}

// Matches reports whether text matches the tag's pattern. A tag with an
// invalid pattern matches nothing.
func (t DataTag) Matches(text string) bool {
	re, err := regexp.Compile(t.Pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// DataTagIndex maps tag name to the set of node ids carrying that tag within
// one resource. It covers the resource's direct nodes only; nested resources
// keep their own indices.
//
// Entries are pruned lazily: removing the last id under a tag leaves an
// empty-but-present entry. Callers must treat "tag never seen" (nil, false)
// and "tag seen, now empty" (empty, true) as distinct.
type DataTagIndex struct {
	Index map[string]map[string]struct{} `cbor:"ix" json:"index"`
}

// NewDataTagIndex returns an empty index.
func NewDataTagIndex() *DataTagIndex {
	return &DataTagIndex{Index: make(map[string]map[string]struct{})}
}

// AddNode records the node id under every tag name on the node. Idempotent.
func (ix *DataTagIndex) AddNode(n *Node) {
	for _, tag := range n.DataTagNames {
		set, ok := ix.Index[tag]
		if !ok {
			set = make(map[string]struct{})
			ix.Index[tag] = set
		}
		set[n.ID] = struct{}{}
	}
}

// RemoveNode removes the node id from every tag name on the node. Tolerant of
// absent entries; never prunes empty ones.
func (ix *DataTagIndex) RemoveNode(n *Node) {
	for _, tag := range n.DataTagNames {
		if set, ok := ix.Index[tag]; ok {
			delete(set, n.ID)
		}
	}
}

// ReplaceNode swaps old for new, strictly as remove-then-add. The ordering
// matters when both nodes share an id but differ in tags.
func (ix *DataTagIndex) ReplaceNode(old, new *Node) {
	ix.RemoveNode(old)
	ix.AddNode(new)
}

// IDs returns the node ids under the tag in sorted order. The second return
// distinguishes "tag never seen" (nil, false) from "tag seen, now empty"
// (empty slice, true).
func (ix *DataTagIndex) IDs(tag string) ([]string, bool) {
	set, ok := ix.Index[tag]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, true
}

// TagNames returns every tag name the index has seen, sorted.
func (ix *DataTagIndex) TagNames() []string {
	out := make([]string, 0, len(ix.Index))
	for name := range ix.Index {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Copy returns a deep copy of the index.
func (ix *DataTagIndex) Copy() *DataTagIndex {
	out := NewDataTagIndex()
	for tag, set := range ix.Index {
		dst := make(map[string]struct{}, len(set))
		for id := range set {
			dst[id] = struct{}{}
		}
		out.Index[tag] = dst
	}
	return out
}
