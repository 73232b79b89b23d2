package resource

import "sort"

// MetadataIndex maps metadata key to the set of node ids carrying that key
// within one resource. Like the DataTagIndex it covers direct nodes only and
// never prunes empty entries eagerly.
type MetadataIndex struct {
	Index map[string]map[string]struct{} `cbor:"ix" json:"index"`
}

// NewMetadataIndex returns an empty index.
func NewMetadataIndex() *MetadataIndex {
	return &MetadataIndex{Index: make(map[string]map[string]struct{})}
}

// AddNode records the node id under every metadata key on the node. Idempotent.
func (ix *MetadataIndex) AddNode(n *Node) {
	for key := range n.Metadata {
		set, ok := ix.Index[key]
		if !ok {
			set = make(map[string]struct{})
			ix.Index[key] = set
		}
		set[n.ID] = struct{}{}
	}
}

// RemoveNode removes the node id from every metadata key on the node.
// Tolerant of absent entries.
func (ix *MetadataIndex) RemoveNode(n *Node) {
	for key := range n.Metadata {
		if set, ok := ix.Index[key]; ok {
			delete(set, n.ID)
		}
	}
}

// ReplaceNode swaps old for new, strictly as remove-then-add.
func (ix *MetadataIndex) ReplaceNode(old, new *Node) {
	ix.RemoveNode(old)
	ix.AddNode(new)
}

// IDs returns the node ids under the key in sorted order, distinguishing
// "key never seen" (nil, false) from "key seen, now empty" (empty, true).
func (ix *MetadataIndex) IDs(key string) ([]string, bool) {
	set, ok := ix.Index[key]
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

// Keys returns every metadata key the index has seen, sorted.
func (ix *MetadataIndex) Keys() []string {
	out := make([]string, 0, len(ix.Index))
	for key := range ix.Index {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Copy returns a deep copy of the index.
func (ix *MetadataIndex) Copy() *MetadataIndex {
	out := NewMetadataIndex()
	for key, set := range ix.Index {
		dst := make(map[string]struct{}, len(set))
		for id := range set {
			dst[id] = struct{}{}
		}
		out.Index[key] = dst
	}
	return out
}
