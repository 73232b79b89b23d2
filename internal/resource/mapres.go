package resource

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/hyperjump/kura/internal/embedding"
)

// MapResource is the keyed, map-like resource shape. Node ids are the keys;
// iteration order is sorted by id. Folders in the filesystem tree are
// MapResources keyed by entry name.
type MapResource struct {
	resourceBase
	nodes map[string]Node
}

// NewMapResource creates an empty map resource with a fresh resource id.
func NewMapResource(name string, model embedding.ModelType) *MapResource {
	return &MapResource{
		resourceBase: newResourceBase(name, uuid.New().String(), model),
		nodes:        make(map[string]Node),
	}
}

// BaseType returns BaseMap.
func (m *MapResource) BaseType() BaseType { return BaseMap }

// NodeCount returns the number of direct nodes.
func (m *MapResource) NodeCount() int { return len(m.nodes) }

// AddNode inserts a node under its id. The id must be non-empty; a duplicate
// id fails with ErrNodeExists.
func (m *MapResource) AddNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("map resource %q: node id cannot be empty", m.name)
	}
	if _, ok := m.nodes[n.ID]; ok {
		return fmt.Errorf("map resource %q: id %q: %w", m.name, n.ID, ErrNodeExists)
	}
	m.nodes[n.ID] = n
	m.tags.AddNode(&n)
	m.meta.AddNode(&n)
	m.touch()
	return nil
}

// GetNode returns a copy of the node with the given id.
func (m *MapResource) GetNode(id string) (Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("map resource %q: id %q: %w", m.name, id, ErrNodeNotFound)
	}
	return n, nil
}

// RemoveNode removes and returns the node with the given id. Resource content
// goes with it recursively; the caller unindexes descendants.
func (m *MapResource) RemoveNode(id string) (Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("map resource %q: id %q: %w", m.name, id, ErrNodeNotFound)
	}
	delete(m.nodes, id)
	m.tags.RemoveNode(&n)
	m.meta.RemoveNode(&n)
	m.touch()
	return n, nil
}

// ReplaceNode swaps the node at id for n (which takes that id) and returns
// the old node. Indices update strictly as remove-then-add.
func (m *MapResource) ReplaceNode(id string, n Node) (Node, error) {
	old, ok := m.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("map resource %q: id %q: %w", m.name, id, ErrNodeNotFound)
	}
	n.ID = id
	n.Touch()
	m.nodes[id] = n
	m.tags.ReplaceNode(&old, &n)
	m.meta.ReplaceNode(&old, &n)
	m.touch()
	return old, nil
}

// Nodes returns the nodes sorted by id. The nodes are read-only snapshots.
func (m *MapResource) Nodes() []Node {
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Node, len(ids))
	for i, id := range ids {
		out[i] = m.nodes[id]
	}
	return out
}

// Header summarizes the resource for reference nodes.
func (m *MapResource) Header() VRHeader {
	return m.header(BaseMap, len(m.nodes))
}

// Copy returns a deep copy of the resource tree.
func (m *MapResource) Copy() VectorResource {
	out := &MapResource{
		resourceBase: m.copyBase(),
		nodes:        make(map[string]Node, len(m.nodes)),
	}
	for id, n := range m.nodes {
		out.nodes[id] = n.Copy()
	}
	return out
}

func (m *MapResource) wire() *resourceWire {
	w := &resourceWire{MapNodes: m.nodes}
	m.fillWire(w, BaseMap)
	return w
}

func (m *MapResource) fromWireMap(w *resourceWire) {
	m.resourceBase.fromWire(w)
	m.nodes = w.MapNodes
	if m.nodes == nil {
		m.nodes = make(map[string]Node)
	}
}

// MarshalCBOR encodes the resource in canonical form.
func (m *MapResource) MarshalCBOR() ([]byte, error) {
	return em.Marshal(m.wire())
}

// UnmarshalCBOR decodes a resource encoded by MarshalCBOR.
func (m *MapResource) UnmarshalCBOR(data []byte) error {
	var w resourceWire
	if err := dm.Unmarshal(data, &w); err != nil {
		return err
	}
	m.fromWireMap(&w)
	return nil
}

// MarshalJSON encodes the resource.
func (m *MapResource) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.wire())
}

// UnmarshalJSON decodes a resource encoded by MarshalJSON.
func (m *MapResource) UnmarshalJSON(data []byte) error {
	var w resourceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.fromWireMap(&w)
	return nil
}

// DecodeResource decodes CBOR bytes into the right resource shape by peeking
// at the base-type discriminator.
func DecodeResource(data []byte) (VectorResource, error) {
	var peek struct {
		BaseType BaseType `cbor:"bt"`
	}
	if err := dm.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	switch peek.BaseType {
	case BaseDoc:
		var d DocResource
		if err := d.UnmarshalCBOR(data); err != nil {
			return nil, fmt.Errorf("decode doc resource: %w", err)
		}
		return &d, nil
	case BaseMap:
		var m MapResource
		if err := m.UnmarshalCBOR(data); err != nil {
			return nil, fmt.Errorf("decode map resource: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("decode resource: unknown base type %q", peek.BaseType)
	}
}

// NewResourceID returns a fresh resource id.
func NewResourceID() string {
	return uuid.New().String()
}
