package resource

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/hyperjump/kura/internal/embedding"
)

// DocResource is the ordered, document-like resource shape. Nodes keep their
// insertion order; ids default to auto-incrementing integers.
type DocResource struct {
	resourceBase
	nodes   []Node
	counter int
}

// NewDocResource creates an empty document resource with a fresh resource id.
func NewDocResource(name string, model embedding.ModelType) *DocResource {
	return &DocResource{
		resourceBase: newResourceBase(name, uuid.New().String(), model),
	}
}

// BaseType returns BaseDoc.
func (d *DocResource) BaseType() BaseType { return BaseDoc }

// NodeCount returns the number of direct nodes.
func (d *DocResource) NodeCount() int { return len(d.nodes) }

// AddNode appends a node. An empty id is assigned the next integer id;
// a duplicate id fails with ErrNodeExists.
func (d *DocResource) AddNode(n Node) error {
	if n.ID == "" {
		d.counter++
		n.ID = strconv.Itoa(d.counter)
	}
	for i := range d.nodes {
		if d.nodes[i].ID == n.ID {
			return fmt.Errorf("doc resource %q: id %q: %w", d.name, n.ID, ErrNodeExists)
		}
	}
	d.nodes = append(d.nodes, n)
	d.tags.AddNode(&n)
	d.meta.AddNode(&n)
	d.touch()
	return nil
}

// AppendText adds a text node with the next integer id and returns it.
func (d *DocResource) AppendText(text string, metadata map[string]string, tagNames []string, emb *embedding.Embedding) (Node, error) {
	n := NewTextNode("", text, metadata, tagNames)
	n.Embedding = emb
	if err := d.AddNode(n); err != nil {
		return Node{}, err
	}
	return d.nodes[len(d.nodes)-1], nil
}

// GetNode returns a copy of the node with the given id.
func (d *DocResource) GetNode(id string) (Node, error) {
	for i := range d.nodes {
		if d.nodes[i].ID == id {
			return d.nodes[i], nil
		}
	}
	return Node{}, fmt.Errorf("doc resource %q: id %q: %w", d.name, id, ErrNodeNotFound)
}

// RemoveNode removes and returns the node with the given id. Resource content
// goes with it recursively; the caller unindexes descendants.
func (d *DocResource) RemoveNode(id string) (Node, error) {
	for i := range d.nodes {
		if d.nodes[i].ID == id {
			removed := d.nodes[i]
			d.nodes = append(d.nodes[:i], d.nodes[i+1:]...)
			d.tags.RemoveNode(&removed)
			d.meta.RemoveNode(&removed)
			d.touch()
			return removed, nil
		}
	}
	return Node{}, fmt.Errorf("doc resource %q: id %q: %w", d.name, id, ErrNodeNotFound)
}

// ReplaceNode swaps the node at id for n (which takes that id) and returns
// the old node. Indices update strictly as remove-then-add.
func (d *DocResource) ReplaceNode(id string, n Node) (Node, error) {
	for i := range d.nodes {
		if d.nodes[i].ID == id {
			old := d.nodes[i]
			n.ID = id
			n.Touch()
			d.nodes[i] = n
			d.tags.ReplaceNode(&old, &n)
			d.meta.ReplaceNode(&old, &n)
			d.touch()
			return old, nil
		}
	}
	return Node{}, fmt.Errorf("doc resource %q: id %q: %w", d.name, id, ErrNodeNotFound)
}

// Nodes returns the nodes in insertion order. The slice is a copy; the nodes
// are read-only snapshots.
func (d *DocResource) Nodes() []Node {
	out := make([]Node, len(d.nodes))
	copy(out, d.nodes)
	return out
}

// Header summarizes the resource for reference nodes.
func (d *DocResource) Header() VRHeader {
	return d.header(BaseDoc, len(d.nodes))
}

// Copy returns a deep copy of the resource tree.
func (d *DocResource) Copy() VectorResource {
	out := &DocResource{
		resourceBase: d.copyBase(),
		nodes:        make([]Node, len(d.nodes)),
		counter:      d.counter,
	}
	for i := range d.nodes {
		out.nodes[i] = d.nodes[i].Copy()
	}
	return out
}

func (d *DocResource) wire() *resourceWire {
	w := &resourceWire{DocNodes: d.nodes, NodeCounter: d.counter}
	d.fillWire(w, BaseDoc)
	return w
}

func (d *DocResource) fromWireDoc(w *resourceWire) {
	d.resourceBase.fromWire(w)
	d.nodes = w.DocNodes
	d.counter = w.NodeCounter
}

// MarshalCBOR encodes the resource in canonical form.
func (d *DocResource) MarshalCBOR() ([]byte, error) {
	return em.Marshal(d.wire())
}

// UnmarshalCBOR decodes a resource encoded by MarshalCBOR.
func (d *DocResource) UnmarshalCBOR(data []byte) error {
	var w resourceWire
	if err := dm.Unmarshal(data, &w); err != nil {
		return err
	}
	d.fromWireDoc(&w)
	return nil
}

// MarshalJSON encodes the resource.
func (d *DocResource) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.wire())
}

// UnmarshalJSON decodes a resource encoded by MarshalJSON.
func (d *DocResource) UnmarshalJSON(data []byte) error {
	var w resourceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.fromWireDoc(&w)
	return nil
}
