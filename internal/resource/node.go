package resource

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/kura/internal/embedding"
)

// ContentKind discriminates the NodeContent variants on the wire.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindResource ContentKind = "resource"
	KindHeader   ContentKind = "header"
)

// NodeContent is the content held by a Node: inline text, a nested
// VectorResource (a folder), or a VRHeader reference to another resource.
// The variant set is closed.
type NodeContent interface {
	Kind() ContentKind
	// CopyContent returns a deep copy of the content.
	CopyContent() NodeContent
}

// TextContent is a text leaf.
type TextContent struct {
	Text string
}

// Kind returns KindText.
func (t TextContent) Kind() ContentKind { return KindText }

// CopyContent returns a copy of the text content.
func (t TextContent) CopyContent() NodeContent { return t }

// ResourceContent nests another VectorResource inline (folder-like).
type ResourceContent struct {
	Resource VectorResource
}

// Kind returns KindResource.
func (r ResourceContent) Kind() ContentKind { return KindResource }

// CopyContent deep-copies the nested resource.
func (r ResourceContent) CopyContent() NodeContent {
	return ResourceContent{Resource: r.Resource.Copy()}
}

// HeaderContent references another resource by key without inlining it.
// The reference resolves through a backend lookup, never an in-memory pointer,
// so resources that reference each other cannot form ownership cycles.
type HeaderContent struct {
	Header VRHeader
}

// Kind returns KindHeader.
func (h HeaderContent) Kind() ContentKind { return KindHeader }

// CopyContent returns a copy of the header reference.
func (h HeaderContent) CopyContent() NodeContent {
	return HeaderContent{Header: h.Header.Copy()}
}

// Node is a tree entry: content plus optional embedding, metadata, and data
// tag names. Node ids are unique within their parent resource only, not
// globally.
type Node struct {
	ID           string
	Content      NodeContent
	Embedding    *embedding.Embedding
	Metadata     map[string]string
	DataTagNames []string
	LastWritten  time.Time
}

// NewTextNode creates a text-holding node.
func NewTextNode(id, text string, metadata map[string]string, tagNames []string) Node {
	return Node{
		ID:           id,
		Content:      TextContent{Text: text},
		Metadata:     metadata,
		DataTagNames: append([]string(nil), tagNames...),
		LastWritten:  time.Now().UTC(),
	}
}

// NewResourceNode creates a node holding a nested resource. The node inherits
// the resource's data tag names so the parent's tag index covers it.
func NewResourceNode(id string, res VectorResource, metadata map[string]string) Node {
	return Node{
		ID:           id,
		Content:      ResourceContent{Resource: res},
		Metadata:     metadata,
		DataTagNames: res.TagIndex().TagNames(),
		LastWritten:  time.Now().UTC(),
	}
}

// NewHeaderNode creates a node referencing another resource by header.
func NewHeaderNode(id string, header VRHeader, metadata map[string]string) Node {
	return Node{
		ID:           id,
		Content:      HeaderContent{Header: header},
		Metadata:     metadata,
		DataTagNames: append([]string(nil), header.DataTagNames...),
		LastWritten:  time.Now().UTC(),
	}
}

// Text returns the text content, or false when the node is not a text leaf.
func (n *Node) Text() (string, bool) {
	if t, ok := n.Content.(TextContent); ok {
		return t.Text, true
	}
	return "", false
}

// Resource returns the nested resource, or false when the node is not a folder.
func (n *Node) Resource() (VectorResource, bool) {
	if r, ok := n.Content.(ResourceContent); ok {
		return r.Resource, true
	}
	return nil, false
}

// Header returns the header reference, or false when the node is not a reference.
func (n *Node) Header() (VRHeader, bool) {
	if h, ok := n.Content.(HeaderContent); ok {
		return h.Header, true
	}
	return VRHeader{}, false
}

// Copy returns a deep copy of the node.
func (n Node) Copy() Node {
	out := n
	if n.Content != nil {
		out.Content = n.Content.CopyContent()
	}
	out.Embedding = n.Embedding.Copy()
	if n.Metadata != nil {
		out.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	out.DataTagNames = append([]string(nil), n.DataTagNames...)
	return out
}

// Touch updates the node's last-written timestamp.
func (n *Node) Touch() {
	n.LastWritten = time.Now().UTC()
}

// nodeWire is the serialized form of a Node. Exactly one of Text, Doc, Map,
// or Header is set, selected by Kind.
type nodeWire struct {
	ID           string               `cbor:"i" json:"id"`
	Kind         ContentKind          `cbor:"k" json:"kind"`
	Text         *string              `cbor:"t,omitempty" json:"text,omitempty"`
	Doc          *DocResource         `cbor:"dr,omitempty" json:"doc_resource,omitempty"`
	Map          *MapResource         `cbor:"mr,omitempty" json:"map_resource,omitempty"`
	Header       *VRHeader            `cbor:"h,omitempty" json:"header,omitempty"`
	Embedding    *embedding.Embedding `cbor:"e,omitempty" json:"embedding,omitempty"`
	Metadata     map[string]string    `cbor:"md,omitempty" json:"metadata,omitempty"`
	DataTagNames []string             `cbor:"dt,omitempty" json:"data_tag_names,omitempty"`
	LastWritten  time.Time            `cbor:"w" json:"last_written"`
}

func (n Node) wire() (*nodeWire, error) {
	w := &nodeWire{
		ID:           n.ID,
		Embedding:    n.Embedding,
		Metadata:     n.Metadata,
		DataTagNames: n.DataTagNames,
		LastWritten:  n.LastWritten,
	}
	switch c := n.Content.(type) {
	case TextContent:
		w.Kind = KindText
		w.Text = &c.Text
	case ResourceContent:
		w.Kind = KindResource
		switch res := c.Resource.(type) {
		case *DocResource:
			w.Doc = res
		case *MapResource:
			w.Map = res
		default:
			return nil, fmt.Errorf("unknown resource shape %T", c.Resource)
		}
	case HeaderContent:
		w.Kind = KindHeader
		w.Header = &c.Header
	default:
		return nil, fmt.Errorf("node %q has unknown content %T", n.ID, n.Content)
	}
	return w, nil
}

func (n *Node) fromWire(w *nodeWire) error {
	n.ID = w.ID
	n.Embedding = w.Embedding
	n.Metadata = w.Metadata
	n.DataTagNames = w.DataTagNames
	n.LastWritten = w.LastWritten
	switch w.Kind {
	case KindText:
		var text string
		if w.Text != nil {
			text = *w.Text
		}
		n.Content = TextContent{Text: text}
	case KindResource:
		switch {
		case w.Doc != nil:
			n.Content = ResourceContent{Resource: w.Doc}
		case w.Map != nil:
			n.Content = ResourceContent{Resource: w.Map}
		default:
			return fmt.Errorf("node %q: resource content missing body", w.ID)
		}
	case KindHeader:
		if w.Header == nil {
			return fmt.Errorf("node %q: header content missing body", w.ID)
		}
		n.Content = HeaderContent{Header: *w.Header}
	default:
		return fmt.Errorf("node %q: unknown content kind %q", w.ID, w.Kind)
	}
	return nil
}

// MarshalCBOR encodes the node with a content discriminator.
func (n Node) MarshalCBOR() ([]byte, error) {
	w, err := n.wire()
	if err != nil {
		return nil, err
	}
	return em.Marshal(w)
}

// UnmarshalCBOR decodes a node encoded by MarshalCBOR.
func (n *Node) UnmarshalCBOR(data []byte) error {
	var w nodeWire
	if err := dm.Unmarshal(data, &w); err != nil {
		return err
	}
	return n.fromWire(&w)
}

// MarshalJSON encodes the node with a content discriminator.
func (n Node) MarshalJSON() ([]byte, error) {
	w, err := n.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a node encoded by MarshalJSON.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return n.fromWire(&w)
}
