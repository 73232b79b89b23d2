// Package resource implements the vector resource tree: nodes holding text,
// nested resources, or cross-resource references, plus the tag and metadata
// secondary indices kept consistent with the tree.
package resource

import (
	"time"

	"github.com/hyperjump/kura/internal/embedding"
)

// BaseType identifies a resource shape on the wire.
type BaseType string

const (
	// BaseDoc is the ordered, document-like shape.
	BaseDoc BaseType = "doc"
	// BaseMap is the keyed, map-like shape (used for folders).
	BaseMap BaseType = "map"
)

// VectorResource is a named tree of nodes with its own embedding-model
// identity. Two shapes implement it: DocResource (ordered) and MapResource
// (keyed). The variant set is closed.
//
// Mutations go through AddNode/RemoveNode/ReplaceNode, which keep the
// resource's tag and metadata indices consistent with the tree. GetNode and
// Nodes return value copies; treat them as read-only snapshots.
type VectorResource interface {
	Name() string
	SetName(name string)
	ResourceID() string
	BaseType() BaseType
	EmbeddingModel() embedding.ModelType
	ResourceEmbedding() *embedding.Embedding
	SetResourceEmbedding(e *embedding.Embedding)
	Keywords() []string
	SetKeywords(kw []string)
	CreatedAt() time.Time
	LastWritten() time.Time

	NodeCount() int
	AddNode(n Node) error
	GetNode(id string) (Node, error)
	RemoveNode(id string) (Node, error)
	ReplaceNode(id string, n Node) (Node, error)
	Nodes() []Node

	TagIndex() *DataTagIndex
	MetadataIndex() *MetadataIndex

	// Header summarizes the resource's identity for reference nodes.
	Header() VRHeader
	// Copy returns a deep copy of the whole resource tree.
	Copy() VectorResource
}

// resourceBase carries the identity and index state shared by both shapes.
type resourceBase struct {
	name     string
	id       string
	model    embedding.ModelType
	emb      *embedding.Embedding
	keywords []string
	created  time.Time
	written  time.Time
	tags     *DataTagIndex
	meta     *MetadataIndex
}

func newResourceBase(name, id string, model embedding.ModelType) resourceBase {
	now := time.Now().UTC()
	return resourceBase{
		name:    name,
		id:      id,
		model:   model,
		created: now,
		written: now,
		tags:    NewDataTagIndex(),
		meta:    NewMetadataIndex(),
	}
}

func (b *resourceBase) Name() string                         { return b.name }
func (b *resourceBase) SetName(name string)                  { b.name = name; b.touch() }
func (b *resourceBase) ResourceID() string                   { return b.id }
func (b *resourceBase) EmbeddingModel() embedding.ModelType  { return b.model }
func (b *resourceBase) ResourceEmbedding() *embedding.Embedding { return b.emb }
func (b *resourceBase) CreatedAt() time.Time                 { return b.created }
func (b *resourceBase) LastWritten() time.Time               { return b.written }
func (b *resourceBase) TagIndex() *DataTagIndex              { return b.tags }
func (b *resourceBase) MetadataIndex() *MetadataIndex        { return b.meta }

func (b *resourceBase) SetResourceEmbedding(e *embedding.Embedding) {
	b.emb = e
	b.touch()
}

func (b *resourceBase) Keywords() []string {
	return append([]string(nil), b.keywords...)
}

func (b *resourceBase) SetKeywords(kw []string) {
	b.keywords = append([]string(nil), kw...)
	b.touch()
}

func (b *resourceBase) touch() {
	b.written = time.Now().UTC()
}

func (b *resourceBase) copyBase() resourceBase {
	out := *b
	out.emb = b.emb.Copy()
	out.keywords = append([]string(nil), b.keywords...)
	out.tags = b.tags.Copy()
	out.meta = b.meta.Copy()
	return out
}

func (b *resourceBase) header(baseType BaseType, nodeCount int) VRHeader {
	return VRHeader{
		ResourceName:   b.name,
		ResourceID:     b.id,
		BaseType:       baseType,
		EmbeddingModel: b.model,
		Embedding:      b.emb.Copy(),
		NodeCount:      nodeCount,
		DataTagNames:   b.tags.TagNames(),
		MetadataKeys:   b.meta.Keys(),
		Keywords:       append([]string(nil), b.keywords...),
		CreatedAt:      b.created,
		LastWritten:    b.written,
	}
}

// resourceWire is the serialized form shared by both shapes. DocNodes is set
// for BaseDoc, MapNodes for BaseMap.
type resourceWire struct {
	Name        string               `cbor:"n" json:"name"`
	ID          string               `cbor:"id" json:"id"`
	BaseType    BaseType             `cbor:"bt" json:"base_type"`
	Model       embedding.ModelType  `cbor:"em" json:"embedding_model"`
	Embedding   *embedding.Embedding `cbor:"e,omitempty" json:"embedding,omitempty"`
	Keywords    []string             `cbor:"kw,omitempty" json:"keywords,omitempty"`
	Created     time.Time            `cbor:"c" json:"created_at"`
	Written     time.Time            `cbor:"w" json:"last_written"`
	Tags        *DataTagIndex        `cbor:"tg" json:"tag_index"`
	Meta        *MetadataIndex       `cbor:"md" json:"metadata_index"`
	DocNodes    []Node               `cbor:"dn,omitempty" json:"doc_nodes,omitempty"`
	NodeCounter int                  `cbor:"ctr,omitempty" json:"node_counter,omitempty"`
	MapNodes    map[string]Node      `cbor:"mn,omitempty" json:"map_nodes,omitempty"`
}

func (b *resourceBase) fillWire(w *resourceWire, baseType BaseType) {
	w.Name = b.name
	w.ID = b.id
	w.BaseType = baseType
	w.Model = b.model
	w.Embedding = b.emb
	w.Keywords = b.keywords
	w.Created = b.created
	w.Written = b.written
	w.Tags = b.tags
	w.Meta = b.meta
}

func (b *resourceBase) fromWire(w *resourceWire) {
	b.name = w.Name
	b.id = w.ID
	b.model = w.Model
	b.emb = w.Embedding
	b.keywords = w.Keywords
	b.created = w.Created
	b.written = w.Written
	b.tags = w.Tags
	b.meta = w.Meta
	if b.tags == nil {
		b.tags = NewDataTagIndex()
	}
	if b.tags.Index == nil {
		b.tags.Index = make(map[string]map[string]struct{})
	}
	if b.meta == nil {
		b.meta = NewMetadataIndex()
	}
	if b.meta.Index == nil {
		b.meta.Index = make(map[string]map[string]struct{})
	}
}
