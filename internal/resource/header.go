package resource

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/vrpath"
)

// referenceSeparator joins the cleaned resource name and id into a reference
// key. The key doubles as the backend storage key for the resource.
const referenceSeparator = ":::"

// VRHeader holds a resource's identity and summary without its content.
// Header nodes embed a VRHeader instead of the resource itself and resolve it
// via backend lookup on demand.
type VRHeader struct {
	ResourceName   string               `cbor:"n" json:"resource_name"`
	ResourceID     string               `cbor:"id" json:"resource_id"`
	BaseType       BaseType             `cbor:"bt" json:"base_type"`
	EmbeddingModel embedding.ModelType  `cbor:"em" json:"embedding_model"`
	Embedding      *embedding.Embedding `cbor:"e,omitempty" json:"embedding,omitempty"`
	NodeCount      int                  `cbor:"nc" json:"node_count"`
	DataTagNames   []string             `cbor:"dt,omitempty" json:"data_tag_names,omitempty"`
	MetadataKeys   []string             `cbor:"mk,omitempty" json:"metadata_keys,omitempty"`
	Keywords       []string             `cbor:"kw,omitempty" json:"keywords,omitempty"`
	CreatedAt      time.Time            `cbor:"c" json:"created_at"`
	LastWritten    time.Time            `cbor:"w" json:"last_written"`
}

// ReferenceKey returns the key identifying the resource in the backend,
// formatted as "{name}:::{id}" with both parts path-cleaned.
func (h VRHeader) ReferenceKey() string {
	return ReferenceKey(h.ResourceName, h.ResourceID)
}

// Copy returns a deep copy of the header.
func (h VRHeader) Copy() VRHeader {
	out := h
	out.Embedding = h.Embedding.Copy()
	out.DataTagNames = append([]string(nil), h.DataTagNames...)
	out.MetadataKeys = append([]string(nil), h.MetadataKeys...)
	out.Keywords = append([]string(nil), h.Keywords...)
	return out
}

// ReferenceKey builds a backend reference key from a resource name and id.
func ReferenceKey(name, id string) string {
	return vrpath.Clean(name) + referenceSeparator + vrpath.Clean(id)
}

// ParseReferenceKey splits a reference key back into name and id.
func ParseReferenceKey(key string) (name, id string, err error) {
	parts := strings.Split(key, referenceSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid reference key: %q", key)
	}
	return parts[0], parts[1], nil
}
