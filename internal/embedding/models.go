package embedding

import "fmt"

// ModelType identifies an embedding model: its name, maximum input size in
// characters, and output dimensions. Resources record the model they were
// embedded with; search rejects query vectors from a different model.
type ModelType struct {
	Name         string `json:"name" cbor:"n"`
	MaxInputSize int    `json:"max_input_size" cbor:"m"`
	Dimensions   int    `json:"dimensions" cbor:"d"`
}

// Catalog is a read-only table of known embedding models. It is constructed
// once at startup and passed to the components that need it; there is no
// process-wide singleton.
type Catalog struct {
	models map[string]ModelType
}

// NewCatalog builds a catalog from the given models. Later entries with the
// same name win.
func NewCatalog(models ...ModelType) *Catalog {
	m := make(map[string]ModelType, len(models))
	for _, model := range models {
		m[model.Name] = model
	}
	return &Catalog{models: m}
}

// DefaultCatalog returns the catalog of models the node ships support for.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		ModelType{Name: "all-minilm-l6-v2", MaxInputSize: 512, Dimensions: 384},
		ModelType{Name: "all-mpnet-base-v2", MaxInputSize: 512, Dimensions: 768},
		ModelType{Name: "nomic-embed-text", MaxInputSize: 8192, Dimensions: 768},
	)
}

// Lookup returns the model with the given name.
func (c *Catalog) Lookup(name string) (ModelType, error) {
	m, ok := c.models[name]
	if !ok {
		return ModelType{}, fmt.Errorf("unknown embedding model: %q", name)
	}
	return m, nil
}

// Has reports whether the catalog knows the given model name.
func (c *Catalog) Has(name string) bool {
	_, ok := c.models[name]
	return ok
}

// Names returns all model names in the catalog (order unspecified).
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.models))
	for name := range c.models {
		out = append(out, name)
	}
	return out
}
