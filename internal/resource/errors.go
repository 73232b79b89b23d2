package resource

import "errors"

// ErrNodeNotFound is returned when a node id is absent from a resource.
var ErrNodeNotFound = errors.New("node not found")

// ErrNodeExists is returned when adding a node whose id is already taken
// within the same resource. Use ReplaceNode to overwrite.
var ErrNodeExists = errors.New("node already exists")

// ErrModelMismatch is returned when a node embedded with one model is added
// to a resource declared with another.
var ErrModelMismatch = errors.New("embedding model mismatch")
