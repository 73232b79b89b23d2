package vfs

import (
	"fmt"
	"time"

	"github.com/hyperjump/kura/internal/acl"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/resource"
	"github.com/hyperjump/kura/internal/subs"
	"github.com/hyperjump/kura/internal/vrpath"
)

// Internals is one profile's complete filesystem state: the folder tree plus
// the permission and subscription indices and the set of embedding models the
// profile accepts. The whole aggregate is serialized as a single blob so a
// write either persists all of it or none of it.
type Internals struct {
	Profile         string
	Core            *resource.MapResource
	Permissions     *acl.PermissionsIndex
	Subscriptions   *subs.SubscriptionsIndex
	SupportedModels []embedding.ModelType
	CreatedAt       time.Time
}

// NewInternals returns the empty state a profile starts from on first access.
func NewInternals(profile string, models []embedding.ModelType) *Internals {
	defaultModel := embedding.ModelType{}
	if len(models) > 0 {
		defaultModel = models[0]
	}
	return &Internals{
		Profile:         profile,
		Core:            resource.NewMapResource(profile, defaultModel),
		Permissions:     acl.NewPermissionsIndex(),
		Subscriptions:   subs.NewSubscriptionsIndex(),
		SupportedModels: append([]embedding.ModelType(nil), models...),
		CreatedAt:       time.Now().UTC(),
	}
}

// SupportsModel reports whether the profile accepts resources embedded with
// the named model.
func (in *Internals) SupportsModel(name string) bool {
	for _, m := range in.SupportedModels {
		if m.Name == name {
			return true
		}
	}
	return false
}

// acceptsDimensions reports whether some accepted model produces vectors of
// the given width.
func (in *Internals) acceptsDimensions(n int) bool {
	for _, m := range in.SupportedModels {
		if m.Dimensions == n {
			return true
		}
	}
	return false
}

// Copy returns a deep copy of the aggregate. Writers mutate a copy and swap
// it in only after a successful persist.
func (in *Internals) Copy() *Internals {
	return &Internals{
		Profile:         in.Profile,
		Core:            in.Core.Copy().(*resource.MapResource),
		Permissions:     in.Permissions.Copy(),
		Subscriptions:   in.Subscriptions.Copy(),
		SupportedModels: append([]embedding.ModelType(nil), in.SupportedModels...),
		CreatedAt:       in.CreatedAt,
	}
}

type internalsWire struct {
	Profile string                   `cbor:"p"`
	Core    *resource.MapResource    `cbor:"c"`
	Perms   *acl.PermissionsIndex    `cbor:"px"`
	Subs    *subs.SubscriptionsIndex `cbor:"sx"`
	Models  []embedding.ModelType    `cbor:"m"`
	Created time.Time                `cbor:"t"`
}

// Encode serializes the aggregate with the canonical codec.
func (in *Internals) Encode() ([]byte, error) {
	data, err := resource.Marshal(internalsWire{
		Profile: in.Profile,
		Core:    in.Core,
		Perms:   in.Permissions,
		Subs:    in.Subscriptions,
		Models:  in.SupportedModels,
		Created: in.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode internals for %s: %v", ErrSerialization, in.Profile, err)
	}
	return data, nil
}

// DecodeInternals deserializes an aggregate persisted by Encode.
func DecodeInternals(data []byte) (*Internals, error) {
	var w internalsWire
	if err := resource.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: decode internals: %v", ErrSerialization, err)
	}
	in := &Internals{
		Profile:         w.Profile,
		Core:            w.Core,
		Permissions:     w.Perms,
		Subscriptions:   w.Subs,
		SupportedModels: w.Models,
		CreatedAt:       w.Created,
	}
	if in.Permissions == nil {
		in.Permissions = acl.NewPermissionsIndex()
	}
	if in.Subscriptions == nil {
		in.Subscriptions = subs.NewSubscriptionsIndex()
	}
	return in, nil
}

// resolveFolder walks the tree from the core root to the folder at path.
func (in *Internals) resolveFolder(path vrpath.Path) (*resource.MapResource, error) {
	current := in.Core
	walked := vrpath.Root()
	for _, id := range path.Components() {
		walked = walked.Push(id)
		node, err := current.GetNode(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, walked)
		}
		res, ok := node.Resource()
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a folder", ErrResourceTypeMismatch, walked)
		}
		folder, ok := res.(*resource.MapResource)
		if !ok {
			return nil, fmt.Errorf("%w: %s is an item, not a folder", ErrResourceTypeMismatch, walked)
		}
		current = folder
	}
	return current, nil
}

// resolveNode returns the node at path. The root has no node.
func (in *Internals) resolveNode(path vrpath.Path) (resource.Node, error) {
	if path.IsRoot() {
		return resource.Node{}, fmt.Errorf("%w: root is not an entry", ErrInvalidPath)
	}
	parent, _ := path.Parent()
	last, _ := path.Last()
	folder, err := in.resolveFolder(parent)
	if err != nil {
		return resource.Node{}, err
	}
	node, err := folder.GetNode(last)
	if err != nil {
		return resource.Node{}, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	return node, nil
}

// entryExists reports whether path resolves to any entry (folder or item).
func (in *Internals) entryExists(path vrpath.Path) bool {
	if path.IsRoot() {
		return true
	}
	_, err := in.resolveNode(path)
	return err == nil
}
