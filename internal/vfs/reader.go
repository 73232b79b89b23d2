package vfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kura/internal/acl"
	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/kv"
	"github.com/hyperjump/kura/internal/resource"
	"github.com/hyperjump/kura/internal/subs"
	"github.com/hyperjump/kura/internal/vrkai"
	"github.com/hyperjump/kura/internal/vrpath"
)

// Reader performs read operations on one profile's filesystem on behalf of a
// requester. Reads validate the path and require LevelRead before touching
// any state, take the profile read lock only long enough to snapshot what
// they need, and hand out projections rather than internal nodes.
type Reader struct {
	fs        *VectorFS
	requester identity.Identity
	owner     identity.Identity
}

func (r *Reader) require(in *Internals, path vrpath.Path, level acl.Level) error {
	if effectiveLevel(in, r.owner, r.requester, path).AtLeast(level) {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s at %s", ErrPermissionDenied, r.requester, level, path)
}

// RetrieveResource returns a deep copy of the resource at path, which must
// be an item or a folder.
func (r *Reader) RetrieveResource(ctx context.Context, path vrpath.Path) (resource.VectorResource, error) {
	state, err := r.fs.profile(ctx, r.owner)
	if err != nil {
		return nil, err
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	in := state.internals

	if path.IsRoot() {
		if err := r.require(in, path, acl.LevelRead); err != nil {
			return nil, err
		}
		return in.Core.Copy(), nil
	}
	node, err := in.resolveNode(path)
	if err != nil {
		return nil, err
	}
	if err := r.require(in, path, acl.LevelRead); err != nil {
		return nil, err
	}
	res, ok := node.Resource()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a resource", ErrResourceTypeMismatch, path)
	}
	return res.Copy(), nil
}

// RetrieveVRKai wraps the item at path, together with any stored source
// bytes, into a portable VRKai.
func (r *Reader) RetrieveVRKai(ctx context.Context, path vrpath.Path) (*vrkai.VRKai, error) {
	res, err := r.RetrieveResource(ctx, path)
	if err != nil {
		return nil, err
	}
	source, err := r.SourceBytes(ctx, path)
	if err != nil && !errors.Is(err, ErrNoSourceFile) {
		return nil, err
	}
	return vrkai.New(res, source), nil
}

// ResolveHeader resolves the reference held by node nodeID of the item at
// path: it looks the header's reference key up in the backend and returns the
// referenced resource. Requires read access at path. ErrNodeNotFound covers
// both a missing node and a reference whose target was never stored or has
// been deleted.
func (r *Reader) ResolveHeader(ctx context.Context, path vrpath.Path, nodeID string) (resource.VectorResource, error) {
	state, err := r.fs.profile(ctx, r.owner)
	if err != nil {
		return nil, err
	}
	state.mu.RLock()
	in := state.internals
	node, err := in.resolveNode(path)
	if err != nil {
		state.mu.RUnlock()
		return nil, err
	}
	if err := r.require(in, path, acl.LevelRead); err != nil {
		state.mu.RUnlock()
		return nil, err
	}
	profile := in.Profile
	state.mu.RUnlock()

	res, ok := node.Resource()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a resource", ErrResourceTypeMismatch, path)
	}
	inner, err := res.GetNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: node %q in %s", ErrNodeNotFound, nodeID, path)
	}
	header, ok := inner.Header()
	if !ok {
		return nil, fmt.Errorf("%w: node %q in %s is not a reference", ErrResourceTypeMismatch, nodeID, path)
	}

	ref := header.ReferenceKey()
	data, err := r.fs.store.Get(ctx, nsResource, resourceKey(profile, ref))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: referenced resource %s", ErrNodeNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve reference %s: %v", ErrBackend, ref, err)
	}
	out, err := resource.DecodeResource(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode referenced resource %s: %v", ErrSerialization, ref, err)
	}
	return out, nil
}

// Entry returns the projection of the non-folder entry at path.
func (r *Reader) Entry(ctx context.Context, path vrpath.Path) (FSEntry, error) {
	state, err := r.fs.profile(ctx, r.owner)
	if err != nil {
		return FSEntry{}, err
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	in := state.internals

	node, err := in.resolveNode(path)
	if err != nil {
		return FSEntry{}, err
	}
	if err := r.require(in, path, acl.LevelRead); err != nil {
		return FSEntry{}, err
	}
	entry, ok := entryFromNode(path, node)
	if !ok {
		return FSEntry{}, fmt.Errorf("%w: %s is a folder", ErrResourceTypeMismatch, path)
	}
	return entry, nil
}

// ListFolder returns the projection of the folder at path. With recursive
// set, subfolder projections carry their own contents; otherwise they are
// empty shells.
func (r *Reader) ListFolder(ctx context.Context, path vrpath.Path, recursive bool) (*FSFolder, error) {
	state, err := r.fs.profile(ctx, r.owner)
	if err != nil {
		return nil, err
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	in := state.internals

	folder, err := in.resolveFolder(path)
	if err != nil {
		return nil, err
	}
	if err := r.require(in, path, acl.LevelRead); err != nil {
		return nil, err
	}
	return folderProjection(path, folder, recursive), nil
}

// SourceBytes returns the raw source bytes stored for the entry at path, or
// ErrNoSourceFile when none were saved with it.
func (r *Reader) SourceBytes(ctx context.Context, path vrpath.Path) ([]byte, error) {
	state, err := r.fs.profile(ctx, r.owner)
	if err != nil {
		return nil, err
	}
	state.mu.RLock()
	in := state.internals
	node, err := in.resolveNode(path)
	if err != nil {
		state.mu.RUnlock()
		return nil, err
	}
	if err := r.require(in, path, acl.LevelRead); err != nil {
		state.mu.RUnlock()
		return nil, err
	}
	profile := in.Profile
	state.mu.RUnlock()

	if node.Metadata[sourceMetadataKey] != "true" {
		return nil, fmt.Errorf("%w: %s", ErrNoSourceFile, path)
	}
	data, err := r.fs.store.Get(ctx, nsSource, sourceKey(profile, path))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSourceFile, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read source for %s: %v", ErrBackend, path, err)
	}
	return data, nil
}

// Permission returns the requester's effective level at path.
func (r *Reader) Permission(ctx context.Context, path vrpath.Path) (acl.Level, error) {
	state, err := r.fs.profile(ctx, r.owner)
	if err != nil {
		return acl.LevelNone, err
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return effectiveLevel(state.internals, r.owner, r.requester, path), nil
}

// Subscribers returns everyone subscribed at path or an ancestor. Requires
// write access: the subscriber list is the owner's notification state.
func (r *Reader) Subscribers(ctx context.Context, path vrpath.Path) ([]identity.Identity, error) {
	state, err := r.fs.profile(ctx, r.owner)
	if err != nil {
		return nil, err
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	in := state.internals

	if !in.entryExists(path) {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if err := r.require(in, path, acl.LevelWrite); err != nil {
		return nil, err
	}
	return in.Subscriptions.Subscribers(path), nil
}

// LastSynced returns subscriber's sync marker at path.
func (r *Reader) LastSynced(ctx context.Context, path vrpath.Path, subscriber identity.Identity) (subs.Marker, bool, error) {
	state, err := r.fs.profile(ctx, r.owner)
	if err != nil {
		return subs.Marker{}, false, err
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	in := state.internals

	if err := r.require(in, path, acl.LevelWrite); err != nil {
		return subs.Marker{}, false, err
	}
	marker, ok := in.Subscriptions.LastSynced(path, subscriber)
	return marker, ok, nil
}
