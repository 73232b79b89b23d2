package vfs

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/acl"
	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/kv"
	"github.com/hyperjump/kura/internal/resource"
	"github.com/hyperjump/kura/internal/subs"
	"github.com/hyperjump/kura/internal/vrkai"
	"github.com/hyperjump/kura/internal/vrpath"
)

// Writer performs mutations on one profile's filesystem on behalf of a
// requester. Every operation runs the same pipeline: validate the path,
// resolve the requester's permission, mutate a deep copy of the aggregate,
// persist the copy atomically, then swap it in. A failed persist leaves both
// memory and disk at the pre-image.
type Writer struct {
	fs        *VectorFS
	requester identity.Identity
	owner     identity.Identity
}

// commit persists next together with extra blob ops in one batch and swaps
// the in-memory aggregate on success. A state orphaned by DeleteProfile
// refuses the commit: its profile either no longer exists or lives in a
// replacement state this writer never saw.
func (w *Writer) commit(ctx context.Context, state *profileState, next *Internals, extra []kv.Op) error {
	if state.deleted {
		return fmt.Errorf("%w: profile %s was deleted", ErrPathNotFound, next.Profile)
	}
	data, err := next.Encode()
	if err != nil {
		return err
	}
	ops := make([]kv.Op, 0, len(extra)+1)
	ops = append(ops, kv.Op{Namespace: nsInternals, Key: next.Profile, Value: data})
	ops = append(ops, extra...)
	if err := w.fs.store.WriteBatch(ctx, ops); err != nil {
		return fmt.Errorf("%w: persist profile %s: %v", ErrBackend, next.Profile, err)
	}
	state.internals = next
	return nil
}

func (w *Writer) require(in *Internals, path vrpath.Path, level acl.Level) error {
	if effectiveLevel(in, w.owner, w.requester, path).AtLeast(level) {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s at %s", ErrPermissionDenied, w.requester, level, path)
}

// CreateFolder creates an empty folder named name under parent and returns
// its path. The parent must exist and the requester needs write access to it.
func (w *Writer) CreateFolder(ctx context.Context, parent vrpath.Path, name string) (vrpath.Path, error) {
	id := vrpath.Clean(strings.TrimSpace(name))
	if id == "" {
		return vrpath.Path{}, fmt.Errorf("%w: empty folder name", ErrInvalidPath)
	}
	path := parent.Push(id)

	state, err := w.fs.profile(ctx, w.owner)
	if err != nil {
		return vrpath.Path{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	in := state.internals

	if _, err := in.resolveFolder(parent); err != nil {
		return vrpath.Path{}, err
	}
	if err := w.require(in, parent, acl.LevelWrite); err != nil {
		return vrpath.Path{}, err
	}
	if in.entryExists(path) {
		return vrpath.Path{}, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}

	next := in.Copy()
	folder, err := next.resolveFolder(parent)
	if err != nil {
		return vrpath.Path{}, err
	}
	model := next.SupportedModels[0]
	if err := folder.AddNode(resource.NewResourceNode(id, resource.NewMapResource(name, model), nil)); err != nil {
		return vrpath.Path{}, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	if err := w.commit(ctx, state, next, nil); err != nil {
		return vrpath.Path{}, err
	}
	w.fs.log.Debug("folder created",
		zap.String("profile", next.Profile), zap.Stringer("path", path))
	return path, nil
}

// SaveResource stores res as an item under parent, keyed by its cleaned
// name, and returns the item's path. Saving over an existing item replaces
// it. When sourceBytes is non-nil the raw source is stored alongside and
// becomes retrievable through the entry. The resource is also written under
// its reference key so header nodes elsewhere can resolve it.
func (w *Writer) SaveResource(ctx context.Context, parent vrpath.Path, res resource.VectorResource, sourceBytes []byte) (vrpath.Path, error) {
	if res == nil {
		return vrpath.Path{}, fmt.Errorf("%w: nil resource", ErrInvalidPath)
	}
	id := vrpath.Clean(res.Name())
	if id == "" {
		return vrpath.Path{}, fmt.Errorf("%w: resource has no name", ErrInvalidPath)
	}
	path := parent.Push(id)

	state, err := w.fs.profile(ctx, w.owner)
	if err != nil {
		return vrpath.Path{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	in := state.internals

	if _, err := in.resolveFolder(parent); err != nil {
		return vrpath.Path{}, err
	}
	if err := w.require(in, parent, acl.LevelWrite); err != nil {
		return vrpath.Path{}, err
	}
	if !in.SupportsModel(res.EmbeddingModel().Name) {
		return vrpath.Path{}, fmt.Errorf("%w: profile %s does not accept model %q",
			resource.ErrModelMismatch, in.Profile, res.EmbeddingModel().Name)
	}

	next := in.Copy()
	folder, err := next.resolveFolder(parent)
	if err != nil {
		return vrpath.Path{}, err
	}

	var metadata map[string]string
	if sourceBytes != nil {
		metadata = map[string]string{sourceMetadataKey: "true"}
	}
	node := resource.NewResourceNode(id, res.Copy(), metadata)
	node.Embedding = res.ResourceEmbedding().Copy()

	ref := resource.ReferenceKey(res.Name(), res.ResourceID())
	var extra []kv.Op
	existing, err := folder.GetNode(id)
	switch {
	case err == nil:
		prev, ok := existing.Resource()
		if !ok {
			return vrpath.Path{}, fmt.Errorf("%w: %s is not an item", ErrResourceTypeMismatch, path)
		}
		if _, isFolder := prev.(*resource.MapResource); isFolder {
			return vrpath.Path{}, fmt.Errorf("%w: %s is a folder", ErrResourceTypeMismatch, path)
		}
		if _, err := folder.ReplaceNode(id, node); err != nil {
			return vrpath.Path{}, fmt.Errorf("%w: replace %s: %v", ErrBackend, path, err)
		}
		if sourceBytes == nil && existing.Metadata[sourceMetadataKey] == "true" {
			extra = append(extra, kv.Op{Namespace: nsSource, Key: sourceKey(next.Profile, path), Delete: true})
		}
		if prevRef := resource.ReferenceKey(prev.Name(), prev.ResourceID()); prevRef != ref {
			extra = append(extra, kv.Op{Namespace: nsResource, Key: resourceKey(next.Profile, prevRef), Delete: true})
		}
	default:
		if err := folder.AddNode(node); err != nil {
			return vrpath.Path{}, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
	}
	if sourceBytes != nil {
		extra = append(extra, kv.Op{Namespace: nsSource, Key: sourceKey(next.Profile, path), Value: sourceBytes})
	}
	blob, err := resource.Marshal(res)
	if err != nil {
		return vrpath.Path{}, fmt.Errorf("%w: encode resource %s: %v", ErrSerialization, path, err)
	}
	extra = append(extra, kv.Op{Namespace: nsResource, Key: resourceKey(next.Profile, ref), Value: blob})

	if err := w.commit(ctx, state, next, extra); err != nil {
		return vrpath.Path{}, err
	}
	w.fs.log.Debug("resource saved",
		zap.String("profile", next.Profile), zap.Stringer("path", path),
		zap.Int("nodes", res.NodeCount()), zap.Bool("source", sourceBytes != nil))
	return path, nil
}

// SaveVRKai stores a decoded VRKai under parent: its resource as the item
// and its source bytes, when present, as the entry's source.
func (w *Writer) SaveVRKai(ctx context.Context, parent vrpath.Path, k *vrkai.VRKai) (vrpath.Path, error) {
	if k == nil || k.Resource == nil {
		return vrpath.Path{}, fmt.Errorf("%w: empty vrkai", ErrInvalidPath)
	}
	return w.SaveResource(ctx, parent, k.Resource, k.SourceBytes)
}

// UnpackPack saves every entry of pack under parent, creating intermediate
// folders as needed, in one atomic commit. Existing entries at target paths
// fail the whole unpack with ErrAlreadyExists unless allowOverwrite is set,
// and overwrite only replaces items: a folder in the way fails with
// ErrResourceTypeMismatch, the same as saving a resource over it would.
func (w *Writer) UnpackPack(ctx context.Context, parent vrpath.Path, pack *vrkai.VRPack, allowOverwrite bool) ([]vrpath.Path, error) {
	state, err := w.fs.profile(ctx, w.owner)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	in := state.internals

	if _, err := in.resolveFolder(parent); err != nil {
		return nil, err
	}
	if err := w.require(in, parent, acl.LevelWrite); err != nil {
		return nil, err
	}

	next := in.Copy()
	model := next.SupportedModels[0]
	var extra []kv.Op
	var saved []vrpath.Path
	for _, entry := range pack.Entries() {
		target := parent.Append(entry.Path)
		if entry.VRKai == nil || entry.VRKai.Resource == nil {
			return nil, fmt.Errorf("%w: pack entry %s has no resource", ErrInvalidPath, entry.Path)
		}
		if !next.SupportsModel(entry.VRKai.Resource.EmbeddingModel().Name) {
			return nil, fmt.Errorf("%w: profile %s does not accept model %q",
				resource.ErrModelMismatch, next.Profile, entry.VRKai.Resource.EmbeddingModel().Name)
		}

		// Materialize intermediate folders along the entry path.
		folderPath, _ := target.Parent()
		folder := next.Core
		walked := vrpath.Root()
		for _, id := range folderPath.Components() {
			walked = walked.Push(id)
			node, err := folder.GetNode(id)
			if err != nil {
				sub := resource.NewMapResource(id, model)
				if err := folder.AddNode(resource.NewResourceNode(id, sub, nil)); err != nil {
					return nil, fmt.Errorf("%w: create folder %s: %v", ErrBackend, walked, err)
				}
				folder = sub
				continue
			}
			res, ok := node.Resource()
			if !ok {
				return nil, fmt.Errorf("%w: %s is not a folder", ErrResourceTypeMismatch, walked)
			}
			sub, ok := res.(*resource.MapResource)
			if !ok {
				return nil, fmt.Errorf("%w: %s is an item, not a folder", ErrResourceTypeMismatch, walked)
			}
			folder = sub
		}

		last, _ := target.Last()
		var metadata map[string]string
		if entry.VRKai.SourceBytes != nil {
			metadata = map[string]string{sourceMetadataKey: "true"}
		}
		node := resource.NewResourceNode(last, entry.VRKai.Resource.Copy(), metadata)
		node.Embedding = entry.VRKai.Resource.ResourceEmbedding().Copy()

		ref := resource.ReferenceKey(entry.VRKai.Resource.Name(), entry.VRKai.Resource.ResourceID())
		if existing, err := folder.GetNode(last); err == nil {
			if !allowOverwrite {
				return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, target)
			}
			prev, ok := existing.Resource()
			if !ok {
				return nil, fmt.Errorf("%w: %s is not an item", ErrResourceTypeMismatch, target)
			}
			if _, isFolder := prev.(*resource.MapResource); isFolder {
				return nil, fmt.Errorf("%w: %s is a folder", ErrResourceTypeMismatch, target)
			}
			if _, err := folder.ReplaceNode(last, node); err != nil {
				return nil, fmt.Errorf("%w: replace %s: %v", ErrBackend, target, err)
			}
			if entry.VRKai.SourceBytes == nil && existing.Metadata[sourceMetadataKey] == "true" {
				extra = append(extra, kv.Op{Namespace: nsSource, Key: sourceKey(next.Profile, target), Delete: true})
			}
			if prevRef := resource.ReferenceKey(prev.Name(), prev.ResourceID()); prevRef != ref {
				extra = append(extra, kv.Op{Namespace: nsResource, Key: resourceKey(next.Profile, prevRef), Delete: true})
			}
		} else if err := folder.AddNode(node); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, target)
		}
		if entry.VRKai.SourceBytes != nil {
			extra = append(extra, kv.Op{Namespace: nsSource, Key: sourceKey(next.Profile, target), Value: entry.VRKai.SourceBytes})
		}
		blob, err := resource.Marshal(entry.VRKai.Resource)
		if err != nil {
			return nil, fmt.Errorf("%w: encode resource %s: %v", ErrSerialization, target, err)
		}
		extra = append(extra, kv.Op{Namespace: nsResource, Key: resourceKey(next.Profile, ref), Value: blob})
		saved = append(saved, target)
	}

	if err := w.commit(ctx, state, next, extra); err != nil {
		return nil, err
	}
	w.fs.log.Debug("pack unpacked",
		zap.String("profile", next.Profile), zap.Stringer("parent", parent),
		zap.String("pack", pack.Name), zap.Int("entries", len(saved)))
	return saved, nil
}

// DeleteEntry removes the folder or item at path together with its whole
// subtree, its permission and subscription entries, and any stored source
// bytes.
func (w *Writer) DeleteEntry(ctx context.Context, path vrpath.Path) error {
	if path.IsRoot() {
		return fmt.Errorf("%w: cannot delete the root", ErrInvalidPath)
	}
	state, err := w.fs.profile(ctx, w.owner)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	in := state.internals

	if _, err := in.resolveNode(path); err != nil {
		return err
	}
	if err := w.require(in, path, acl.LevelWrite); err != nil {
		return err
	}

	next := in.Copy()
	parent, _ := path.Parent()
	last, _ := path.Last()
	folder, err := next.resolveFolder(parent)
	if err != nil {
		return err
	}
	removed, err := folder.RemoveNode(last)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	next.Permissions.RemoveSubtree(path)
	next.Subscriptions.RemoveSubtree(path)

	extra, err := w.subtreeSourceOps(ctx, next.Profile, path, func(key string, _ []byte) []kv.Op {
		return []kv.Op{{Namespace: nsSource, Key: key, Delete: true}}
	})
	if err != nil {
		return err
	}
	for _, ref := range subtreeReferenceKeys(removed, nil) {
		extra = append(extra, kv.Op{Namespace: nsResource, Key: resourceKey(next.Profile, ref), Delete: true})
	}

	if err := w.commit(ctx, state, next, extra); err != nil {
		return err
	}
	w.fs.log.Debug("entry deleted",
		zap.String("profile", next.Profile), zap.Stringer("path", path))
	return nil
}

// MoveEntry relocates the entry at src to dst. dst is the entry's new full
// path: its parent must be an existing folder and dst itself must be free.
// Permission grants, subscriptions, and stored source bytes move with the
// subtree.
func (w *Writer) MoveEntry(ctx context.Context, src, dst vrpath.Path) error {
	if src.IsRoot() || dst.IsRoot() {
		return fmt.Errorf("%w: cannot move the root", ErrInvalidPath)
	}
	if dst.Equal(src) || dst.IsDescendantOf(src) {
		return fmt.Errorf("%w: cannot move %s into itself", ErrInvalidPath, src)
	}

	state, err := w.fs.profile(ctx, w.owner)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	in := state.internals

	if _, err := in.resolveNode(src); err != nil {
		return err
	}
	dstParent, _ := dst.Parent()
	if _, err := in.resolveFolder(dstParent); err != nil {
		return err
	}
	if in.entryExists(dst) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, dst)
	}
	if err := w.require(in, src, acl.LevelWrite); err != nil {
		return err
	}
	if err := w.require(in, dstParent, acl.LevelWrite); err != nil {
		return err
	}

	next := in.Copy()
	srcParent, _ := src.Parent()
	srcLast, _ := src.Last()
	dstLast, _ := dst.Last()

	fromFolder, err := next.resolveFolder(srcParent)
	if err != nil {
		return err
	}
	node, err := fromFolder.RemoveNode(srcLast)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathNotFound, src)
	}
	toFolder, err := next.resolveFolder(dstParent)
	if err != nil {
		return err
	}
	node.ID = dstLast
	var extra []kv.Op
	if res, ok := node.Resource(); ok && srcLast != dstLast {
		oldRef := resource.ReferenceKey(res.Name(), res.ResourceID())
		res.SetName(dstLast)
		if _, isFolder := res.(*resource.MapResource); !isFolder {
			// Renaming changes the reference key, so the stored resource
			// moves with it.
			if ref := resource.ReferenceKey(res.Name(), res.ResourceID()); ref != oldRef {
				blob, err := resource.Marshal(res)
				if err != nil {
					return fmt.Errorf("%w: encode resource %s: %v", ErrSerialization, dst, err)
				}
				extra = append(extra,
					kv.Op{Namespace: nsResource, Key: resourceKey(next.Profile, oldRef), Delete: true},
					kv.Op{Namespace: nsResource, Key: resourceKey(next.Profile, ref), Value: blob})
			}
		}
	}
	node.Touch()
	if err := toFolder.AddNode(node); err != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, dst)
	}
	next.Permissions.Rekey(src, dst)
	next.Subscriptions.Rekey(src, dst)

	srcPrefix := sourceKey(next.Profile, src)
	dstPrefix := sourceKey(next.Profile, dst)
	srcOps, err := w.subtreeSourceOps(ctx, next.Profile, src, func(key string, value []byte) []kv.Op {
		return []kv.Op{
			{Namespace: nsSource, Key: dstPrefix + key[len(srcPrefix):], Value: value},
			{Namespace: nsSource, Key: key, Delete: true},
		}
	})
	if err != nil {
		return err
	}
	extra = append(extra, srcOps...)

	if err := w.commit(ctx, state, next, extra); err != nil {
		return err
	}
	w.fs.log.Debug("entry moved",
		zap.String("profile", next.Profile), zap.Stringer("src", src), zap.Stringer("dst", dst))
	return nil
}

// subtreeReferenceKeys collects the reference keys of every resource in the
// subtree rooted at node, the node's own resource included. Keys that were
// never stored delete as no-ops.
func subtreeReferenceKeys(node resource.Node, keys []string) []string {
	res, ok := node.Resource()
	if !ok {
		return keys
	}
	keys = append(keys, resource.ReferenceKey(res.Name(), res.ResourceID()))
	for _, child := range res.Nodes() {
		keys = subtreeReferenceKeys(child, keys)
	}
	return keys
}

// subtreeSourceOps scans source blobs stored at path or below and maps each
// to batch ops. Keys are filtered to the exact entry and true descendants so
// sibling entries sharing a name prefix are untouched.
func (w *Writer) subtreeSourceOps(ctx context.Context, profile string, path vrpath.Path, mk func(key string, value []byte) []kv.Op) ([]kv.Op, error) {
	exact := sourceKey(profile, path)
	entries, err := w.fs.store.PrefixScan(ctx, nsSource, exact)
	if err != nil {
		return nil, fmt.Errorf("%w: scan source blobs under %s: %v", ErrBackend, path, err)
	}
	var ops []kv.Op
	for _, entry := range entries {
		if entry.Key != exact && !strings.HasPrefix(entry.Key, exact+"/") {
			continue
		}
		ops = append(ops, mk(entry.Key, entry.Value)...)
	}
	return ops, nil
}

// SetPermission grants grantee the given level at path. Requires admin
// access at path. LevelNone is a valid explicit grant and caps inherited
// access for the grantee below path.
func (w *Writer) SetPermission(ctx context.Context, path vrpath.Path, grantee identity.Identity, level acl.Level) error {
	return w.adminMutate(ctx, path, func(next *Internals) {
		next.Permissions.Set(path, grantee, level)
	})
}

// RemovePermission deletes grantee's explicit grant at path; inherited
// grants resume. Requires admin access at path.
func (w *Writer) RemovePermission(ctx context.Context, path vrpath.Path, grantee identity.Identity) error {
	return w.adminMutate(ctx, path, func(next *Internals) {
		next.Permissions.Remove(path, grantee)
	})
}

func (w *Writer) adminMutate(ctx context.Context, path vrpath.Path, mutate func(next *Internals)) error {
	state, err := w.fs.profile(ctx, w.owner)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	in := state.internals

	if !in.entryExists(path) {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if err := w.require(in, path, acl.LevelAdmin); err != nil {
		return err
	}
	next := in.Copy()
	mutate(next)
	return w.commit(ctx, state, next, nil)
}

// Subscribe registers the requester as a subscriber at path. Requires read
// access: a subscriber receives the subtree's content.
func (w *Writer) Subscribe(ctx context.Context, path vrpath.Path) error {
	state, err := w.fs.profile(ctx, w.owner)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	in := state.internals

	if !in.entryExists(path) {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if err := w.require(in, path, acl.LevelRead); err != nil {
		return err
	}
	next := in.Copy()
	next.Subscriptions.Subscribe(path, w.requester)
	return w.commit(ctx, state, next, nil)
}

// Unsubscribe removes the requester's subscription at path.
func (w *Writer) Unsubscribe(ctx context.Context, path vrpath.Path) error {
	state, err := w.fs.profile(ctx, w.owner)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	in := state.internals

	next := in.Copy()
	next.Subscriptions.Unsubscribe(path, w.requester)
	return w.commit(ctx, state, next, nil)
}

// SetLastSynced records how far subscriber has synchronized path. Called by
// the owner's sync process after sending a diff; requires write access.
func (w *Writer) SetLastSynced(ctx context.Context, path vrpath.Path, subscriber identity.Identity, marker subs.Marker) error {
	state, err := w.fs.profile(ctx, w.owner)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	in := state.internals

	if !in.entryExists(path) {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if err := w.require(in, path, acl.LevelWrite); err != nil {
		return err
	}
	next := in.Copy()
	next.Subscriptions.SetLastSynced(path, subscriber, marker)
	return w.commit(ctx, state, next, nil)
}
