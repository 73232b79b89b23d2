// Package vfs implements the permissioned vector filesystem: a per-profile
// tree of folders and embedded resources with permission and subscription
// indices, persisted as one atomic aggregate per profile.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/acl"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/kv"
	"github.com/hyperjump/kura/internal/vrpath"
)

// KV namespaces. One aggregate blob per profile under nsInternals, raw
// source bytes under nsSource keyed by profile and path, and saved resources
// under nsResource keyed by profile and reference key so header nodes can
// resolve them without walking the tree.
const (
	nsInternals = "fs"
	nsSource    = "source"
	nsResource  = "resource"
)

// VectorFS manages every profile's filesystem over a shared persistence
// backend. Profiles are fully independent: each has its own lock and its own
// aggregate, so writers on different profiles never block each other.
type VectorFS struct {
	store   kv.Store
	log     *zap.Logger
	catalog *embedding.Catalog
	models  []embedding.ModelType

	mu       sync.Mutex
	profiles map[string]*profileState
}

// profileState guards one profile's aggregate. internals is replaced
// wholesale on write commit, never mutated in place, so readers holding the
// old pointer stay consistent. deleted marks a state orphaned by
// DeleteProfile: commits against it must fail rather than race a fresh
// state created for the same profile.
type profileState struct {
	mu        sync.RWMutex
	internals *Internals
	deleted   bool
}

// New creates a VectorFS over the given backend. models is the set of
// embedding models new profiles accept; the first is the default used for
// folder resources.
func New(store kv.Store, catalog *embedding.Catalog, models []embedding.ModelType, log *zap.Logger) (*VectorFS, error) {
	if store == nil {
		return nil, fmt.Errorf("vfs: nil store")
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("vfs: at least one supported embedding model is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &VectorFS{
		store:    store,
		log:      log,
		catalog:  catalog,
		models:   append([]embedding.ModelType(nil), models...),
		profiles: make(map[string]*profileState),
	}, nil
}

// profile returns the state for id's profile, loading it from the backend or
// creating it empty on first access.
func (fs *VectorFS) profile(ctx context.Context, profile identity.Identity) (*profileState, error) {
	key := profile.ProfileKey()
	if key == "" {
		return nil, fmt.Errorf("%w: empty profile identity", ErrInvalidPath)
	}

	for {
		fs.mu.Lock()
		state, ok := fs.profiles[key]
		if !ok {
			state = &profileState{}
			fs.profiles[key] = state
		}
		fs.mu.Unlock()

		state.mu.Lock()
		if state.deleted {
			// DeleteProfile orphaned this state and already removed it
			// from the map; fetch the replacement.
			state.mu.Unlock()
			continue
		}
		if state.internals != nil {
			state.mu.Unlock()
			return state, nil
		}
		data, err := fs.store.Get(ctx, nsInternals, key)
		switch {
		case err == nil:
			internals, err := DecodeInternals(data)
			if err != nil {
				state.mu.Unlock()
				return nil, err
			}
			state.internals = internals
			fs.log.Debug("profile loaded", zap.String("profile", key))
		case errors.Is(err, kv.ErrKeyNotFound):
			state.internals = NewInternals(key, fs.models)
			fs.log.Debug("profile created", zap.String("profile", key))
		default:
			state.mu.Unlock()
			return nil, fmt.Errorf("%w: load profile %s: %v", ErrBackend, key, err)
		}
		state.mu.Unlock()
		return state, nil
	}
}

// effectiveLevel resolves requester's level at path within owner's profile.
// Any device of the owning profile holds admin everywhere; everyone else
// falls back to the permission index, defaulting to deny.
func effectiveLevel(in *Internals, owner, requester identity.Identity, path vrpath.Path) acl.Level {
	if owner.ProfileKey() == requester.ProfileKey() {
		return acl.LevelAdmin
	}
	return in.Permissions.Get(path, requester)
}

// NewReader binds requester to owner's profile for read operations. The
// per-operation pipeline validates the path and requires LevelRead before
// touching any state.
func (fs *VectorFS) NewReader(requester, owner identity.Identity) *Reader {
	return &Reader{fs: fs, requester: requester, owner: owner}
}

// NewWriter binds requester to owner's profile for write operations.
func (fs *VectorFS) NewWriter(requester, owner identity.Identity) *Writer {
	return &Writer{fs: fs, requester: requester, owner: owner}
}

// Profiles returns the profile keys with state loaded in memory.
func (fs *VectorFS) Profiles() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]string, 0, len(fs.profiles))
	for key := range fs.profiles {
		out = append(out, key)
	}
	return out
}

// DeleteProfile removes owner's entire filesystem: the aggregate and every
// stored source blob, in one atomic batch. Only the owning profile may
// delete itself.
func (fs *VectorFS) DeleteProfile(ctx context.Context, requester, owner identity.Identity) error {
	key := owner.ProfileKey()
	if requester.ProfileKey() != key {
		return fmt.Errorf("%w: %s cannot delete profile %s", ErrPermissionDenied, requester, key)
	}
	state, err := fs.profile(ctx, owner)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	blobs, err := fs.store.PrefixScan(ctx, nsSource, key+"\x00")
	if err != nil {
		return fmt.Errorf("%w: scan source blobs for %s: %v", ErrBackend, key, err)
	}
	resources, err := fs.store.PrefixScan(ctx, nsResource, key+"\x00")
	if err != nil {
		return fmt.Errorf("%w: scan resource blobs for %s: %v", ErrBackend, key, err)
	}
	ops := make([]kv.Op, 0, len(blobs)+len(resources)+1)
	ops = append(ops, kv.Op{Namespace: nsInternals, Key: key, Delete: true})
	for _, blob := range blobs {
		ops = append(ops, kv.Op{Namespace: nsSource, Key: blob.Key, Delete: true})
	}
	for _, blob := range resources {
		ops = append(ops, kv.Op{Namespace: nsResource, Key: blob.Key, Delete: true})
	}
	if err := fs.store.WriteBatch(ctx, ops); err != nil {
		return fmt.Errorf("%w: delete profile %s: %v", ErrBackend, key, err)
	}
	// Callers still holding this state see a fresh empty profile on read,
	// and writers fail their commit instead of racing a replacement state.
	state.internals = NewInternals(key, fs.models)
	state.deleted = true

	fs.mu.Lock()
	delete(fs.profiles, key)
	fs.mu.Unlock()

	fs.log.Info("profile deleted", zap.String("profile", key), zap.Int("source_blobs", len(blobs)))
	return nil
}

// sourceKey is the KV key for an entry's raw source bytes.
func sourceKey(profile string, path vrpath.Path) string {
	return profile + "\x00" + path.String()
}

// resourceKey is the KV key a saved resource is stored under, scoping its
// reference key to the owning profile.
func resourceKey(profile, ref string) string {
	return profile + "\x00" + ref
}
