// Package kv defines the namespaced key-value persistence backend and its
// SQLite, Badger, and in-memory implementations.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned by Get when the key is absent.
var ErrKeyNotFound = errors.New("key not found")

// Entry is one key-value pair returned by a prefix scan.
type Entry struct {
	Key   string
	Value []byte
}

// Op is one mutation in an atomic write batch. Delete removes the key;
// otherwise Value is written.
type Op struct {
	Namespace string
	Key       string
	Value     []byte
	Delete    bool
}

// Store is a namespaced key-value store. VectorFS persists one serialized
// aggregate per profile under a well-known key, and VRKai/VRPack blobs under
// content/path-derived keys. Implementations must apply WriteBatch
// atomically: either every op lands or none do.
//
// Stores are safe for concurrent use across profiles.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	PrefixScan(ctx context.Context, namespace, prefix string) ([]Entry, error)
	WriteBatch(ctx context.Context, ops []Op) error
	Close() error
}

// Open creates a store for the given backend name: "sqlite", "badger", or
// "memory". path is the database location (ignored for memory).
func Open(backend, path string) (Store, error) {
	switch backend {
	case "sqlite", "":
		return NewSQLiteStore(path)
	case "badger":
		return NewBadgerStore(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: sqlite, badger, memory)", backend)
	}
}

// prefixEnd returns the smallest string greater than every string with the
// given prefix, or "" when no such bound exists (all 0xff).
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
