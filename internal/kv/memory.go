package kv

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store for tests and ephemeral nodes.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // namespace -> key -> value
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *MemoryStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.data[namespace]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, ErrKeyNotFound)
	}
	value, ok := ns[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, ErrKeyNotFound)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores value under key.
func (s *MemoryStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(namespace, key, value)
	return nil
}

func (s *MemoryStore) putLocked(namespace, key string, value []byte) {
	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		s.data[namespace] = ns
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	ns[key] = stored
}

// Delete removes key. Absent keys are not an error.
func (s *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

// PrefixScan returns all entries whose key starts with prefix, sorted by key.
func (s *MemoryStore) PrefixScan(ctx context.Context, namespace, prefix string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.data[namespace]
	if !ok {
		return nil, nil
	}
	var out []Entry
	for key, value := range ns {
		if strings.HasPrefix(key, prefix) {
			v := make([]byte, len(value))
			copy(v, value)
			out = append(out, Entry{Key: key, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// WriteBatch applies all ops under one lock acquisition.
func (s *MemoryStore) WriteBatch(ctx context.Context, ops []Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		if op.Delete {
			if ns, ok := s.data[op.Namespace]; ok {
				delete(ns, op.Key)
			}
			continue
		}
		s.putLocked(op.Namespace, op.Key, op.Value)
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
