package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// namespaceSep joins namespace and key into one Badger key. Namespaces never
// contain a NUL byte.
const namespaceSep = "\x00"

// BadgerStore implements Store on Badger, for nodes that prefer a pure-LSM
// embedded store over SQLite.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens or creates a Badger database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(namespace, key string) []byte {
	return []byte(namespace + namespaceSep + key)
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *BadgerStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(namespace, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Put stores value under key.
func (s *BadgerStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(namespace, key), value)
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes key. Absent keys are not an error.
func (s *BadgerStore) Delete(ctx context.Context, namespace, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(namespace, key))
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// PrefixScan returns all entries whose key starts with prefix, sorted by key.
func (s *BadgerStore) PrefixScan(ctx context.Context, namespace, prefix string) ([]Entry, error) {
	fullPrefix := badgerKey(namespace, prefix)
	nsPrefix := []byte(namespace + namespaceSep)
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = fullPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			key := bytes.TrimPrefix(item.KeyCopy(nil), nsPrefix)
			out = append(out, Entry{Key: string(key), Value: value})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prefix scan %s/%s: %w", namespace, prefix, err)
	}
	return out, nil
}

// WriteBatch applies all ops in one transaction.
func (s *BadgerStore) WriteBatch(ctx context.Context, ops []Op) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			k := badgerKey(op.Namespace, op.Key)
			if op.Delete {
				if err := txn.Delete(k); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set(k, op.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
