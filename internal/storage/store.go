// Package storage implements the durable key-value store backing the
// mutation queue, the read caches, staged blobs and engine metadata. The
// store must survive process restarts; callers await every write before
// treating the corresponding in-memory state as durable.
package storage

import "context"

// Well-known key prefixes. One SQLite table holds every namespace, the way
// the original app kept one IndexedDB with a store per concern.
const (
	PrefixQueue   = "queue/"
	PrefixQueueID = "queueid/"
	PrefixMeta    = "meta/"
	PrefixCache   = "cache/"
	PrefixBlob    = "blob/"
	PrefixAuth    = "auth/"
)

// Store is a persistent keyed container. There is no eviction: the store
// holds pending work only, and running out of capacity is surfaced as
// common.ErrStorageQuotaExceeded rather than silently dropped.
type Store interface {
	// Put writes value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the value under key, or common.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns all keys with the given prefix in ascending
	// lexicographic order.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Transactional is implemented by stores that can apply several writes
// atomically. Callers fall back to individual writes when the store does
// not support it.
type Transactional interface {
	Update(ctx context.Context, fn func(Store) error) error
}
