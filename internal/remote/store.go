// Package remote defines the hierarchical key-value store boundary the
// event core runs against: point reads/writes, bulk multi-path writes,
// append-with-generated-key, and change subscription on a subtree.
package remote

import (
	"context"
	"encoding/json"
)

// Snapshot is the complete set of records under a subscribed prefix at one
// point in time, keyed by child key (the record id). Empty when the subtree
// does not exist.
type Snapshot map[string]json.RawMessage

// CancelFunc detaches a subscription. Further snapshots stop; writes
// already in flight are not cancelled.
type CancelFunc func()

// Store is the remote realtime store. Implementations must deliver an
// initial snapshot immediately upon Subscribe, then one snapshot per
// mutation of the subtree. Subscription errors go to onError, never panic.
type Store interface {
	// Get reads the record at path. Returns errs.ErrNotFound when absent.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// GetAll returns every record directly under prefix. An absent subtree
	// yields an empty snapshot, not an error.
	GetAll(ctx context.Context, prefix string) (Snapshot, error)

	// Set writes value at path, overwriting any previous record.
	Set(ctx context.Context, path string, value any) error

	// SetMulti applies all writes in one round-trip. A nil value deletes
	// the path, mirroring delete-via-null-write.
	SetMulti(ctx context.Context, updates map[string]any) error

	// Push appends value under prefix with a store-generated key and
	// returns that key. A nil value reserves the key without writing.
	Push(ctx context.Context, prefix string, value any) (string, error)

	// Delete removes the record at path. Deleting a missing path is a no-op.
	Delete(ctx context.Context, path string) error

	// Subscribe registers for live snapshots of the subtree under prefix.
	Subscribe(prefix string, onSnapshot func(Snapshot), onError func(error)) CancelFunc
}
