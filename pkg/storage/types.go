// Package storage provides the primary store used by every index.
//
// The store is a transactional, MVCC key-value engine. Indexes never hold
// their own copy of persisted state: they read and write archived records
// through Txn/ReadTxn and hand out guards that borrow the bytes returned by
// ReadTxn.Get for as long as the read transaction stays open.
//
// Key layout (string prefixes, one namespace per index):
//
//	struct:{property}:{value}  -> archived id list   (structural index)
//	out:{entity}               -> archived pair list (graph index, outgoing)
//	in:{entity}                -> archived pair list (graph index, incoming)
//	intent:{uuid}              -> pending bidirectional edge write
//
// Example Usage:
//
//	store, err := storage.NewBadgerStore(storage.BadgerOptions{DataDir: "./data"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	err = store.Update(func(txn storage.Txn) error {
//		return txn.Set([]byte("struct:chat_id:c1"), record)
//	})
package storage

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrStorageClosed = errors.New("storage closed")
	ErrInvalidKey    = errors.New("invalid key")
	ErrInvalidID     = errors.New("invalid id")

	// ErrStoreFailure wraps any failure reported by the underlying engine.
	// The original engine error is preserved in the chain.
	ErrStoreFailure = errors.New("store failure")

	// ErrCorruption is returned when a persisted record fails validation.
	ErrCorruption = errors.New("corrupted record")

	ErrIterationStopped = errors.New("iteration stopped") // Sentinel to stop Iterate early
)

// ReadTxn is a consistent read-only view of the store.
//
// Slices returned by Get stay valid until Discard is called. Slices passed
// to an Iterate callback are only valid during that callback.
type ReadTxn interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Iterate calls fn for every key with the given prefix in key order.
	// Returning ErrIterationStopped from fn ends the scan without error.
	Iterate(prefix []byte, fn func(key, value []byte) error) error

	// Discard releases the snapshot. Safe to call more than once.
	Discard()
}

// Txn is a read-write transaction. Writes become visible to other readers
// only after the enclosing Update commits.
type Txn interface {
	ReadTxn
	Set(key, value []byte) error
	Delete(key []byte) error
}

// Store is the primary store contract consumed by the indexes.
type Store interface {
	// View runs fn in a short-lived read transaction.
	View(fn func(txn ReadTxn) error) error

	// Update runs fn in a read-write transaction and commits it when fn
	// returns nil. An error from fn is returned unchanged and nothing is
	// written.
	Update(fn func(txn Txn) error) error

	// BeginRead opens a long-lived read transaction. The caller owns it
	// and must Discard it; guards use this to keep borrowed bytes alive.
	BeginRead() (ReadTxn, error)

	Close() error
}

// Stats describes the on-disk footprint of a store.
type Stats struct {
	LSMBytes  int64
	VLogBytes int64
}

// Key prefixes for the index namespaces.
const (
	PrefixStructural = "struct:"
	PrefixOutgoing   = "out:"
	PrefixIncoming   = "in:"
	PrefixIntent     = "intent:"
)

// StructuralKey builds "struct:{property}:{value}".
func StructuralKey(property, value string) []byte {
	key := make([]byte, 0, len(PrefixStructural)+len(property)+1+len(value))
	key = append(key, PrefixStructural...)
	key = append(key, property...)
	key = append(key, ':')
	key = append(key, value...)
	return key
}

// StructuralPrefix returns the scan prefix for every value of a property.
func StructuralPrefix(property string) []byte {
	key := make([]byte, 0, len(PrefixStructural)+len(property)+1)
	key = append(key, PrefixStructural...)
	key = append(key, property...)
	key = append(key, ':')
	return key
}

// OutgoingKey builds "out:{entity}".
func OutgoingKey(entity string) []byte {
	return append([]byte(PrefixOutgoing), entity...)
}

// IncomingKey builds "in:{entity}".
func IncomingKey(entity string) []byte {
	return append([]byte(PrefixIncoming), entity...)
}

// IntentKey builds "intent:{id}".
func IntentKey(id string) []byte {
	return append([]byte(PrefixIntent), id...)
}

// TrimPrefix returns key without prefix, or "" if key does not carry it.
func TrimPrefix(key []byte, prefix string) string {
	if len(key) < len(prefix) || string(key[:len(prefix)]) != prefix {
		return ""
	}
	return string(key[len(prefix):])
}

// storeFailure wraps an engine error so callers can match ErrStoreFailure
// while keeping the original cause reachable.
func storeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}
