// Package structural implements the property index: for every
// (property, value) pair it keeps the ordered set of entity ids carrying
// that value, stored as one archived record under "struct:{property}:{value}".
//
// Lookups return a zerocopy.IDs guard that reads the record in place.
//
// Example:
//
//	idx := structural.New(store, nil, logger)
//	_ = idx.Put("chat_id", "c1", "n1")
//	_ = idx.Put("chat_id", "c1", "n2")
//
//	ids, err := idx.Query("chat_id", "c1")
//	if err != nil {
//		return err
//	}
//	defer ids.Close()
//	for it := ids.Iter(); it.Next(); {
//		fmt.Println(it.ID()) // n1, n2
//	}
package structural

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
	"github.com/ocentra/TabAgentServer-sub005/pkg/zerocopy"
)

// Index is the structural (property → ids) index.
//
// Writers to the same key serialize on a striped key lock and then on the
// store transaction; writers to different keys proceed in parallel.
// Readers never block.
type Index struct {
	store storage.Store
	locks *storage.KeyLocks
	log   *slog.Logger
}

// New creates an index over store. A nil locks table gets a private one;
// pass a shared table when other writers (batches) touch the same keys.
func New(store storage.Store, locks *storage.KeyLocks, logger *slog.Logger) *Index {
	if locks == nil {
		locks = storage.NewKeyLocks(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		store: store,
		locks: locks,
		log:   logger.With("component", "structural"),
	}
}

func validate(property, id string) error {
	if property == "" {
		return fmt.Errorf("%w: empty property", storage.ErrInvalidKey)
	}
	if id == "" {
		return storage.ErrInvalidID
	}
	return nil
}

// Put adds entityID to the set for (property, value). Adding an id that is
// already present is a no-op.
func (x *Index) Put(property, value, entityID string) error {
	if err := validate(property, entityID); err != nil {
		return err
	}
	unlock := x.locks.Lock(storage.StructuralKey(property, value))
	defer unlock()

	return x.store.Update(func(txn storage.Txn) error {
		return x.PutTxn(txn, property, value, entityID)
	})
}

// PutTxn is Put inside a caller-owned transaction. The caller is
// responsible for holding the key lock.
func (x *Index) PutTxn(txn storage.Txn, property, value, entityID string) error {
	if err := validate(property, entityID); err != nil {
		return err
	}
	key := storage.StructuralKey(property, value)

	cur, err := get(txn, key)
	if err != nil {
		return err
	}
	next, added, err := zerocopy.AppendID(cur, entityID)
	if err != nil {
		return fmt.Errorf("structural put %s=%s: %w", property, value, err)
	}
	if !added {
		return nil
	}
	x.log.Debug("put", "property", property, "value", value, "id", entityID)
	return txn.Set(key, next)
}

// Remove drops entityID from the set for (property, value). The entry is
// deleted when it becomes empty. Removing an absent id is a no-op.
func (x *Index) Remove(property, value, entityID string) error {
	if err := validate(property, entityID); err != nil {
		return err
	}
	unlock := x.locks.Lock(storage.StructuralKey(property, value))
	defer unlock()

	return x.store.Update(func(txn storage.Txn) error {
		return x.RemoveTxn(txn, property, value, entityID)
	})
}

// RemoveTxn is Remove inside a caller-owned transaction.
func (x *Index) RemoveTxn(txn storage.Txn, property, value, entityID string) error {
	if err := validate(property, entityID); err != nil {
		return err
	}
	key := storage.StructuralKey(property, value)

	cur, err := get(txn, key)
	if err != nil || cur == nil {
		return err
	}
	next, removed, err := zerocopy.RemoveID(cur, entityID)
	if err != nil {
		return fmt.Errorf("structural remove %s=%s: %w", property, value, err)
	}
	if !removed {
		return nil
	}
	x.log.Debug("remove", "property", property, "value", value, "id", entityID)
	if next == nil {
		return txn.Delete(key)
	}
	return txn.Set(key, next)
}

// Query returns a guard over the ids for (property, value), or nil when
// there are none. The guard holds a read transaction open until Close.
func (x *Index) Query(property, value string) (*zerocopy.IDs, error) {
	rtx, err := x.store.BeginRead()
	if err != nil {
		return nil, err
	}
	buf, err := get(rtx, storage.StructuralKey(property, value))
	if err != nil || buf == nil {
		rtx.Discard()
		return nil, err
	}
	ids, err := zerocopy.NewIDs(zerocopy.NewScope(rtx.Discard), true, buf)
	if err != nil {
		rtx.Discard()
		x.log.Error("corrupted structural entry", "property", property, "value", value, "error", err)
		return nil, err
	}
	return ids, nil
}

// Count returns the number of ids for (property, value).
func (x *Index) Count(property, value string) (int, error) {
	var n int
	err := x.store.View(func(txn storage.ReadTxn) error {
		buf, err := get(txn, storage.StructuralKey(property, value))
		if err != nil || buf == nil {
			return err
		}
		n, err = zerocopy.Count(buf, zerocopy.KindIDs)
		return err
	})
	return n, err
}

// Values calls fn for every indexed value of property with its id count,
// in key order. Returning storage.ErrIterationStopped stops the scan.
func (x *Index) Values(property string, fn func(value string, count int) error) error {
	prefix := storage.StructuralPrefix(property)
	return x.store.View(func(txn storage.ReadTxn) error {
		return txn.Iterate(prefix, func(key, val []byte) error {
			n, err := zerocopy.Count(val, zerocopy.KindIDs)
			if err != nil {
				return fmt.Errorf("structural key %q: %w", key, err)
			}
			return fn(string(key[len(prefix):]), n)
		})
	})
}

// get returns nil, nil for a missing key.
func get(txn storage.ReadTxn, key []byte) ([]byte, error) {
	buf, err := txn.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return buf, err
}
