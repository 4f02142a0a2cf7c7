package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore provides the primary store on top of BadgerDB.
//
// Features:
//   - Serializable multi-key transactions (optimistic, MVCC)
//   - Snapshot reads that never block writers
//   - Memory-mapped tables, so values read in a transaction are borrowed
//     rather than copied
//   - Automatic crash recovery from Badger's own write-ahead log
//
// Example:
//
//	store, err := storage.NewBadgerStore(storage.BadgerOptions{
//		DataDir:   "./data/tabindex",
//		LowMemory: true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
type BadgerStore struct {
	db     *badger.DB
	mu     sync.RWMutex // Protects closed
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger receives BadgerDB internal logging.
	// If nil, Badger logging is silenced.
	Logger *slog.Logger

	// LowMemory enables memory-constrained settings.
	// Reduces MemTableSize and other buffers to use less RAM.
	LowMemory bool
}

// NewBadgerStore opens (or creates) a BadgerDB-backed store.
//
// Parameters:
//   - opts: BadgerOptions with the data directory and tuning flags
//
// Returns:
//   - *BadgerStore on success
//   - error wrapping ErrStoreFailure if the database cannot be opened
//
// Configuration Trade-offs:
//   - SyncWrites=true: Slower writes (2-5x) but maximum safety
//   - LowMemory=true: Less RAM but slightly slower
//   - InMemory=true: Fastest but data lost on shutdown
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(&badgerLogger{log: opts.Logger})
	} else {
		// Use a quiet logger by default
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).     // 16MB instead of 64MB
			WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
			WithNumMemtables(2).            // 2 instead of 5
			WithNumLevelZeroTables(2).      // 2 instead of 5
			WithNumLevelZeroTablesStall(4). // 4 instead of 15
			WithBlockCacheSize(32 << 20).   // 32MB block cache
			WithIndexCacheSize(16 << 20)    // 16MB index cache
	}

	// Adjacency and id lists are read far more often than written; keep
	// them in the LSM tree next to their keys.
	badgerOpts = badgerOpts.WithValueThreshold(1 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", storeFailure("open", err))
	}

	return &BadgerStore{db: db}, nil
}

// NewBadgerStoreInMemory creates an in-memory store for testing.
//
// Data is not persisted and is lost when the store is closed.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	return NewBadgerStore(BadgerOptions{InMemory: true})
}

func (b *BadgerStore) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// View runs fn in a read-only transaction.
func (b *BadgerStore) View(fn func(txn ReadTxn) error) error {
	if b.isClosed() {
		return ErrStorageClosed
	}

	var fnErr error
	err := b.db.View(func(txn *badger.Txn) error {
		fnErr = fn(&badgerTxn{txn: txn})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return storeFailure("view", err)
	}
	return nil
}

// Update runs fn in a read-write transaction and commits on success.
func (b *BadgerStore) Update(fn func(txn Txn) error) error {
	if b.isClosed() {
		return ErrStorageClosed
	}

	var fnErr error
	err := b.db.Update(func(txn *badger.Txn) error {
		fnErr = fn(&badgerTxn{txn: txn})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return storeFailure("commit", err)
	}
	return nil
}

// BeginRead opens a long-lived read transaction.
//
// Holding a read transaction pins the versions it can see; Badger will not
// garbage-collect them until Discard. Keep guards short-lived.
func (b *BadgerStore) BeginRead() (ReadTxn, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return &badgerTxn{txn: b.db.NewTransaction(false)}, nil
}

// Close closes the BadgerDB database.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	if err := b.db.Close(); err != nil {
		return storeFailure("close", err)
	}
	return nil
}

// Sync forces a sync of all data to disk.
func (b *BadgerStore) Sync() error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	if err := b.db.Sync(); err != nil {
		return storeFailure("sync", err)
	}
	return nil
}

// RunGC runs garbage collection on the BadgerDB value log.
// Should be called periodically for long-running applications.
func (b *BadgerStore) RunGC() error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	err := b.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return storeFailure("gc", err)
	}
	return nil
}

// Stats returns the approximate size of the database.
func (b *BadgerStore) Stats() Stats {
	if b.isClosed() {
		return Stats{}
	}
	lsm, vlog := b.db.Size()
	return Stats{LSMBytes: lsm, VLogBytes: vlog}
}

// badgerTxn adapts *badger.Txn to Txn and ReadTxn.
type badgerTxn struct {
	txn       *badger.Txn
	discarded bool
}

// Get returns the value without copying it. The slice is owned by Badger
// and stays valid until the transaction is discarded or committed.
func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeFailure("get", err)
	}

	var value []byte
	if err := item.Value(func(val []byte) error {
		value = val
		return nil
	}); err != nil {
		return nil, storeFailure("get", err)
	}
	return value, nil
}

func (t *badgerTxn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = true
	opts.PrefetchSize = 10
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var fnErr error
		err := item.Value(func(val []byte) error {
			fnErr = fn(item.Key(), val)
			return fnErr
		})
		if fnErr != nil {
			if errors.Is(fnErr, ErrIterationStopped) {
				return nil
			}
			return fnErr
		}
		if err != nil {
			return storeFailure("iterate", err)
		}
	}
	return nil
}

func (t *badgerTxn) Set(key, value []byte) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}
	if err := t.txn.Set(key, value); err != nil {
		return storeFailure("set", err)
	}
	return nil
}

func (t *badgerTxn) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}
	if err := t.txn.Delete(key); err != nil {
		return storeFailure("delete", err)
	}
	return nil
}

func (t *badgerTxn) Discard() {
	if t.discarded {
		return
	}
	t.discarded = true
	t.txn.Discard()
}

// badgerLogger routes Badger's internal logging into slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
