// Package ppdb is the public facade over the embedded key-value store
// core: a sharded memtable, a segmented write-ahead log, and a write
// coordinator tying the two together with flush-on-full behavior.
// Grounded on the teacher's pkg/kv/kv.go facade shape, generalized to
// return *errs.Error instead of matching on error strings.
package ppdb

import (
	"github.com/siltdb/ppdb/internal/coordinator"
	"github.com/siltdb/ppdb/internal/errs"
	"github.com/siltdb/ppdb/internal/memtable"
	"github.com/siltdb/ppdb/internal/wal"
)

// Options configures an opened DB. A zero Options uses the package
// defaults documented on memtable.Config and wal.Config.
type Options struct {
	// ShardCount is the number of independent memtable shards. Defaults
	// to memtable.DefaultShardCount.
	ShardCount int
	// MemtableBudgetBytes is the global memtable memory budget that
	// triggers a flush once exceeded. Defaults to memtable.DefaultBudgetBytes.
	MemtableBudgetBytes int64
	// SegmentSize is the WAL segment rollover threshold in bytes.
	// Defaults to wal.DefaultSegmentSize.
	SegmentSize int64
	// MaxSegments bounds how many WAL segment files, the open one
	// included, are kept; on rollover the oldest sealed ones beyond it are
	// force-dropped regardless of flush watermark. Zero means unlimited.
	MaxSegments int
	// SyncOnWrite fsyncs the WAL after every Put/Delete. Defaults to
	// false: records are then written out when the WAL buffer fills, on
	// segment rollover, or on Close, and fsynced only on rollover or Close.
	SyncOnWrite bool
}

func (o Options) toCoordinatorConfig(dir string) coordinator.Config {
	return coordinator.Config{
		Directory: dir,
		Memtable: memtable.Config{
			ShardCount:  o.ShardCount,
			BudgetBytes: o.MemtableBudgetBytes,
		},
		WAL: wal.Config{
			SegmentSize: o.SegmentSize,
			MaxSegments: o.MaxSegments,
		},
		SyncOnWrite: o.SyncOnWrite,
	}
}

// DB is an embedded key-value store rooted at a single directory.
type DB struct {
	c *coordinator.Coordinator
}

// Open opens (and if necessary creates) a database rooted at dir.
func Open(dir string, opts Options) (*DB, error) {
	if dir == "" {
		return nil, errs.New(errs.InvalidArg, "ppdb: directory cannot be empty")
	}
	c, err := coordinator.Open(opts.toCoordinatorConfig(dir))
	if err != nil {
		return nil, err
	}
	return &DB{c: c}, nil
}

// Close flushes pending WAL state and releases the database's directory lock.
func (db *DB) Close() error {
	return db.c.Close()
}

// Put stores value under key, overwriting any existing value. Returns an
// *errs.Error of kind errs.InvalidArg if key or value is empty or exceeds
// the configured size bounds; the coordinator checks this before the
// write ever reaches the WAL, so a rejected Put leaves no trace on disk.
func (db *DB) Put(key, value []byte) error {
	return db.c.Put(key, value)
}

// Get returns the current value for key, or an *errs.Error of kind
// errs.NotFound if it does not exist.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.c.Get(key)
}

// Delete removes key. Returns an *errs.Error of kind errs.NotFound if key
// has no live value in the current memtable, and of kind errs.InvalidArg if
// key is empty or out of bounds.
func (db *DB) Delete(key []byte) error {
	return db.c.Delete(key)
}

// Iterator yields the database's live keys in ascending order.
type Iterator struct {
	it *memtable.Iterator
}

// Key and Value return the entry the last Next call landed on.
func (it *Iterator) Next() bool    { return it.it.Next() }
func (it *Iterator) Key() []byte   { return it.it.Key() }
func (it *Iterator) Value() []byte { return it.it.Value() }

// Iterate returns a live iterator over the current memtable's contents,
// positioned before the first key. It takes no snapshot: writes made while
// it runs may or may not be seen, and keys from flushed generations are not
// included.
func (db *DB) Iterate() *Iterator {
	return &Iterator{it: db.c.Iterate()}
}
