// Package memtable implements the sharded memtable from spec §4.3: a
// fixed-cardinality array of independent skiplists chosen by a hash of
// the key, a shared memory budget, and a merging iterator. Grounded on
// the teacher's internal/memtable/memtable.go (freeze/size-tracking
// wrapper shape), generalized from a single skiplist instance into S
// independent shards; WAL ownership moves up to the write coordinator
// (internal/coordinator), since spec §2 has one WAL shared by all shards
// rather than one WAL per memtable.
package memtable

import (
	"hash/fnv"

	"github.com/siltdb/ppdb/internal/errs"
	"github.com/siltdb/ppdb/internal/skiplist"
	"github.com/siltdb/ppdb/internal/syncutil"
)

const (
	// DefaultShardCount matches spec §6's configuration default.
	DefaultShardCount = 16
	// DefaultBudgetBytes matches spec §6's memtable_budget_bytes default (64MiB).
	DefaultBudgetBytes = 64 << 20
)

// Config configures a Sharded memtable.
type Config struct {
	ShardCount  int
	BudgetBytes int64
	Skiplist    skiplist.Config
}

func (c Config) withDefaults() Config {
	if c.ShardCount <= 0 {
		c.ShardCount = DefaultShardCount
	}
	if c.BudgetBytes <= 0 {
		c.BudgetBytes = DefaultBudgetBytes
	}
	return c
}

// Sharded is the sharded memtable described by spec §4.3.
type Sharded struct {
	shards []*shard
	cfg    Config
	used   syncutil.Counter
	immut  syncutil.Counter // 0 mutable, 1 immutable (sealed for flush)
}

// New constructs an empty Sharded memtable.
func New(cfg Config) *Sharded {
	cfg = cfg.withDefaults()
	m := &Sharded{cfg: cfg}
	m.shards = make([]*shard, cfg.ShardCount)
	for i := range m.shards {
		m.shards[i] = newShard(cfg.Skiplist)
	}
	return m
}

// ShardCount returns the configured number of shards.
func (m *Sharded) ShardCount() int { return len(m.shards) }

// shardIndex picks a shard via FNV-1a-32 over the key bytes, per spec
// §4.3's explicit requirement (stable for the database's lifetime since
// ShardCount is fixed at Open time).
func (m *Sharded) shardIndex(key []byte) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32()) % len(m.shards)
}

// IsImmutable reports whether the memtable has been sealed for flush.
func (m *Sharded) IsImmutable() bool { return m.immut.Load() != 0 }

// MarkImmutable seals the memtable; subsequent ApplyPut/ApplyDelete calls
// fail with errs.Immutable while reads and iteration continue to work,
// per spec §4.3's "immutable mode".
func (m *Sharded) MarkImmutable() { m.immut.Store(1) }

// UsedBytes returns the best-effort tracked global byte usage.
func (m *Sharded) UsedBytes() int64 { return m.used.Load() }

// BudgetBytes returns the configured memory budget.
func (m *Sharded) BudgetBytes() int64 { return m.cfg.BudgetBytes }

// ApplyPut inserts or updates key/value in its shard. Returns
// errs.Immutable if sealed, errs.Full once global usage has already reached
// the budget (signalling the coordinator to seal and flush; the write that
// crosses the budget is itself accepted), or the shard's own skiplist error
// otherwise.
func (m *Sharded) ApplyPut(key, value []byte) error {
	if m.IsImmutable() {
		return errs.New(errs.Immutable, "memtable is sealed for flush")
	}
	if m.used.Load() >= m.cfg.BudgetBytes {
		return errs.New(errs.Full, "memtable budget exhausted")
	}

	sh := m.shards[m.shardIndex(key)]
	if err := sh.list.Insert(key, value); err != nil {
		return err
	}
	delta := recordOverhead(key, value)
	sh.usedBytes.Add(delta)
	m.used.Add(delta)
	return nil
}

// ApplyDelete logically removes key from its shard.
func (m *Sharded) ApplyDelete(key []byte) error {
	if m.IsImmutable() {
		return errs.New(errs.Immutable, "memtable is sealed for flush")
	}

	sh := m.shards[m.shardIndex(key)]
	before := sh.list.MemoryUsage()
	if err := sh.list.Delete(key); err != nil {
		return err
	}
	delta := before - sh.list.MemoryUsage()
	sh.usedBytes.Add(-delta)
	m.used.Add(-delta)
	return nil
}

// Lookup returns a copy of the current value for key, or errs.NotFound.
func (m *Sharded) Lookup(key []byte) ([]byte, error) {
	return m.shards[m.shardIndex(key)].list.Get(key)
}

// Size returns the total number of live keys across all shards.
func (m *Sharded) Size() int64 {
	var n int64
	for _, sh := range m.shards {
		n += sh.list.Size()
	}
	return n
}
