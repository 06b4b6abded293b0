package memtable

import (
	"github.com/siltdb/ppdb/internal/skiplist"
	"github.com/siltdb/ppdb/internal/syncutil"
)

// shard is one independent partition of the key space: a skiplist plus
// its own used-bytes counter, matching spec §3's Shard data model.
type shard struct {
	list      *skiplist.List
	usedBytes syncutil.Counter
}

func newShard(cfg skiplist.Config) *shard {
	return &shard{list: skiplist.New(cfg)}
}

func recordOverhead(key, value []byte) int64 {
	return int64(32 + len(key) + len(value)) // node_overhead + key_size + value_size, spec §4.3
}
