package memtable

import (
	"bytes"
	"container/heap"

	"golang.org/x/sync/errgroup"

	"github.com/siltdb/ppdb/internal/skiplist"
)

// Iterator yields the sharded memtable's keys in global ascending order by
// k-way merging each shard's own live iterator, per spec §4.3: "iteration
// presents a single globally sorted view across all shards." Ties cannot
// occur across shards since a key maps to exactly one shard, so no
// shard-id tiebreak is needed at the heap level.
type Iterator struct {
	heap     mergeHeap
	curKey   []byte
	curValue []byte
}

type mergeEntry struct {
	it  *skiplist.Iterator
	key []byte
}

type mergeHeap []*mergeEntry

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return bytes.Compare(h[i].key, h[j].key) < 0 }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*mergeEntry)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// NewIterator returns a merged iterator over every shard's current
// contents, positioned before the first key.
func (m *Sharded) NewIterator() *Iterator {
	it := &Iterator{}
	for _, sh := range m.shards {
		sit := sh.list.NewIterator()
		if sit.Next() {
			heap.Push(&it.heap, &mergeEntry{it: sit, key: sit.Key()})
		}
	}
	heap.Init(&it.heap)
	return it
}

// Next advances to the next globally smallest key. Returns false once every
// shard iterator is exhausted.
func (it *Iterator) Next() bool {
	if it.heap.Len() == 0 {
		return false
	}
	top := it.heap[0]
	it.curKey, it.curValue = top.key, top.it.Value()
	if top.it.Next() {
		top.key = top.it.Key()
		heap.Fix(&it.heap, 0)
	} else {
		heap.Pop(&it.heap)
	}
	return true
}

// Key and Value return the entry the last Next call landed on.
func (it *Iterator) Key() []byte   { return it.curKey }
func (it *Iterator) Value() []byte { return it.curValue }

// FreezeSnapshot seals m (per spec §4.5's SEALING step) and, once sealed,
// concurrently reads every shard's byte usage to produce a consistent
// total — the only part of a flush handoff a memtable itself performs; the
// write coordinator drives the rest of the state machine. Using errgroup
// here mirrors the concurrent-fan-out style the example corpus uses for
// bounded parallel work over a fixed slice of shards.
func (m *Sharded) FreezeSnapshot() (liveKeys int64, usedBytes int64, err error) {
	m.MarkImmutable()

	var g errgroup.Group
	totals := make([]int64, len(m.shards))
	counts := make([]int64, len(m.shards))
	for i, sh := range m.shards {
		i, sh := i, sh
		g.Go(func() error {
			totals[i] = sh.usedBytes.Load()
			counts[i] = sh.list.Size()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	for i := range m.shards {
		usedBytes += totals[i]
		liveKeys += counts[i]
	}
	return liveKeys, usedBytes, nil
}
