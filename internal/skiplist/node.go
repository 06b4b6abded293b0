package skiplist

import (
	"sync/atomic"

	"github.com/siltdb/ppdb/internal/syncutil"
)

// MaxLevel bounds node height, matching the MAX_LEVEL constant in
// original_source/ppdb/src/kvstore/internal/skiplist.h.
const MaxLevel = 32

// nodeState is the node lifecycle from spec §3: a node is inserting while
// its forward pointers are still being linked, valid once published,
// deleted once logically removed, and garbage only after deleted AND
// every reader has left (spec invariant 3.d).
type nodeState int32

const (
	stateInserting nodeState = iota
	stateValid
	stateDeleted
	stateGarbage
)

// node is a skiplist node. height is immutable once created; the forward
// pointers are atomic so lock-free readers and the CAS-linking writer can
// race safely. fieldLock guards key/value reads during an update so a
// reader never observes a half-written value (spec: "the old value's
// memory is released only after no reader can observe it").
type node struct {
	key      []byte
	value    []byte
	height   int
	next     []atomic.Pointer[node]
	fieldLock *syncutil.Sync
	refcount atomic.Int32
	state    atomic.Int32 // nodeState
}

func newNode(key, value []byte, height int, cfg syncutil.Config) *node {
	cfg.Kind = syncutil.KindRWMutex
	n := &node{
		key:       key,
		value:     value,
		height:    height,
		next:      make([]atomic.Pointer[node], height),
		fieldLock: syncutil.New(cfg),
	}
	n.refcount.Store(1) // one reference: owned by the list's own links
	n.state.Store(int32(stateInserting))
	return n
}

func (n *node) loadState() nodeState { return nodeState(n.state.Load()) }

// isTraversable reports whether n should be treated as a real node during
// search (spec §4.2: "skip over any node whose state is deleted or
// garbage ... treat them as if their key compares greater than the
// target for traversal").
func (n *node) isTraversable() bool {
	s := n.loadState()
	return s == stateValid
}

// acquire takes a transient reader reference. Returns false if the node is
// already garbage and must not be touched.
func (n *node) acquire() bool {
	if n.loadState() == stateGarbage {
		return false
	}
	n.refcount.Add(1)
	if n.loadState() == stateGarbage {
		n.release()
		return false
	}
	return true
}

// release drops a transient reader reference. When the count reaches zero
// on a logically-deleted node, it transitions to garbage and clears its
// payload, matching spec's "a node reaches garbage only after deleted,
// only after all readers have left".
func (n *node) release() {
	if n.refcount.Add(-1) == 0 && n.loadState() == stateDeleted {
		if n.state.CompareAndSwap(int32(stateDeleted), int32(stateGarbage)) {
			n.key = nil
			n.value = nil
		}
	}
}

// markDeleted transitions exactly one writer from valid to deleted.
func (n *node) markDeleted() bool {
	return n.state.CompareAndSwap(int32(stateValid), int32(stateDeleted))
}

// publish flips a freshly-linked node from inserting to valid.
func (n *node) publish() {
	n.state.Store(int32(stateValid))
}
